package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/ledger/store"
	"github.com/warp/billing-engine/policy"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type capturedPayment struct {
	HolderID  ledger.HolderID
	MethodRef string
	Amount    ledger.Money
	Token     string
}

// fakeGateway records every capture and can be told to decline or fail.
type fakeGateway struct {
	mu       sync.Mutex
	captures []capturedPayment
	decline  string // non-empty declines with this detail
	err      error
}

func (g *fakeGateway) ProcessPayment(_ context.Context, holderID ledger.HolderID, methodRef string, amount ledger.Money, token string) (billing.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return billing.PaymentResult{}, g.err
	}
	if g.decline != "" {
		return billing.PaymentResult{Success: false, Detail: g.decline}, nil
	}
	g.captures = append(g.captures, capturedPayment{
		HolderID: holderID, MethodRef: methodRef, Amount: amount, Token: token,
	})
	return billing.PaymentResult{Success: true, GatewayTransactionID: "fake-gw-1"}, nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.captures)
}

func (g *fakeGateway) lastCapture() capturedPayment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures[len(g.captures)-1]
}

// fakeSink records published events.
type fakeSink struct {
	mu     sync.Mutex
	events []billing.Event
}

func (s *fakeSink) Publish(_ context.Context, e billing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Name
	}
	return out
}

// fakeFlows is an in-memory FlowStore.
type fakeFlows struct {
	mu         sync.Mutex
	bookings   map[string]billing.Booking
	milestones map[string]billing.Milestone
}

func newFakeFlows() *fakeFlows {
	return &fakeFlows{
		bookings:   make(map[string]billing.Booking),
		milestones: make(map[string]billing.Milestone),
	}
}

func (f *fakeFlows) SaveBooking(_ context.Context, b billing.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b
	return nil
}

func (f *fakeFlows) GetBooking(_ context.Context, id string) (*billing.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeFlows) SaveMilestone(_ context.Context, m billing.Milestone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones[m.ID] = m
	return nil
}

func (f *fakeFlows) GetMilestone(_ context.Context, id string) (*billing.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.milestones[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// =============================================================================
// HARNESS
// =============================================================================

// baseTime is the pinned clock for every flow test. The seed policy
// activates one month earlier so it is always in effect.
var baseTime = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch     *billing.Orchestrator
	mem      *store.Memory
	ledger   ledger.Ledger
	balances *balance.Manager
	gateway  *fakeGateway
	sink     *fakeSink
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	registry, err := policy.NewRegistry(ctx, policy.NewMemoryStore())
	require.NoError(t, err)
	_, err = registry.CreatePolicy(ctx, policy.DefaultDraft(baseTime.AddDate(0, -1, 0)))
	require.NoError(t, err)

	mem := store.NewMemory()
	l := ledger.New(mem)
	balances := balance.NewManager(mem)
	gateway := &fakeGateway{}
	sink := &fakeSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		mem:      mem,
		ledger:   l,
		balances: balances,
		gateway:  gateway,
		sink:     sink,
		now:      baseTime,
	}
	h.orch = billing.NewOrchestrator(policy.NewCalculator(registry), l, balances,
		gateway, sink, newFakeFlows(), logger)
	h.orch.Now = func() time.Time { return h.now }
	return h
}

func usd(s string) ledger.Money {
	return ledger.Money{Amount: ledger.MustParseDecimal(s), Currency: ledger.CurrencyUSD}
}

func (h *harness) accountBalance(t *testing.T, account ledger.Account) decimal.Decimal {
	t.Helper()
	m, err := h.ledger.AccountBalance(context.Background(), account, ledger.CurrencyUSD)
	require.NoError(t, err)
	return m.Amount
}

// =============================================================================
// LISTING FEE
// =============================================================================

func TestChargeListing_CapturesFeeOnly(t *testing.T) {
	// GIVEN: A 200.00 listing under the 3% listing rate
	// WHEN: Charging the owner
	// THEN: The gateway captures 6.00, not the listing price

	h := newHarness(t)

	tx, err := h.orch.ChargeListing(context.Background(), billing.ListingChargeRequest{
		OwnerID:          "owner-1",
		ListingID:        "listing-1",
		Price:            usd("200.00"),
		MethodRef:        "pm-1",
		IdempotencyToken: "list-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxListingFee, tx.Type)
	assert.True(t, tx.Fee.Amount.Equal(decimal.NewFromInt(6)))

	require.Equal(t, 1, h.gateway.captureCount())
	captured := h.gateway.lastCapture()
	assert.True(t, captured.Amount.Amount.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, "pm-1", captured.MethodRef)

	assert.True(t, h.accountBalance(t, ledger.AccountPlatformRevenue).Equal(decimal.NewFromInt(6)))
	assert.Equal(t, []string{"listing.charged"}, h.sink.names())
}

// =============================================================================
// PAYOUT
// =============================================================================

func TestPayout_MovesRevenueToPayee(t *testing.T) {
	// GIVEN: 6.00 of accumulated platform revenue
	// WHEN: Paying 4.00 out to a payee
	// THEN: Revenue drops to 2.00 and the payee receivable rises by 4.00

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.ChargeListing(ctx, billing.ListingChargeRequest{
		OwnerID: "owner-1", ListingID: "listing-1",
		Price: usd("200.00"), MethodRef: "pm-1", IdempotencyToken: "list-1",
	})
	require.NoError(t, err)

	tx, err := h.orch.Payout(ctx, billing.PayoutRequest{
		PayeeID:          "provider-1",
		Amount:           usd("4.00"),
		IdempotencyToken: "payout-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxPayout, tx.Type)

	assert.True(t, h.accountBalance(t, ledger.AccountPlatformRevenue).Equal(decimal.NewFromInt(2)))
	assert.True(t, h.accountBalance(t, ledger.AccountPayeeReceivable).Equal(decimal.NewFromInt(4)))
}

func TestPayout_NonPositiveAmount_Rejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Payout(context.Background(), billing.PayoutRequest{
		PayeeID: "provider-1", Amount: usd("0"), IdempotencyToken: "payout-1",
	})
	assert.Error(t, err)
}

// =============================================================================
// ORDERING RULES
// =============================================================================

func TestGatewayError_ProducesNoLedgerMutation(t *testing.T) {
	// GIVEN: A gateway that fails outright
	// WHEN: Charging a listing
	// THEN: The flow aborts before any ledger write and no event fires

	h := newHarness(t)
	h.gateway.err = errors.New("gateway unreachable")

	_, err := h.orch.ChargeListing(context.Background(), billing.ListingChargeRequest{
		OwnerID: "owner-1", ListingID: "listing-1",
		Price: usd("200.00"), MethodRef: "pm-1", IdempotencyToken: "list-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrGatewayFailure)

	assert.True(t, h.accountBalance(t, ledger.AccountPlatformRevenue).IsZero())
	assert.Empty(t, h.sink.names())
}
