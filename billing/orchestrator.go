/*
orchestrator.go - The billing composition root

PURPOSE:
  Wires the policy calculator, ledger, balance manager, payment gateway,
  event sink, and flow store into one place, and hosts the flows that are
  not tied to a booking or milestone (listing fees, payouts).

RETRY CONTRACT:
  Every flow takes an idempotency token and forwards it to both the
  gateway and the ledger. A retried flow with the same token returns the
  previously recorded transaction and performs no new writes.

SEE ALSO:
  - booking.go: Booking charge and tiered cancellation
  - escrow.go: Milestone fund / release / cancel
  - wallet.go: Prepaid wallet top-up and usage billing
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	Calc     *policy.Calculator
	Ledger   ledger.Ledger
	Balances *balance.Manager
	Gateway  PaymentGateway
	Events   EventSink
	Flows    FlowStore
	Logger   *slog.Logger

	// Now is injectable so refund tiers and policy resolution can be
	// tested against a pinned clock.
	Now func() time.Time
}

func NewOrchestrator(calc *policy.Calculator, l ledger.Ledger, balances *balance.Manager, gateway PaymentGateway, events EventSink, flows FlowStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if gateway == nil {
		gateway = StubGateway{}
	}
	if events == nil {
		events = LogSink{Logger: logger}
	}
	return &Orchestrator{
		Calc:     calc,
		Ledger:   l,
		Balances: balances,
		Gateway:  gateway,
		Events:   events,
		Flows:    flows,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// capture runs the gateway BEFORE any ledger mutation. A decline or error
// aborts the flow with a GatewayError; nothing has been written yet.
func (o *Orchestrator) capture(ctx context.Context, holderID ledger.HolderID, methodRef string, amount ledger.Money, token string) error {
	result, err := o.Gateway.ProcessPayment(ctx, holderID, methodRef, amount, token)
	if err != nil {
		return &ledger.GatewayError{HolderID: holderID, Detail: err.Error()}
	}
	if !result.Success {
		return &ledger.GatewayError{HolderID: holderID, Detail: result.Detail}
	}
	return nil
}

// emit publishes after commit. Failures are logged, never propagated.
func (o *Orchestrator) emit(ctx context.Context, name string, tx ledger.Transaction) {
	e := Event{
		Name:          name,
		TransactionID: tx.ID,
		Type:          tx.Type,
		ReferenceID:   tx.ReferenceID,
		Gross:         tx.Gross,
		Fee:           tx.Fee,
		Net:           tx.Net,
		PolicyVersion: tx.PolicyVersion,
		At:            o.Now(),
	}
	if err := o.Events.Publish(ctx, e); err != nil {
		o.Logger.Warn("event publish failed",
			"event", name, "transaction_id", tx.ID, "error", err)
	}
}

// =============================================================================
// LISTING FEE
// =============================================================================

type ListingChargeRequest struct {
	OwnerID          ledger.HolderID
	ListingID        string
	Region           string
	Price            ledger.Money
	MethodRef        string
	IdempotencyToken string
}

// ChargeListing bills the owner the listing fee for publishing at Price.
// Only the fee is captured; the listing price itself never moves here.
func (o *Orchestrator) ChargeListing(ctx context.Context, req ListingChargeRequest) (ledger.Transaction, error) {
	breakdown, err := o.Calc.CalculateFee(req.Price, policy.OpListing, req.Region, o.Now())
	if err != nil {
		return ledger.Transaction{}, err
	}

	if err := o.capture(ctx, req.OwnerID, req.MethodRef, breakdown.Fee, req.IdempotencyToken); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxListingFee,
		ReferenceID:      req.ListingID,
		HolderID:         req.OwnerID,
		Gross:            breakdown.Gross,
		Fee:              breakdown.Fee,
		Net:              breakdown.Net,
		PolicyVersion:    breakdown.PolicyVersion,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	o.emit(ctx, "listing.charged", tx)
	return tx, nil
}

// =============================================================================
// PAYOUT
// =============================================================================

type PayoutRequest struct {
	PayeeID          string
	Amount           ledger.Money
	IdempotencyToken string
}

// Payout moves accumulated platform revenue out to a payee.
func (o *Orchestrator) Payout(ctx context.Context, req PayoutRequest) (ledger.Transaction, error) {
	if !req.Amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("payout amount must be positive")
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxPayout,
		ReferenceID:      req.PayeeID,
		Gross:            req.Amount,
		Fee:              req.Amount.Zero(),
		Net:              req.Amount,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	o.emit(ctx, "payout.completed", tx)
	return tx, nil
}
