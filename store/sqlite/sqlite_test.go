package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
	"github.com/warp/billing-engine/reconcile"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func usd(s string) ledger.Money {
	return ledger.Money{Amount: ledger.MustParseDecimal(s), Currency: ledger.CurrencyUSD}
}

func txFixture(id ledger.TransactionID, token string) ledger.Transaction {
	return ledger.Transaction{
		ID:               id,
		Type:             ledger.TxBookingFee,
		ReferenceID:      "booking-1",
		HolderID:         "buyer-1",
		Gross:            usd("1000.00"),
		Fee:              usd("50.00"),
		Net:              usd("950.00"),
		Currency:         ledger.CurrencyUSD,
		PolicyVersion:    1,
		IdempotencyToken: token,
		Status:           ledger.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

func saveWallet(t *testing.T, st *sqlite.Store, id ledger.HolderID, available string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.SaveHolder(context.Background(), balance.Holder{
		ID:        id,
		Kind:      balance.KindWallet,
		Currency:  ledger.CurrencyUSD,
		Available: usd(available),
		Reserved:  usd("0"),
		Used:      usd("0"),
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func holderAvailable(t *testing.T, st *sqlite.Store, id ledger.HolderID) decimal.Decimal {
	t.Helper()
	h, err := st.GetHolder(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, h)
	return h.Available.Amount
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestInsertTransaction_Roundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := txFixture("tx-1", "charge-1")
	require.NoError(t, st.InsertTransaction(ctx, in))

	out, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.ReferenceID, out.ReferenceID)
	assert.Equal(t, in.HolderID, out.HolderID)
	assert.Equal(t, in.IdempotencyToken, out.IdempotencyToken)
	assert.Equal(t, in.PolicyVersion, out.PolicyVersion)
	assert.True(t, out.Gross.Amount.Equal(in.Gross.Amount), "gross survives as exact decimal")
	assert.True(t, out.Fee.Amount.Equal(in.Fee.Amount))
	assert.True(t, out.Net.Amount.Equal(in.Net.Amount))
}

func TestGetTransaction_Unknown_ReturnsNil(t *testing.T) {
	st := newTestStore(t)

	out, err := st.GetTransaction(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestInsertTransaction_DuplicateToken_Rejected(t *testing.T) {
	// GIVEN: A transaction recorded under (booking_fee, "charge-1")
	// WHEN: Inserting another row with the same type and token
	// THEN: The unique index backstops the idempotency check

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))

	err := st.InsertTransaction(ctx, txFixture("tx-2", "charge-1"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateOperation)
}

func TestInsertTransaction_SameTokenDifferentType_Allowed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "op-1")))

	other := txFixture("tx-2", "op-1")
	other.Type = ledger.TxTopUp
	require.NoError(t, st.InsertTransaction(ctx, other))
}

func TestFindByToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))

	found, err := st.FindByToken(ctx, ledger.TxBookingFee, "charge-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ledger.TransactionID("tx-1"), found.ID)

	missing, err := st.FindByToken(ctx, ledger.TxBookingFee, "never-used")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// The token only collides within its own type.
	otherType, err := st.FindByToken(ctx, ledger.TxTopUp, "charge-1")
	require.NoError(t, err)
	assert.Nil(t, otherType)
}

func TestMarkTransactionStatus_Transitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))

	require.NoError(t, st.MarkTransactionStatus(ctx, "tx-1", ledger.StatusPending, ledger.StatusCompleted))

	out, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, out.Status)
}

func TestMarkTransactionStatus_WrongFromStatus_Rejected(t *testing.T) {
	// GIVEN: A completed transaction
	// WHEN: Transitioning it pending -> completed a second time
	// THEN: The guarded update misses and reports the invalid transition

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))
	require.NoError(t, st.MarkTransactionStatus(ctx, "tx-1", ledger.StatusPending, ledger.StatusCompleted))

	err := st.MarkTransactionStatus(ctx, "tx-1", ledger.StatusPending, ledger.StatusCompleted)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestMarkTransactionStatus_Unknown_Rejected(t *testing.T) {
	st := newTestStore(t)

	err := st.MarkTransactionStatus(context.Background(), "ghost", ledger.StatusPending, ledger.StatusCompleted)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestTransactionsInWindow_Bounds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	early := txFixture("tx-early", "op-early")
	early.CreatedAt = base.Add(-2 * time.Hour)
	inside := txFixture("tx-inside", "op-inside")
	inside.CreatedAt = base
	late := txFixture("tx-late", "op-late")
	late.CreatedAt = base.Add(2 * time.Hour)

	require.NoError(t, st.InsertTransaction(ctx, early))
	require.NoError(t, st.InsertTransaction(ctx, inside))
	require.NoError(t, st.InsertTransaction(ctx, late))

	txs, err := st.TransactionsInWindow(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionID("tx-inside"), txs[0].ID)
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func TestEntriesForTransaction_PreservesInsertOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))

	now := time.Now().UTC()
	first := ledger.LedgerEntry{
		ID: "e1", TransactionID: "tx-1",
		Account: ledger.AccountBuyerPayable, Direction: ledger.Debit,
		Amount: usd("50.00"), BalanceAfter: usd("-50.00"), CreatedAt: now,
	}
	second := ledger.LedgerEntry{
		ID: "e2", TransactionID: "tx-1",
		Account: ledger.AccountPlatformRevenue, Direction: ledger.Credit,
		Amount: usd("50.00"), BalanceAfter: usd("50.00"), CreatedAt: now,
	}
	require.NoError(t, st.InsertEntry(ctx, first))
	require.NoError(t, st.InsertEntry(ctx, second))

	entries, err := st.EntriesForTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("e1"), entries[0].ID)
	assert.Equal(t, ledger.EntryID("e2"), entries[1].ID)
	assert.Equal(t, ledger.Debit, entries[0].Direction)
	assert.True(t, entries[1].BalanceAfter.Amount.Equal(decimal.NewFromInt(50)))
}

func TestLastBalance_FollowsEntryChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertTransaction(ctx, txFixture("tx-1", "charge-1")))

	now := time.Now().UTC()
	require.NoError(t, st.InsertEntry(ctx, ledger.LedgerEntry{
		ID: "e1", TransactionID: "tx-1",
		Account: ledger.AccountPlatformRevenue, Direction: ledger.Credit,
		Amount: usd("50.00"), BalanceAfter: usd("50.00"), CreatedAt: now,
	}))
	require.NoError(t, st.InsertEntry(ctx, ledger.LedgerEntry{
		ID: "e2", TransactionID: "tx-1",
		Account: ledger.AccountPlatformRevenue, Direction: ledger.Credit,
		Amount: usd("25.00"), BalanceAfter: usd("75.00"), CreatedAt: now,
	}))

	last, err := st.LastBalance(ctx, ledger.AccountPlatformRevenue, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, last.Amount.Equal(decimal.NewFromInt(75)))
}

func TestLastBalance_UntouchedAccount_Zero(t *testing.T) {
	st := newTestStore(t)

	last, err := st.LastBalance(context.Background(), ledger.AccountGatewayClearing, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, last.Amount.IsZero())
	assert.Equal(t, ledger.CurrencyUSD, last.Currency)
}

// =============================================================================
// BALANCE HOLDERS
// =============================================================================

func TestSaveHolder_Roundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.SaveHolder(ctx, balance.Holder{
		ID:                 "escrow:milestone-1",
		Kind:               balance.KindEscrow,
		Currency:           ledger.CurrencyUSD,
		Region:             "eu-west",
		Available:          usd("500.00"),
		AutoReplenish:      true,
		ReplenishThreshold: usd("20.00"),
		ReplenishAmount:    usd("50.00"),
		ReplenishMethodRef: "pm-stored",
		CreatedAt:          now,
		UpdatedAt:          now,
	}))

	h, err := st.GetHolder(ctx, "escrow:milestone-1")
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, balance.KindEscrow, h.Kind)
	assert.Equal(t, "eu-west", h.Region)
	assert.True(t, h.Available.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, h.AutoReplenish)
	assert.True(t, h.ReplenishThreshold.Amount.Equal(decimal.NewFromInt(20)))
	assert.True(t, h.ReplenishAmount.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "pm-stored", h.ReplenishMethodRef)
}

func TestSaveHolder_UpsertKeepsBalances(t *testing.T) {
	// GIVEN: A wallet that has been debited since creation
	// WHEN: Saving the holder again to change replenish settings
	// THEN: The balance columns are left alone; only settings update

	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "100.00")
	require.NoError(t, st.DebitHolder(ctx, "wallet-1", usd("40.00")))

	h, err := st.GetHolder(ctx, "wallet-1")
	require.NoError(t, err)
	h.ReplenishMethodRef = "pm-new"
	require.NoError(t, st.SaveHolder(ctx, *h))

	reloaded, err := st.GetHolder(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, reloaded.Available.Amount.Equal(decimal.NewFromInt(60)))
	assert.True(t, reloaded.Used.Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, "pm-new", reloaded.ReplenishMethodRef)
}

func TestGetHolder_Unknown_ReturnsNil(t *testing.T) {
	st := newTestStore(t)

	h, err := st.GetHolder(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestDebitHolder_ExactDrain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "100.00")

	require.NoError(t, st.DebitHolder(ctx, "wallet-1", usd("100.00")))
	assert.True(t, holderAvailable(t, st, "wallet-1").IsZero())
}

func TestDebitHolder_Shortfall_NothingChanges(t *testing.T) {
	// GIVEN: A wallet holding 10.00
	// WHEN: Debiting 10.01
	// THEN: The conditional update misses and the balance is untouched

	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "10.00")

	err := st.DebitHolder(ctx, "wallet-1", usd("10.01"))
	require.Error(t, err)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Amount.Equal(decimal.NewFromInt(10)))
	assert.True(t, insufficient.Requested.Amount.Equal(ledger.MustParseDecimal("10.01")))

	assert.True(t, holderAvailable(t, st, "wallet-1").Equal(decimal.NewFromInt(10)))
}

func TestDebitHolder_Unknown_Rejected(t *testing.T) {
	st := newTestStore(t)

	err := st.DebitHolder(context.Background(), "ghost", usd("1.00"))
	assert.ErrorIs(t, err, ledger.ErrHolderNotFound)
}

func TestCreditHolder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "10.00")

	require.NoError(t, st.CreditHolder(ctx, "wallet-1", usd("5.50")))
	assert.True(t, holderAvailable(t, st, "wallet-1").Equal(ledger.MustParseDecimal("15.50")))

	err := st.CreditHolder(ctx, "ghost", usd("5.50"))
	assert.ErrorIs(t, err, ledger.ErrHolderNotFound)
}

func TestReserveAndRelease(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "100.00")

	require.NoError(t, st.ReserveHolder(ctx, "wallet-1", usd("30.00")))
	h, err := st.GetHolder(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, h.Available.Amount.Equal(decimal.NewFromInt(70)))
	assert.True(t, h.Reserved.Amount.Equal(decimal.NewFromInt(30)))

	require.NoError(t, st.ReleaseReserve(ctx, "wallet-1", usd("30.00")))
	assert.True(t, holderAvailable(t, st, "wallet-1").Equal(decimal.NewFromInt(100)))

	// Releasing more than is reserved must not mint balance.
	err = st.ReleaseReserve(ctx, "wallet-1", usd("1.00"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

func TestWithTx_ErrorRollsBackEverything(t *testing.T) {
	// GIVEN: A unit that debits a wallet and inserts a transaction
	// WHEN: The unit returns an error after both writes
	// THEN: Neither write is visible afterwards

	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "100.00")

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(unit ledger.Store) error {
		if err := unit.InsertTransaction(ctx, txFixture("tx-1", "charge-1")); err != nil {
			return err
		}
		if err := unit.DebitHolder(ctx, "wallet-1", usd("40.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tx, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, tx, "rolled-back transaction must not be visible")
	assert.True(t, holderAvailable(t, st, "wallet-1").Equal(decimal.NewFromInt(100)))
}

func TestWithTx_CommitMakesWritesVisible(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveWallet(t, st, "wallet-1", "100.00")

	err := st.WithTx(ctx, func(unit ledger.Store) error {
		if err := unit.InsertTransaction(ctx, txFixture("tx-1", "charge-1")); err != nil {
			return err
		}
		return unit.DebitHolder(ctx, "wallet-1", usd("40.00"))
	})
	require.NoError(t, err)

	tx, err := st.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, holderAvailable(t, st, "wallet-1").Equal(decimal.NewFromInt(60)))
}

// =============================================================================
// FEE POLICIES
// =============================================================================

func policyFixture(version int) policy.FeePolicy {
	p := policy.FeePolicy{
		Version:       version,
		EffectiveFrom: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		RateSchedule: map[policy.OperationKind]decimal.Decimal{
			policy.OpBooking: ledger.MustParseDecimal("0.05"),
			policy.OpCall:    ledger.MustParseDecimal("0.10"),
		},
		TierTable: []policy.Tier{
			{MinAmount: decimal.Zero, Rate: ledger.MustParseDecimal("0.05")},
			{MinAmount: decimal.NewFromInt(10000), Rate: ledger.MustParseDecimal("0.04")},
		},
		RegionOverrides: map[string]decimal.Decimal{
			"eu-west": ledger.MustParseDecimal("0.07"),
		},
		TaxRate:   ledger.MustParseDecimal("0.20"),
		CreatedAt: time.Now().UTC(),
	}
	p.Signature = policy.ComputeSignature(p)
	return p
}

func TestInsertPolicy_RoundtripPreservesSignature(t *testing.T) {
	// GIVEN: A signed policy with tiers, overrides, and a tax rate
	// WHEN: Persisting and reloading it
	// THEN: The stored form still verifies, so JSON encoding did not
	//       perturb any decimal

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertPolicy(ctx, policyFixture(1)))

	policies, err := st.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.True(t, policy.VerifySignature(p), "reloaded policy must still verify")
	assert.True(t, p.RateSchedule[policy.OpBooking].Equal(ledger.MustParseDecimal("0.05")))
	assert.True(t, p.RegionOverrides["eu-west"].Equal(ledger.MustParseDecimal("0.07")))
	assert.True(t, p.TaxRate.Equal(ledger.MustParseDecimal("0.20")))
	require.Len(t, p.TierTable, 2)
	assert.True(t, p.TierTable[1].MinAmount.Equal(decimal.NewFromInt(10000)))
}

func TestInsertPolicy_DuplicateVersion_Rejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertPolicy(ctx, policyFixture(1)))
	assert.Error(t, st.InsertPolicy(ctx, policyFixture(1)))
}

func TestListPolicies_OrderedByVersion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertPolicy(ctx, policyFixture(2)))
	require.NoError(t, st.InsertPolicy(ctx, policyFixture(1)))

	policies, err := st.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, 1, policies[0].Version)
	assert.Equal(t, 2, policies[1].Version)
}

// =============================================================================
// FLOW STATE
// =============================================================================

func TestSaveBooking_UpsertRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := billing.Booking{
		ID:        "booking-1",
		BuyerID:   "buyer-1",
		VenueID:   "venue-1",
		Region:    "us-east",
		Total:     usd("100.00"),
		StartAt:   now.Add(48 * time.Hour),
		Status:    billing.BookingPending,
		MethodRef: "pm-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.SaveBooking(ctx, b))

	b.Status = billing.BookingConfirmed
	b.TransactionID = "tx-1"
	require.NoError(t, st.SaveBooking(ctx, b))

	out, err := st.GetBooking(ctx, "booking-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, billing.BookingConfirmed, out.Status)
	assert.Equal(t, ledger.TransactionID("tx-1"), out.TransactionID)
	assert.Equal(t, "us-east", out.Region)
	assert.True(t, out.Total.Amount.Equal(decimal.NewFromInt(100)))

	missing, err := st.GetBooking(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveMilestone_UpsertRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m := billing.Milestone{
		ID:         "milestone-1",
		ContractID: "contract-1",
		PayerID:    "payer-1",
		PayeeID:    "payee-1",
		Amount:     usd("500.00"),
		Status:     billing.MilestonePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, st.SaveMilestone(ctx, m))

	m.Status = billing.MilestoneCompleted
	m.FundTransactionID = "tx-fund"
	m.FeeTransactionID = "tx-fee"
	m.ReleaseTransactionID = "tx-release"
	require.NoError(t, st.SaveMilestone(ctx, m))

	out, err := st.GetMilestone(ctx, "milestone-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, billing.MilestoneCompleted, out.Status)
	assert.Equal(t, ledger.TransactionID("tx-fund"), out.FundTransactionID)
	assert.Equal(t, ledger.TransactionID("tx-fee"), out.FeeTransactionID)
	assert.Equal(t, ledger.TransactionID("tx-release"), out.ReleaseTransactionID)
	assert.True(t, out.Amount.Amount.Equal(decimal.NewFromInt(500)))

	missing, err := st.GetMilestone(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// RECONCILIATION REPORTS
// =============================================================================

func TestSaveReport_Roundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveReport(ctx, reconcile.Report{
		ID:          "report-1",
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		Checked:     3,
		Discrepancies: []reconcile.Discrepancy{{
			TransactionID: "tx-bad",
			DebitTotal:    decimal.NewFromInt(10),
			CreditTotal:   decimal.NewFromInt(5),
			Delta:         decimal.NewFromInt(5),
		}},
		GeneratedAt: now,
	}))

	reports, err := st.ListReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "report-1", r.ID)
	assert.Equal(t, 3, r.Checked)
	assert.False(t, r.Balanced())
	require.Len(t, r.Discrepancies, 1)
	assert.Equal(t, ledger.TransactionID("tx-bad"), r.Discrepancies[0].TransactionID)
	assert.True(t, r.Discrepancies[0].Delta.Equal(decimal.NewFromInt(5)))
}

func TestListReports_CleanReport_Balanced(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveReport(ctx, reconcile.Report{
		ID:          "report-1",
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		Checked:     2,
		GeneratedAt: now,
	}))

	reports, err := st.ListReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Balanced())
	assert.Empty(t, reports[0].Discrepancies)
}
