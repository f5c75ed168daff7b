package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.DefaultLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.New(mem), mem
}

func saveWallet(t *testing.T, mem *store.Memory, id ledger.HolderID, available string) {
	t.Helper()
	zero := moneyUSD("0")
	err := mem.SaveHolder(context.Background(), balance.Holder{
		ID:        id,
		Kind:      balance.KindWallet,
		Currency:  ledger.CurrencyUSD,
		Available: moneyUSD(available),
		Reserved:  zero,
		Used:      zero,
	})
	require.NoError(t, err)
}

func bookingFeeRequest(token string) ledger.RecordRequest {
	return ledger.RecordRequest{
		Type:             ledger.TxBookingFee,
		ReferenceID:      "booking-1",
		Gross:            moneyUSD("1000.00"),
		Fee:              moneyUSD("50.00"),
		Net:              moneyUSD("950.00"),
		PolicyVersion:    1,
		IdempotencyToken: token,
	}
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestRecordTransaction_EntriesBalance(t *testing.T) {
	// GIVEN: A booking fee charge (gross 1000, fee 50, net 950)
	// WHEN: Recording the transaction
	// THEN: It completes with debit entries equal to credit entries

	l, _ := newTestLedger(t)
	ctx := context.Background()

	tx, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
	assert.Equal(t, 1, tx.PolicyVersion)

	entries, err := l.Entries(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Direction == ledger.Debit {
			debits = debits.Add(e.Amount.Amount)
		} else {
			credits = credits.Add(e.Amount.Amount)
		}
	}
	assert.True(t, debits.Equal(credits), "debits %s != credits %s", debits, credits)
}

func TestRecordTransaction_BalanceAfterChains(t *testing.T) {
	// GIVEN: Two top-ups landing on the same accounts
	// WHEN: Recording them in sequence
	// THEN: Each entry's balanceAfter extends the account's previous one

	l, _ := newTestLedger(t)
	ctx := context.Background()

	record := func(token, amount string) ledger.Transaction {
		tx, err := l.RecordTransaction(ctx, ledger.RecordRequest{
			Type:             ledger.TxTopUp,
			ReferenceID:      "wallet-1",
			Gross:            moneyUSD(amount),
			Fee:              moneyUSD("0"),
			Net:              moneyUSD(amount),
			IdempotencyToken: token,
		})
		require.NoError(t, err)
		return tx
	}

	record("top-up-1", "20.00")
	record("top-up-2", "30.00")

	credit, err := l.AccountBalance(ctx, ledger.AccountHolderWalletCredit, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, credit.Amount.Equal(decimal.NewFromInt(50)))

	// The clearing account absorbs the external side of both captures.
	clearing, err := l.AccountBalance(ctx, ledger.AccountGatewayClearing, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, clearing.Amount.Equal(decimal.NewFromInt(-50)))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestRecordTransaction_Replay_ReturnsPriorWithoutWrites(t *testing.T) {
	// GIVEN: A recorded booking fee with token "charge-1"
	// WHEN: Recording the same type and token again
	// THEN: The prior transaction is returned and no new entries appear

	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)

	before, err := l.AccountBalance(ctx, ledger.AccountPlatformRevenue, ledger.CurrencyUSD)
	require.NoError(t, err)

	second, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, ledger.StatusCompleted, second.Status)

	after, err := l.AccountBalance(ctx, ledger.AccountPlatformRevenue, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "replay must not move balances")

	entries, err := l.Entries(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRecordTransaction_SameTokenDifferentType_Distinct(t *testing.T) {
	// GIVEN: A token already used for a booking fee
	// WHEN: Recording a top-up with the same token
	// THEN: Both transactions exist; the token key includes the type

	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordTransaction(ctx, bookingFeeRequest("shared-token"))
	require.NoError(t, err)

	second, err := l.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxTopUp,
		ReferenceID:      "wallet-1",
		Gross:            moneyUSD("10.00"),
		Fee:              moneyUSD("0"),
		Net:              moneyUSD("10.00"),
		IdempotencyToken: "shared-token",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// BALANCE EFFECTS
// =============================================================================

func TestRecordTransaction_DebitEffect_AppliesInSameUnit(t *testing.T) {
	// GIVEN: A wallet with 100 available
	// WHEN: Recording a usage fee of 10 with a debit effect
	// THEN: The wallet ends at 90 with 10 used

	l, mem := newTestLedger(t)
	ctx := context.Background()
	saveWallet(t, mem, "wallet-1", "100.00")

	_, err := l.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxUsageFee,
		ReferenceID:      "call-1",
		HolderID:         "wallet-1",
		Gross:            moneyUSD("10.00"),
		Fee:              moneyUSD("1.00"),
		Net:              moneyUSD("9.00"),
		IdempotencyToken: "call-1",
		Effect: &ledger.BalanceEffect{
			HolderID:  "wallet-1",
			Direction: ledger.Debit,
			Amount:    moneyUSD("10.00"),
		},
	})
	require.NoError(t, err)

	h, err := mem.GetHolder(ctx, "wallet-1")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Available.Amount.Equal(decimal.NewFromInt(90)))
	assert.True(t, h.Used.Amount.Equal(decimal.NewFromInt(10)))
}

func TestRecordTransaction_InsufficientDebit_RollsBackEverything(t *testing.T) {
	// GIVEN: A wallet with only 5 available
	// WHEN: Recording a usage fee of 10 with a debit effect
	// THEN: The whole unit rolls back; no transaction, no entries, no debit

	l, mem := newTestLedger(t)
	ctx := context.Background()
	saveWallet(t, mem, "wallet-1", "5.00")

	_, err := l.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxUsageFee,
		ReferenceID:      "call-1",
		HolderID:         "wallet-1",
		Gross:            moneyUSD("10.00"),
		Fee:              moneyUSD("1.00"),
		Net:              moneyUSD("9.00"),
		IdempotencyToken: "call-1",
		Effect: &ledger.BalanceEffect{
			HolderID:  "wallet-1",
			Direction: ledger.Debit,
			Amount:    moneyUSD("10.00"),
		},
	})
	require.Error(t, err)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ledger.HolderID("wallet-1"), insufficient.HolderID)

	// Nothing was recorded: the token is still free.
	prior, err := mem.FindByToken(ctx, ledger.TxUsageFee, "call-1")
	require.NoError(t, err)
	assert.Nil(t, prior, "failed unit must leave no transaction behind")

	revenue, err := l.AccountBalance(ctx, ledger.AccountPlatformRevenue, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, revenue.IsZero(), "failed unit must leave no entries behind")

	h, err := mem.GetHolder(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, h.Available.Amount.Equal(decimal.NewFromInt(5)))
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestRecordTransaction_Refund_ReversesAndFlipsOriginal(t *testing.T) {
	// GIVEN: A completed booking fee charge
	// WHEN: Recording a half-sized refund referencing it
	// THEN: The original flips to refunded and revenue gives back 25

	l, _ := newTestLedger(t)
	ctx := context.Background()

	original, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)

	refund, err := l.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxRefund,
		ReferenceID:      "booking-1",
		Gross:            moneyUSD("500.00"),
		Fee:              moneyUSD("25.00"),
		Net:              moneyUSD("475.00"),
		PolicyVersion:    1,
		IdempotencyToken: "refund-1",
		RefundOf:         original.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, refund.Status)
	assert.Equal(t, original.ID, refund.RefundOf)

	reloaded, err := l.GetTransaction(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, ledger.StatusRefunded, reloaded.Status)

	// Revenue held 50 from the charge, gives 25 back.
	revenue, err := l.AccountBalance(ctx, ledger.AccountPlatformRevenue, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, revenue.Amount.Equal(decimal.NewFromInt(25)))
}

func TestRecordTransaction_RefundTwice_Rejected(t *testing.T) {
	// GIVEN: A charge that has already been refunded
	// WHEN: Recording a second refund with a fresh token
	// THEN: The one-way status flip rejects it and nothing is written

	l, _ := newTestLedger(t)
	ctx := context.Background()

	original, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)

	refundReq := ledger.RecordRequest{
		Type:             ledger.TxRefund,
		ReferenceID:      "booking-1",
		Gross:            moneyUSD("1000.00"),
		Fee:              moneyUSD("50.00"),
		Net:              moneyUSD("950.00"),
		IdempotencyToken: "refund-1",
		RefundOf:         original.ID,
	}
	_, err = l.RecordTransaction(ctx, refundReq)
	require.NoError(t, err)

	refundReq.IdempotencyToken = "refund-2"
	_, err = l.RecordTransaction(ctx, refundReq)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestRecordTransaction_RefundOfUnknownTransaction_Rejected(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: Recording a refund referencing a transaction that never existed
	// THEN: The unit fails with ErrTransactionNotFound

	l, _ := newTestLedger(t)

	_, err := l.RecordTransaction(context.Background(), ledger.RecordRequest{
		Type:             ledger.TxRefund,
		Gross:            moneyUSD("10.00"),
		Fee:              moneyUSD("0"),
		Net:              moneyUSD("10.00"),
		IdempotencyToken: "refund-ghost",
		RefundOf:         "no-such-tx",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestRecordTransaction_NegativeAmount_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)

	req := bookingFeeRequest("charge-1")
	req.Fee = moneyUSD("-1.00")
	_, err := l.RecordTransaction(context.Background(), req)
	assert.Error(t, err)
}

func TestRecordTransaction_RefundWithoutOriginal_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.RecordTransaction(context.Background(), ledger.RecordRequest{
		Type:  ledger.TxRefund,
		Gross: moneyUSD("10.00"),
		Net:   moneyUSD("10.00"),
	})
	assert.Error(t, err)
}

func TestRecordTransaction_RefundOfOnNonRefund_Rejected(t *testing.T) {
	l, _ := newTestLedger(t)

	req := bookingFeeRequest("charge-1")
	req.RefundOf = "some-tx"
	_, err := l.RecordTransaction(context.Background(), req)
	assert.Error(t, err)
}

func TestRecordTransaction_SplitDrift_Rejected(t *testing.T) {
	// GIVEN: A split where fee + net misses gross by a full unit
	// WHEN: Recording it
	// THEN: The rounding-closure check rejects it

	l, _ := newTestLedger(t)

	req := bookingFeeRequest("charge-1")
	req.Net = moneyUSD("949.00") // 50 + 949 = 999, drift 1.00
	_, err := l.RecordTransaction(context.Background(), req)
	assert.Error(t, err)
}

func TestRecordTransaction_SplitWithinEpsilon_Accepted(t *testing.T) {
	// GIVEN: A split off by exactly one cent from per-step rounding
	// WHEN: Recording it
	// THEN: It is tolerated

	l, _ := newTestLedger(t)

	req := bookingFeeRequest("charge-1")
	req.Net = moneyUSD("950.01")
	_, err := l.RecordTransaction(context.Background(), req)
	assert.NoError(t, err)
}

// =============================================================================
// READ PATH
// =============================================================================

func TestTransactionsInWindow_FiltersByCreation(t *testing.T) {
	// GIVEN: One recorded transaction
	// WHEN: Querying a window around now and a window in the past
	// THEN: Only the surrounding window contains it

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordTransaction(ctx, bookingFeeRequest("charge-1"))
	require.NoError(t, err)

	now := time.Now().UTC()
	inWindow, err := l.TransactionsInWindow(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, inWindow, 1)

	past, err := l.TransactionsInWindow(ctx, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestGetTransaction_Unknown_ReturnsNil(t *testing.T) {
	l, _ := newTestLedger(t)

	tx, err := l.GetTransaction(context.Background(), "no-such-tx")
	require.NoError(t, err)
	assert.Nil(t, tx)
}
