/*
wallet.go - Prepaid wallet top-up and usage billing

PURPOSE:
  A wallet holds prepaid units (call minutes, message credits). Top-ups
  capture real money through the gateway and credit the wallet; usage
  debits the wallet conditionally inside the ledger's atomic unit, with
  the platform fee and the provider's net split in the same transaction.

AUTO-REPLENISH:
  Evaluated after a successful usage debit, never before, and initiated
  asynchronously so it cannot delay the call path. The top-up token is
  derived from the triggering transaction, so a re-evaluated trigger
  cannot double-fund the wallet.

SEE ALSO:
  - balance: conditional-debit and threshold semantics
  - ledger/entrymap.go: top_up and usage_fee account pairs
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
)

// replenishTimeout bounds the async top-up, which outlives the request
// context that triggered it.
const replenishTimeout = 30 * time.Second

// =============================================================================
// WALLET PROVISIONING
// =============================================================================

type CreateWalletRequest struct {
	WalletID ledger.HolderID
	Currency ledger.Currency
	Region   string

	AutoReplenish      bool
	ReplenishThreshold ledger.Money
	ReplenishAmount    ledger.Money
	ReplenishMethodRef string
}

func (o *Orchestrator) CreateWallet(ctx context.Context, req CreateWalletRequest) (*balance.Holder, error) {
	if req.WalletID == "" {
		return nil, fmt.Errorf("wallet id is required")
	}
	if req.AutoReplenish && !req.ReplenishAmount.IsPositive() {
		return nil, fmt.Errorf("auto-replenish requires a positive replenish amount")
	}

	now := o.Now()
	zero := ledger.Money{Currency: req.Currency}
	h := balance.Holder{
		ID:                 req.WalletID,
		Kind:               balance.KindWallet,
		Currency:           req.Currency,
		Region:             req.Region,
		Available:          zero,
		Reserved:           zero,
		Used:               zero,
		AutoReplenish:      req.AutoReplenish,
		ReplenishThreshold: req.ReplenishThreshold,
		ReplenishAmount:    req.ReplenishAmount,
		ReplenishMethodRef: req.ReplenishMethodRef,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := o.Balances.Store.SaveHolder(ctx, h); err != nil {
		return nil, err
	}
	return &h, nil
}

// =============================================================================
// TOP-UP
// =============================================================================

type TopUpRequest struct {
	WalletID         ledger.HolderID
	MethodRef        string
	Amount           ledger.Money
	IdempotencyToken string
}

// TopUpWallet captures real money through the gateway, then credits the
// wallet and records the top_up transaction in one atomic unit.
func (o *Orchestrator) TopUpWallet(ctx context.Context, req TopUpRequest) (ledger.Transaction, error) {
	if !req.Amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("top-up amount must be positive")
	}
	if _, err := o.Balances.GetBalance(ctx, req.WalletID); err != nil {
		return ledger.Transaction{}, err
	}

	if err := o.capture(ctx, req.WalletID, req.MethodRef, req.Amount, req.IdempotencyToken); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxTopUp,
		ReferenceID:      string(req.WalletID),
		HolderID:         req.WalletID,
		Gross:            req.Amount,
		Fee:              req.Amount.Zero(),
		Net:              req.Amount,
		IdempotencyToken: req.IdempotencyToken,
		Effect: &ledger.BalanceEffect{
			HolderID:  req.WalletID,
			Direction: ledger.Credit,
			Amount:    req.Amount,
		},
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	o.emit(ctx, "wallet.topped_up", tx)
	return tx, nil
}

// =============================================================================
// USAGE BILLING
// =============================================================================

type CallChargeRequest struct {
	WalletID         ledger.HolderID
	CallID           string
	Amount           ledger.Money
	IdempotencyToken string
}

// ChargeCall debits the wallet for a completed call. The debit is the
// conditional update inside the ledger unit: an insufficient balance
// rolls everything back and nothing is recorded.
func (o *Orchestrator) ChargeCall(ctx context.Context, req CallChargeRequest) (ledger.Transaction, error) {
	if !req.Amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("call amount must be positive")
	}

	h, err := o.Balances.GetBalance(ctx, req.WalletID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	breakdown, err := o.Calc.CalculateFee(req.Amount, policy.OpCall, h.Region, o.Now())
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxUsageFee,
		ReferenceID:      req.CallID,
		HolderID:         req.WalletID,
		Gross:            breakdown.Gross,
		Fee:              breakdown.Fee,
		Net:              breakdown.Net,
		PolicyVersion:    breakdown.PolicyVersion,
		IdempotencyToken: req.IdempotencyToken,
		Effect: &ledger.BalanceEffect{
			HolderID:  req.WalletID,
			Direction: ledger.Debit,
			Amount:    breakdown.Gross,
		},
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	o.emit(ctx, "call.charged", tx)
	o.maybeReplenish(ctx, req.WalletID, tx.ID)
	return tx, nil
}

// maybeReplenish checks the threshold after a debit and, when crossed,
// initiates the top-up on a detached context so the call path returns
// immediately.
func (o *Orchestrator) maybeReplenish(ctx context.Context, walletID ledger.HolderID, trigger ledger.TransactionID) {
	due, h, err := o.Balances.CheckAutoReplenish(ctx, walletID)
	if err != nil {
		o.Logger.Warn("auto-replenish check failed", "wallet_id", walletID, "error", err)
		return
	}
	if !due {
		return
	}

	req := TopUpRequest{
		WalletID:  walletID,
		MethodRef: h.ReplenishMethodRef,
		Amount:    h.ReplenishAmount,
		// Derived from the triggering transaction: a retried trigger
		// replays instead of funding twice.
		IdempotencyToken: fmt.Sprintf("auto-top-up:%s:%s", walletID, trigger),
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), replenishTimeout)
		defer cancel()
		if _, err := o.TopUpWallet(bg, req); err != nil {
			o.Logger.Error("auto-replenish top-up failed",
				"wallet_id", walletID, "trigger", trigger, "error", err)
			return
		}
		o.Logger.Info("auto-replenish top-up completed",
			"wallet_id", walletID, "amount", req.Amount.Amount)
	}()
}
