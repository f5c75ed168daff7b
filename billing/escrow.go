/*
escrow.go - Milestone escrow fund / release / cancel

PURPOSE:
  A milestone holds the payer's money in escrow until the work completes.
  Funding captures the full amount through the gateway and credits an
  escrow balance holder; release drains that holder into the completion
  fee and the payee's net, in the same order the entries move.

BALANCE MODEL:
  Each funded milestone is backed by its own escrow holder (kind
  `escrow`). Fund credits it by the full amount; release debits it by fee
  then net, leaving it at exactly zero; cancel refunds the fund
  transaction and debits it back to zero.

SEE ALSO:
  - balance: the escrow holder's conditional-debit semantics
  - ledger/entrymap.go: fund / completion_fee / release account pairs
*/
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
)

// =============================================================================
// CREATE / FUND
// =============================================================================

type CreateMilestoneRequest struct {
	ContractID string
	PayerID    ledger.HolderID
	PayeeID    ledger.HolderID
	Region     string
	Amount     ledger.Money
}

func (o *Orchestrator) CreateMilestone(ctx context.Context, req CreateMilestoneRequest) (*Milestone, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("milestone amount must be positive")
	}

	now := o.Now()
	m := Milestone{
		ID:         uuid.NewString(),
		ContractID: req.ContractID,
		PayerID:    req.PayerID,
		PayeeID:    req.PayeeID,
		Region:     req.Region,
		Amount:     req.Amount,
		Status:     MilestonePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.Flows.SaveMilestone(ctx, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FundMilestone captures the full amount from the payer and moves it into
// escrow. Funding an already funded milestone returns it unchanged.
func (o *Orchestrator) FundMilestone(ctx context.Context, milestoneID, methodRef, idempotencyToken string) (*Milestone, ledger.Transaction, error) {
	m, err := o.Flows.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if m == nil {
		return nil, ledger.Transaction{}, fmt.Errorf("milestone %s: %w", milestoneID, ErrMilestoneNotFound)
	}
	if m.Status == MilestoneFunded {
		prior, err := o.Ledger.GetTransaction(ctx, m.FundTransactionID)
		if err != nil {
			return nil, ledger.Transaction{}, err
		}
		return m, *prior, nil
	}
	if m.Status != MilestonePending {
		return nil, ledger.Transaction{}, fmt.Errorf("fund milestone in status %q: %w", m.Status, ledger.ErrInvalidTransition)
	}

	if err := o.capture(ctx, m.PayerID, methodRef, m.Amount, idempotencyToken); err != nil {
		return nil, ledger.Transaction{}, err
	}

	if err := o.ensureEscrowHolder(ctx, *m); err != nil {
		return nil, ledger.Transaction{}, err
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxFund,
		ReferenceID:      m.ID,
		HolderID:         m.EscrowHolderID(),
		Gross:            m.Amount,
		Fee:              m.Amount.Zero(),
		Net:              m.Amount,
		IdempotencyToken: idempotencyToken,
		Effect: &ledger.BalanceEffect{
			HolderID:  m.EscrowHolderID(),
			Direction: ledger.Credit,
			Amount:    m.Amount,
		},
	})
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	m.Status = MilestoneFunded
	m.FundTransactionID = tx.ID
	m.UpdatedAt = o.Now()
	if err := o.Flows.SaveMilestone(ctx, *m); err != nil {
		return nil, ledger.Transaction{}, err
	}

	o.emit(ctx, "milestone.funded", tx)
	return m, tx, nil
}

func (o *Orchestrator) ensureEscrowHolder(ctx context.Context, m Milestone) error {
	_, err := o.Balances.GetBalance(ctx, m.EscrowHolderID())
	if err == nil {
		return nil
	}
	if !errors.Is(err, ledger.ErrHolderNotFound) {
		return err
	}

	now := o.Now()
	zero := m.Amount.Zero()
	return o.Balances.Store.SaveHolder(ctx, balance.Holder{
		ID:        m.EscrowHolderID(),
		Kind:      balance.KindEscrow,
		Currency:  m.Amount.Currency,
		Region:    m.Region,
		Available: zero,
		Reserved:  zero,
		Used:      zero,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// =============================================================================
// RELEASE
// =============================================================================

// ReleaseMilestone completes a funded milestone: the platform takes its
// completion fee out of escrow, then the remaining net goes to the payee.
// Two transactions, each debiting the escrow holder in the same unit as
// its entries, so the holder ends at exactly zero.
//
// The fee and the release are separate atomic units. If the process dies
// between them the fee stands and the milestone stays funded; a retry
// with the original token replays the fee by idempotency and records only
// the missing release. Callers must keep retrying with the same token
// until the milestone reports completed.
func (o *Orchestrator) ReleaseMilestone(ctx context.Context, milestoneID, idempotencyToken string) (*Milestone, ledger.Transaction, error) {
	m, err := o.Flows.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if m == nil {
		return nil, ledger.Transaction{}, fmt.Errorf("milestone %s: %w", milestoneID, ErrMilestoneNotFound)
	}
	if m.Status == MilestoneCompleted {
		prior, err := o.Ledger.GetTransaction(ctx, m.ReleaseTransactionID)
		if err != nil {
			return nil, ledger.Transaction{}, err
		}
		return m, *prior, nil
	}
	if m.Status != MilestoneFunded {
		return nil, ledger.Transaction{}, fmt.Errorf("release milestone in status %q: %w", m.Status, ledger.ErrInvalidTransition)
	}

	breakdown, err := o.Calc.CalculateFee(m.Amount, policy.OpMilestone, m.Region, o.Now())
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	if breakdown.Fee.IsPositive() {
		feeTx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
			Type:             ledger.TxCompletionFee,
			ReferenceID:      m.ID,
			HolderID:         m.EscrowHolderID(),
			Gross:            breakdown.Gross,
			Fee:              breakdown.Fee,
			Net:              breakdown.Net,
			PolicyVersion:    breakdown.PolicyVersion,
			IdempotencyToken: idempotencyToken + ":fee",
			Effect: &ledger.BalanceEffect{
				HolderID:  m.EscrowHolderID(),
				Direction: ledger.Debit,
				Amount:    breakdown.Fee,
			},
		})
		if err != nil {
			return nil, ledger.Transaction{}, err
		}
		m.FeeTransactionID = feeTx.ID
		o.emit(ctx, "milestone.fee_taken", feeTx)
	}

	releaseTx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxRelease,
		ReferenceID:      m.ID,
		HolderID:         m.EscrowHolderID(),
		Gross:            breakdown.Gross,
		Fee:              breakdown.Fee,
		Net:              breakdown.Net,
		PolicyVersion:    breakdown.PolicyVersion,
		IdempotencyToken: idempotencyToken + ":release",
		Effect: &ledger.BalanceEffect{
			HolderID:  m.EscrowHolderID(),
			Direction: ledger.Debit,
			Amount:    breakdown.Net,
		},
	})
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	m.Status = MilestoneCompleted
	m.ReleaseTransactionID = releaseTx.ID
	m.UpdatedAt = o.Now()
	if err := o.Flows.SaveMilestone(ctx, *m); err != nil {
		return nil, ledger.Transaction{}, err
	}

	o.emit(ctx, "milestone.released", releaseTx)
	return m, releaseTx, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelMilestone refunds a funded milestone in full: the fund transaction
// is compensated and the escrow holder drained back to zero. A pending
// milestone cancels with no refund.
func (o *Orchestrator) CancelMilestone(ctx context.Context, milestoneID string) (*Milestone, *ledger.Transaction, error) {
	m, err := o.Flows.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, fmt.Errorf("milestone %s: %w", milestoneID, ErrMilestoneNotFound)
	}
	if m.Status == MilestoneCancelled {
		return m, nil, nil
	}

	now := o.Now()

	if m.Status == MilestonePending {
		m.Status = MilestoneCancelled
		m.UpdatedAt = now
		if err := o.Flows.SaveMilestone(ctx, *m); err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	}
	if m.Status != MilestoneFunded {
		return nil, nil, fmt.Errorf("cancel milestone in status %q: %w", m.Status, ledger.ErrInvalidTransition)
	}

	refund, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxRefund,
		ReferenceID:      m.ID,
		HolderID:         m.EscrowHolderID(),
		Gross:            m.Amount,
		Fee:              m.Amount.Zero(),
		Net:              m.Amount,
		IdempotencyToken: "refund:" + m.ID,
		RefundOf:         m.FundTransactionID,
		Effect: &ledger.BalanceEffect{
			HolderID:  m.EscrowHolderID(),
			Direction: ledger.Debit,
			Amount:    m.Amount,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	m.Status = MilestoneCancelled
	m.RefundTransactionID = refund.ID
	m.UpdatedAt = now
	if err := o.Flows.SaveMilestone(ctx, *m); err != nil {
		return nil, nil, err
	}

	o.emit(ctx, "milestone.refunded", refund)
	return m, &refund, nil
}
