/*
Package balance manages derived, mutable balances for first-class holders.

PURPOSE:
  A BalanceHolder is the entity billed against: a prepaid wallet (call
  minutes, message credits) or an escrowed milestone. Its balance is
  derived from the same transactional substrate as the ledger and is
  mutated ONLY as a side effect of a committed transaction, never
  independently of the ledger it derives from.

CONCURRENCY:
  The debit path is a single conditional update ("subtract where
  available >= amount"). Zero rows affected means insufficient balance and
  the whole billing operation aborts. Concurrent debits against the same
  holder serialize through this mechanism; no explicit lock is needed and
  no lost update is possible.

AUTO-REPLENISH:
  Evaluated AFTER a successful debit, never blocking the debit itself.
  When available <= threshold and the holder opted in, the orchestrator
  initiates an idempotent top-up asynchronously.

SEE ALSO:
  - ledger: the atomic unit holder mutations commit inside
  - billing: the orchestrator composing debit + ledger recording
*/
package balance

import (
	"context"
	"time"

	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// HOLDER - Wallet or escrow milestone
// =============================================================================

type Kind string

const (
	KindWallet Kind = "wallet"
	KindEscrow Kind = "escrow"
)

type Holder struct {
	ID       ledger.HolderID
	Kind     Kind
	Currency ledger.Currency
	Region   string

	// Available is the spendable balance; never negative.
	Available ledger.Money
	// Reserved is held for pending operations.
	Reserved ledger.Money
	// Used is the lifetime consumed total.
	Used ledger.Money

	AutoReplenish      bool
	ReplenishThreshold ledger.Money
	ReplenishAmount    ledger.Money
	// ReplenishMethodRef is the stored payment method charged by
	// auto-replenish top-ups.
	ReplenishMethodRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// STORE - Holder persistence
// =============================================================================

type Store interface {
	GetHolder(ctx context.Context, id ledger.HolderID) (*Holder, error)
	SaveHolder(ctx context.Context, h Holder) error

	// DebitHolder is the conditional update: subtract from available where
	// available >= amount, adding to used. Returns
	// *ledger.InsufficientBalanceError when the condition misses.
	DebitHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error

	// CreditHolder adds to available unconditionally.
	CreditHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error

	// ReserveHolder moves amount from available to reserved, conditionally.
	ReserveHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error

	// ReleaseReserve moves amount from reserved back to available.
	ReleaseReserve(ctx context.Context, id ledger.HolderID, amount ledger.Money) error
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	Store Store
}

func NewManager(store Store) *Manager {
	return &Manager{Store: store}
}

func (m *Manager) GetBalance(ctx context.Context, id ledger.HolderID) (*Holder, error) {
	h, err := m.Store.GetHolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ledger.ErrHolderNotFound
	}
	return h, nil
}

// CanCover is the read-only pre-check for UX. The authoritative check is
// the conditional debit inside the atomic unit; this result may be stale
// by the time the debit runs, and that is fine.
func (m *Manager) CanCover(ctx context.Context, id ledger.HolderID, amount ledger.Money) (bool, error) {
	h, err := m.GetBalance(ctx, id)
	if err != nil {
		return false, err
	}
	return !h.Available.LessThan(amount), nil
}

// Debit applies a standalone conditional debit. Billing flows should not
// call this directly: they route the debit through the ledger's atomic
// unit via a BalanceEffect so debit and entries commit together.
func (m *Manager) Debit(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return m.Store.DebitHolder(ctx, id, amount)
}

func (m *Manager) Credit(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return m.Store.CreditHolder(ctx, id, amount)
}

func (m *Manager) Reserve(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return m.Store.ReserveHolder(ctx, id, amount)
}

func (m *Manager) ReleaseReserve(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return m.Store.ReleaseReserve(ctx, id, amount)
}

// CheckAutoReplenish reports whether a top-up should be initiated for the
// holder. Evaluated after a debit; never blocks the debit itself.
func (m *Manager) CheckAutoReplenish(ctx context.Context, id ledger.HolderID) (bool, *Holder, error) {
	h, err := m.GetBalance(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if !h.AutoReplenish {
		return false, h, nil
	}
	if h.Available.GreaterThan(h.ReplenishThreshold) {
		return false, h, nil
	}
	return true, h, nil
}
