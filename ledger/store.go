/*
store.go - Persistence interfaces for transactions, entries, and holders

PURPOSE:
  Defines the interface between the billing core and the database. The
  relational store is the single source of truth and the only shared
  mutable resource: balances are never cached authoritatively.

KEY INTERFACES:
  Store:   Transaction/entry persistence plus holder balance mutation
  TxStore: Wraps Store with one-atomic-unit semantics (WithTx)

APPEND-ONLY CONTRACT:
  ledger_entries has no update or delete path. Transactions allow exactly
  two updates, both one-way status transitions performed inside the same
  atomic unit that justifies them (pending -> completed, completed ->
  refunded).

CONDITIONAL DEBIT:
  DebitHolder must be implemented as a single conditional update
  ("subtract where available >= amount"). Zero rows affected means
  insufficient balance, and the whole atomic unit rolls back. This is the
  sole concurrency-safety primitive for holder balances: it removes the
  read-then-write race window without explicit locks.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level recording logic using Store
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Transaction, entry, and holder persistence
// =============================================================================

type Store interface {
	// InsertTransaction persists a new transaction row.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// MarkTransactionStatus performs a one-way status transition. It must
	// fail with ErrInvalidTransition if the row is not currently in `from`.
	MarkTransactionStatus(ctx context.Context, id TransactionID, from, to TransactionStatus) error

	// FindByToken returns the transaction for (type, idempotency token),
	// or nil if none exists.
	FindByToken(ctx context.Context, t TransactionType, token string) (*Transaction, error)

	// GetTransaction returns a transaction by ID, or nil.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// TransactionsInWindow returns transactions created in [from, to],
	// ordered by creation.
	TransactionsInWindow(ctx context.Context, from, to time.Time) ([]Transaction, error)

	// InsertEntry appends a ledger entry. Entries are never updated.
	InsertEntry(ctx context.Context, e LedgerEntry) error

	// EntriesForTransaction returns a transaction's entries in creation order.
	EntriesForTransaction(ctx context.Context, id TransactionID) ([]LedgerEntry, error)

	// LastBalance returns the account's balance after its newest entry,
	// or zero if the account has no entries yet.
	LastBalance(ctx context.Context, account Account, currency Currency) (Money, error)

	// DebitHolder subtracts from a holder's available units iff
	// available >= amount, recording the usage. Returns
	// *InsufficientBalanceError on a conditional-update miss.
	DebitHolder(ctx context.Context, holderID HolderID, amount Money) error

	// CreditHolder adds to a holder's available units.
	CreditHolder(ctx context.Context, holderID HolderID, amount Money) error
}

// =============================================================================
// TRANSACTIONAL STORE - One atomic unit per billing operation
// =============================================================================

// TxStore wraps Store with transaction support. Every step of a billing
// record (transaction insert, entry writes, balance mutation, completion)
// executes inside one WithTx call: all-or-nothing.
type TxStore interface {
	Store

	// WithTx executes fn within a database transaction.
	// If fn returns an error, every write is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
