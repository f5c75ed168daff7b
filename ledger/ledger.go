/*
ledger.go - Atomic double-entry recording

PURPOSE:
  The Ledger is the immutable source of truth for all money movements.
  RecordTransaction turns one billing operation into a transaction row plus
  a balanced set of ledger entries, inside one atomic unit.

CRITICAL INVARIANTS:
  1. CONSERVATION: For every completed transaction, debits == credits
  2. APPEND-ONLY: Entries are never updated or deleted
  3. ORDERED: An account's balanceAfter chains from its previous entry
  4. IDEMPOTENT: (type, token) maps to at most one completed transaction;
     a replay returns the prior transaction and performs no writes

RECORDING STEPS (all inside one WithTx unit):
  a. Idempotency check: existing (type, token) row -> return it unchanged
  b. Insert the transaction in `pending`
  c. Expand the entry-mapping table into debit/credit lines
  d. For each line, read the account's last balanceAfter, chain the new
     balance, insert the entry
  e. Apply the holder balance effect (conditional debit / credit), if any
  f. Mark the transaction `completed`

  Any failure rolls the whole unit back; no transaction is ever left
  `pending` after an error.

CORRECTIONS:
  Mistakes and refunds are new compensating transactions (type `refund`)
  whose entries retrace the original pairs backwards. The original row only
  ever flips status to `refunded`, inside the same unit as the refund.

SEE ALSO:
  - entrymap.go: The declarative account mapping
  - store.go: Persistence interfaces
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// splitEpsilon tolerates the per-step rounding of fee computation.
var splitEpsilon = decimal.NewFromFloat(0.01)

// =============================================================================
// LEDGER - Recording and read API
// =============================================================================

type Ledger interface {
	// RecordTransaction executes the full recording unit described above.
	RecordTransaction(ctx context.Context, req RecordRequest) (Transaction, error)

	// GetTransaction returns a transaction by ID.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// Entries returns a transaction's ledger entries in creation order.
	Entries(ctx context.Context, id TransactionID) ([]LedgerEntry, error)

	// TransactionsInWindow returns transactions created in [from, to].
	TransactionsInWindow(ctx context.Context, from, to time.Time) ([]Transaction, error)

	// AccountBalance returns the derived balance of a ledger account.
	AccountBalance(ctx context.Context, account Account, currency Currency) (Money, error)
}

// BalanceEffect is the holder mutation that commits with the transaction.
type BalanceEffect struct {
	HolderID  HolderID
	Direction Direction
	Amount    Money
}

// RecordRequest describes one billing operation to record.
type RecordRequest struct {
	Type             TransactionType
	ReferenceID      string
	HolderID         HolderID
	Gross            Money
	Fee              Money
	Net              Money
	PolicyVersion    int
	IdempotencyToken string

	// RefundOf names the transaction being compensated. Required for
	// TxRefund, forbidden otherwise.
	RefundOf TransactionID

	// Effect, when set, mutates the holder's balance in the same unit.
	Effect *BalanceEffect
}

// =============================================================================
// DEFAULT LEDGER
// =============================================================================

type DefaultLedger struct {
	Store TxStore
}

func New(store TxStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) RecordTransaction(ctx context.Context, req RecordRequest) (Transaction, error) {
	if err := validateRequest(req); err != nil {
		return Transaction{}, err
	}

	var result Transaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		// (a) Idempotency: an existing (type, token) row is returned
		// unchanged, with no further writes.
		if req.IdempotencyToken != "" {
			prior, err := s.FindByToken(ctx, req.Type, req.IdempotencyToken)
			if err != nil {
				return err
			}
			if prior != nil {
				result = *prior
				return nil
			}
		}

		tx := Transaction{
			ID:               TransactionID(uuid.NewString()),
			Type:             req.Type,
			ReferenceID:      req.ReferenceID,
			HolderID:         req.HolderID,
			Gross:            req.Gross,
			Fee:              req.Fee,
			Net:              req.Net,
			Currency:         req.Gross.Currency,
			PolicyVersion:    req.PolicyVersion,
			IdempotencyToken: req.IdempotencyToken,
			Status:           StatusPending,
			RefundOf:         req.RefundOf,
			CreatedAt:        time.Now().UTC(),
		}

		// (b) Insert pending.
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}

		// (c) Expand the mapping table.
		lines, err := l.linesFor(ctx, s, tx)
		if err != nil {
			return err
		}

		// (d) Chain running balances and append entries.
		if err := appendEntries(ctx, s, tx, lines); err != nil {
			return err
		}

		// (e) Holder mutation, same unit. A conditional-debit miss rolls
		// everything back.
		if req.Effect != nil {
			if err := applyEffect(ctx, s, *req.Effect); err != nil {
				return err
			}
		}

		// (f) Complete.
		if err := s.MarkTransactionStatus(ctx, tx.ID, StatusPending, StatusCompleted); err != nil {
			return err
		}
		tx.Status = StatusCompleted
		result = tx
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return result, nil
}

func (l *DefaultLedger) linesFor(ctx context.Context, s Store, tx Transaction) ([]EntryLine, error) {
	if tx.Type != TxRefund {
		return Lines(tx)
	}

	original, err := s.GetTransaction(ctx, tx.RefundOf)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("refund of %s: %w", tx.RefundOf, ErrTransactionNotFound)
	}
	// The original is never mutated beyond the one-way flip to refunded.
	if err := s.MarkTransactionStatus(ctx, original.ID, StatusCompleted, StatusRefunded); err != nil {
		return nil, err
	}
	return ReversedLines(original.Type, tx)
}

func appendEntries(ctx context.Context, s Store, tx Transaction, lines []EntryLine) error {
	for _, line := range lines {
		last, err := s.LastBalance(ctx, line.Account, tx.Currency)
		if err != nil {
			return err
		}

		entry := LedgerEntry{
			ID:            EntryID(uuid.NewString()),
			TransactionID: tx.ID,
			Account:       line.Account,
			Direction:     line.Direction,
			Amount:        line.Amount,
			CreatedAt:     time.Now().UTC(),
		}
		entry.BalanceAfter = last.Add(entry.SignedDelta())

		if err := s.InsertEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func applyEffect(ctx context.Context, s Store, effect BalanceEffect) error {
	switch effect.Direction {
	case Debit:
		return s.DebitHolder(ctx, effect.HolderID, effect.Amount)
	case Credit:
		return s.CreditHolder(ctx, effect.HolderID, effect.Amount)
	default:
		return fmt.Errorf("unknown balance effect direction %q", effect.Direction)
	}
}

func validateRequest(req RecordRequest) error {
	if req.Gross.IsNegative() || req.Fee.IsNegative() || req.Net.IsNegative() {
		return fmt.Errorf("amounts must be non-negative")
	}
	if req.Type == TxRefund && req.RefundOf == "" {
		return fmt.Errorf("refund requires the original transaction id")
	}
	if req.Type != TxRefund && req.RefundOf != "" {
		return fmt.Errorf("refund_of is only valid on refund transactions")
	}
	// Rounding closure: fee + net must reassemble gross within a cent.
	if !req.Fee.IsZero() || !req.Net.IsZero() {
		drift := req.Fee.Add(req.Net).Sub(req.Gross).Amount.Abs()
		if drift.GreaterThan(splitEpsilon) {
			return fmt.Errorf("amount split does not reassemble gross (drift %s)", drift)
		}
	}
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

func (l *DefaultLedger) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return l.Store.GetTransaction(ctx, id)
}

func (l *DefaultLedger) Entries(ctx context.Context, id TransactionID) ([]LedgerEntry, error) {
	return l.Store.EntriesForTransaction(ctx, id)
}

func (l *DefaultLedger) TransactionsInWindow(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	return l.Store.TransactionsInWindow(ctx, from, to)
}

func (l *DefaultLedger) AccountBalance(ctx context.Context, account Account, currency Currency) (Money, error) {
	return l.Store.LastBalance(ctx, account, currency)
}
