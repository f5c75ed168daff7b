/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  One store implements every persistence contract in the system. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  ledger.TxStore:      Transactions, entries, atomic units
  balance.Store:       Balance holders with conditional debits
  policy.Store:        Append-only fee policy versions
  billing.FlowStore:   Booking / milestone flow state
  reconcile.ReportStore: Write-once reconciliation reports

KEY TABLES:
  transactions:           One row per billing operation
  ledger_entries:         Append-only debit/credit rows (no UPDATE/DELETE)
  balance_holders:        Wallets and escrow holders
  fee_policies:           Immutable versioned schedules
  bookings / milestones:  Flow state machines
  reconciliation_reports: Verification sweeps

AMOUNT STORAGE:
  Transactions and entries store decimal amounts as TEXT: they are
  written once and only ever read back. Holder balances store integer
  cents so the conditional debit is exact integer arithmetic in SQL:

    UPDATE balance_holders
    SET available_cents = available_cents - ?
    WHERE id = ? AND available_cents >= ?

  Zero rows affected means insufficient balance. This single statement
  is the concurrency-safety primitive for balances; there is no
  read-then-write window to race.

IDEMPOTENCY:
  A unique index on (tx_type, idempotency_token) backstops the recording
  path's check-then-insert. A constraint hit surfaces as
  ledger.ErrDuplicateOperation.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  one writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definitions and the conditional-debit contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
	"github.com/warp/billing-engine/reconcile"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier abstracts *sql.DB and *sql.Tx so every statement runs the same
// inside and outside an atomic unit.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across the
	// pool; writes serialize on the store's lock anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (one row per billing operation)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		holder_id TEXT,
		gross TEXT NOT NULL,
		fee TEXT NOT NULL,
		net TEXT NOT NULL,
		currency TEXT NOT NULL,
		policy_version INTEGER NOT NULL DEFAULT 0,
		idempotency_token TEXT,
		status TEXT NOT NULL,
		refund_of TEXT,
		created_at TEXT NOT NULL
	);

	-- Backstop for the recording path's idempotency check
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(tx_type, idempotency_token)
		WHERE idempotency_token IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_holder
		ON transactions(holder_id) WHERE holder_id IS NOT NULL;

	-- Ledger entries (append-only: no UPDATE or DELETE statements exist)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		account TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_transaction
		ON ledger_entries(transaction_id);
	-- Hot path: last balance per (account, currency)
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON ledger_entries(account, currency);

	-- Balance holders (cents columns back the conditional debit)
	CREATE TABLE IF NOT EXISTS balance_holders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		currency TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		available_cents INTEGER NOT NULL DEFAULT 0,
		reserved_cents INTEGER NOT NULL DEFAULT 0,
		used_cents INTEGER NOT NULL DEFAULT 0,
		auto_replenish BOOLEAN NOT NULL DEFAULT FALSE,
		replenish_threshold_cents INTEGER NOT NULL DEFAULT 0,
		replenish_amount_cents INTEGER NOT NULL DEFAULT 0,
		replenish_method_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Fee policies (append-only versions)
	CREATE TABLE IF NOT EXISTS fee_policies (
		version INTEGER PRIMARY KEY,
		effective_from TEXT NOT NULL,
		effective_until TEXT,
		rate_schedule_json TEXT NOT NULL,
		tier_table_json TEXT,
		region_overrides_json TEXT,
		tax_rate TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Bookings (flow state)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		start_at TEXT NOT NULL,
		status TEXT NOT NULL,
		method_ref TEXT,
		transaction_id TEXT,
		refund_transaction_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);

	-- Milestones (flow state)
	CREATE TABLE IF NOT EXISTS milestones (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		payer_id TEXT NOT NULL,
		payee_id TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		fund_transaction_id TEXT,
		fee_transaction_id TEXT,
		release_transaction_id TEXT,
		refund_transaction_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_milestones_contract ON milestones(contract_id);
	CREATE INDEX IF NOT EXISTS idx_milestones_status ON milestones(status);

	-- Reconciliation reports (write-once)
	CREATE TABLE IF NOT EXISTS reconciliation_reports (
		id TEXT PRIMARY KEY,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		checked INTEGER NOT NULL,
		discrepancies_json TEXT,
		generated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, tx_type, reference_id, holder_id, gross, fee, net, currency,
		 policy_version, idempotency_token, status, refund_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.Type),
		tx.ReferenceID,
		string(tx.HolderID),
		tx.Gross.Amount.String(),
		tx.Fee.Amount.String(),
		tx.Net.Amount.String(),
		string(tx.Currency),
		tx.PolicyVersion,
		nullString(tx.IdempotencyToken),
		string(tx.Status),
		nullString(string(tx.RefundOf)),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s/%s: %w", tx.Type, tx.IdempotencyToken, ledger.ErrDuplicateOperation)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) MarkTransactionStatus(ctx context.Context, id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markTransactionStatus(ctx, s.db, id, from, to)
}

func markTransactionStatus(ctx context.Context, q querier, id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	res, err := q.ExecContext(ctx,
		"UPDATE transactions SET status = ? WHERE id = ? AND status = ?",
		string(to), string(id), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := getTransaction(ctx, q, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("transaction %s: %w", id, ledger.ErrTransactionNotFound)
		}
		return fmt.Errorf("transaction %s is %s, not %s: %w", id, existing.Status, from, ledger.ErrInvalidTransition)
	}
	return nil
}

func (s *Store) FindByToken(ctx context.Context, t ledger.TransactionType, token string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByToken(ctx, s.db, t, token)
}

func findByToken(ctx context.Context, q querier, t ledger.TransactionType, token string) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, q,
		selectTransaction+" WHERE tx_type = ? AND idempotency_token = ?",
		string(t), token,
	)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, q, selectTransaction+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) TransactionsInWindow(ctx context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsInWindow(ctx, s.db, from, to)
}

func transactionsInWindow(ctx context.Context, q querier, from, to time.Time) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		selectTransaction+`
		 WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at ASC, rowid ASC`,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano),
	)
}

const selectTransaction = `
	SELECT id, tx_type, reference_id, holder_id, gross, fee, net, currency,
	       policy_version, idempotency_token, status, refund_of, created_at
	FROM transactions`

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx          ledger.Transaction
		id          string
		txType      string
		referenceID sql.NullString
		holderID    sql.NullString
		gross       string
		fee         string
		net         string
		currency    string
		token       sql.NullString
		status      string
		refundOf    sql.NullString
		createdAt   string
	)

	err := rows.Scan(&id, &txType, &referenceID, &holderID, &gross, &fee, &net,
		&currency, &tx.PolicyVersion, &token, &status, &refundOf, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	cur := ledger.Currency(currency)
	tx.ID = ledger.TransactionID(id)
	tx.Type = ledger.TransactionType(txType)
	tx.ReferenceID = referenceID.String
	tx.HolderID = ledger.HolderID(holderID.String)
	tx.Gross = ledger.Money{Amount: ledger.MustParseDecimal(gross), Currency: cur}
	tx.Fee = ledger.Money{Amount: ledger.MustParseDecimal(fee), Currency: cur}
	tx.Net = ledger.Money{Amount: ledger.MustParseDecimal(net), Currency: cur}
	tx.Currency = cur
	tx.IdempotencyToken = token.String
	tx.Status = ledger.TransactionStatus(status)
	tx.RefundOf = ledger.TransactionID(refundOf.String)
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return tx, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) InsertEntry(ctx context.Context, e ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, q querier, e ledger.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, transaction_id, account, direction, amount, currency, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(e.ID),
		string(e.TransactionID),
		string(e.Account),
		string(e.Direction),
		e.Amount.Amount.String(),
		string(e.Amount.Currency),
		e.BalanceAfter.Amount.String(),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) EntriesForTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesForTransaction(ctx, s.db, id)
}

func entriesForTransaction(ctx context.Context, q querier, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	query := `
		SELECT id, transaction_id, account, direction, amount, currency, balance_after, created_at
		FROM ledger_entries
		WHERE transaction_id = ?
		ORDER BY rowid ASC
	`

	rows, err := q.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		var (
			e            ledger.LedgerEntry
			entryID      string
			txID         string
			account      string
			direction    string
			amount       string
			currency     string
			balanceAfter string
			createdAt    string
		)
		if err := rows.Scan(&entryID, &txID, &account, &direction, &amount, &currency, &balanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		cur := ledger.Currency(currency)
		e.ID = ledger.EntryID(entryID)
		e.TransactionID = ledger.TransactionID(txID)
		e.Account = ledger.Account(account)
		e.Direction = ledger.Direction(direction)
		e.Amount = ledger.Money{Amount: ledger.MustParseDecimal(amount), Currency: cur}
		e.BalanceAfter = ledger.Money{Amount: ledger.MustParseDecimal(balanceAfter), Currency: cur}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LastBalance(ctx context.Context, account ledger.Account, currency ledger.Currency) (ledger.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastBalance(ctx, s.db, account, currency)
}

func lastBalance(ctx context.Context, q querier, account ledger.Account, currency ledger.Currency) (ledger.Money, error) {
	var balanceAfter string
	err := q.QueryRowContext(ctx,
		`SELECT balance_after FROM ledger_entries
		 WHERE account = ? AND currency = ?
		 ORDER BY rowid DESC LIMIT 1`,
		string(account), string(currency),
	).Scan(&balanceAfter)

	if err == sql.ErrNoRows {
		return ledger.Money{Amount: decimal.Zero, Currency: currency}, nil
	}
	if err != nil {
		return ledger.Money{}, fmt.Errorf("failed to query last balance: %w", err)
	}
	return ledger.Money{Amount: ledger.MustParseDecimal(balanceAfter), Currency: currency}, nil
}

// =============================================================================
// BALANCE HOLDERS (balance.Store interface)
// =============================================================================

func (s *Store) GetHolder(ctx context.Context, id ledger.HolderID) (*balance.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getHolder(ctx, s.db, id)
}

func getHolder(ctx context.Context, q querier, id ledger.HolderID) (*balance.Holder, error) {
	query := `
		SELECT id, kind, currency, region, available_cents, reserved_cents, used_cents,
		       auto_replenish, replenish_threshold_cents, replenish_amount_cents,
		       replenish_method_ref, created_at, updated_at
		FROM balance_holders WHERE id = ?
	`

	var (
		h                balance.Holder
		holderID         string
		kind             string
		currency         string
		availableCents   int64
		reservedCents    int64
		usedCents        int64
		thresholdCents   int64
		amountCents      int64
		createdAt        string
		updatedAt        string
	)
	err := q.QueryRowContext(ctx, query, string(id)).Scan(
		&holderID, &kind, &currency, &h.Region,
		&availableCents, &reservedCents, &usedCents,
		&h.AutoReplenish, &thresholdCents, &amountCents,
		&h.ReplenishMethodRef, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query holder: %w", err)
	}

	cur := ledger.Currency(currency)
	h.ID = ledger.HolderID(holderID)
	h.Kind = balance.Kind(kind)
	h.Currency = cur
	h.Available = fromCents(availableCents, cur)
	h.Reserved = fromCents(reservedCents, cur)
	h.Used = fromCents(usedCents, cur)
	h.ReplenishThreshold = fromCents(thresholdCents, cur)
	h.ReplenishAmount = fromCents(amountCents, cur)
	h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	h.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &h, nil
}

func (s *Store) SaveHolder(ctx context.Context, h balance.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO balance_holders
		(id, kind, currency, region, available_cents, reserved_cents, used_cents,
		 auto_replenish, replenish_threshold_cents, replenish_amount_cents,
		 replenish_method_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region = excluded.region,
			auto_replenish = excluded.auto_replenish,
			replenish_threshold_cents = excluded.replenish_threshold_cents,
			replenish_amount_cents = excluded.replenish_amount_cents,
			replenish_method_ref = excluded.replenish_method_ref,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(h.ID), string(h.Kind), string(h.Currency), h.Region,
		toCents(h.Available), toCents(h.Reserved), toCents(h.Used),
		h.AutoReplenish, toCents(h.ReplenishThreshold), toCents(h.ReplenishAmount),
		h.ReplenishMethodRef,
		h.CreatedAt.UTC().Format(time.RFC3339Nano),
		h.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save holder: %w", err)
	}
	return nil
}

func (s *Store) DebitHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debitHolder(ctx, s.db, id, amount)
}

// debitHolder is THE conditional update: zero rows affected means the
// balance cannot cover the amount, and the caller's unit rolls back.
func debitHolder(ctx context.Context, q querier, id ledger.HolderID, amount ledger.Money) error {
	cents := toCents(amount)
	res, err := q.ExecContext(ctx,
		`UPDATE balance_holders
		 SET available_cents = available_cents - ?,
		     used_cents = used_cents + ?,
		     updated_at = ?
		 WHERE id = ? AND available_cents >= ?`,
		cents, cents, time.Now().UTC().Format(time.RFC3339Nano), string(id), cents,
	)
	if err != nil {
		return fmt.Errorf("failed to debit holder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		h, err := getHolder(ctx, q, id)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("holder %s: %w", id, ledger.ErrHolderNotFound)
		}
		return &ledger.InsufficientBalanceError{
			HolderID:  id,
			Available: h.Available,
			Requested: amount,
		}
	}
	return nil
}

func (s *Store) CreditHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return creditHolder(ctx, s.db, id, amount)
}

func creditHolder(ctx context.Context, q querier, id ledger.HolderID, amount ledger.Money) error {
	res, err := q.ExecContext(ctx,
		`UPDATE balance_holders
		 SET available_cents = available_cents + ?, updated_at = ?
		 WHERE id = ?`,
		toCents(amount), time.Now().UTC().Format(time.RFC3339Nano), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to credit holder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("holder %s: %w", id, ledger.ErrHolderNotFound)
	}
	return nil
}

func (s *Store) ReserveHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cents := toCents(amount)
	res, err := s.db.ExecContext(ctx,
		`UPDATE balance_holders
		 SET available_cents = available_cents - ?,
		     reserved_cents = reserved_cents + ?,
		     updated_at = ?
		 WHERE id = ? AND available_cents >= ?`,
		cents, cents, time.Now().UTC().Format(time.RFC3339Nano), string(id), cents,
	)
	if err != nil {
		return fmt.Errorf("failed to reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		h, err := getHolder(ctx, s.db, id)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("holder %s: %w", id, ledger.ErrHolderNotFound)
		}
		return &ledger.InsufficientBalanceError{
			HolderID:  id,
			Available: h.Available,
			Requested: amount,
		}
	}
	return nil
}

func (s *Store) ReleaseReserve(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cents := toCents(amount)
	res, err := s.db.ExecContext(ctx,
		`UPDATE balance_holders
		 SET reserved_cents = reserved_cents - ?,
		     available_cents = available_cents + ?,
		     updated_at = ?
		 WHERE id = ? AND reserved_cents >= ?`,
		cents, cents, time.Now().UTC().Format(time.RFC3339Nano), string(id), cents,
	)
	if err != nil {
		return fmt.Errorf("failed to release reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("release %s from holder %s exceeds reservation: %w",
			amount.Amount, id, ledger.ErrInsufficientBalance)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. Any error from fn
// rolls back every write, including holder balance mutations.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes ledger.Store calls through one *sql.Tx. The parent's
// mutex is held for the whole unit, so no locking happens here.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) MarkTransactionStatus(ctx context.Context, id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	return markTransactionStatus(ctx, ts.tx, id, from, to)
}

func (ts *txStore) FindByToken(ctx context.Context, t ledger.TransactionType, token string) (*ledger.Transaction, error) {
	return findByToken(ctx, ts.tx, t, token)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) TransactionsInWindow(ctx context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	return transactionsInWindow(ctx, ts.tx, from, to)
}

func (ts *txStore) InsertEntry(ctx context.Context, e ledger.LedgerEntry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) EntriesForTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return entriesForTransaction(ctx, ts.tx, id)
}

func (ts *txStore) LastBalance(ctx context.Context, account ledger.Account, currency ledger.Currency) (ledger.Money, error) {
	return lastBalance(ctx, ts.tx, account, currency)
}

func (ts *txStore) DebitHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return debitHolder(ctx, ts.tx, id, amount)
}

func (ts *txStore) CreditHolder(ctx context.Context, id ledger.HolderID, amount ledger.Money) error {
	return creditHolder(ctx, ts.tx, id, amount)
}

// =============================================================================
// FEE POLICY STORE (policy.Store interface)
// =============================================================================

func (s *Store) InsertPolicy(ctx context.Context, p policy.FeePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rateJSON, err := json.Marshal(p.RateSchedule)
	if err != nil {
		return fmt.Errorf("failed to encode rate schedule: %w", err)
	}
	tierJSON, err := json.Marshal(p.TierTable)
	if err != nil {
		return fmt.Errorf("failed to encode tier table: %w", err)
	}
	regionJSON, err := json.Marshal(p.RegionOverrides)
	if err != nil {
		return fmt.Errorf("failed to encode region overrides: %w", err)
	}

	var until *string
	if p.EffectiveUntil != nil {
		t := p.EffectiveUntil.UTC().Format(time.RFC3339)
		until = &t
	}

	query := `
		INSERT INTO fee_policies
		(version, effective_from, effective_until, rate_schedule_json,
		 tier_table_json, region_overrides_json, tax_rate, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		p.Version,
		p.EffectiveFrom.UTC().Format(time.RFC3339),
		until,
		string(rateJSON),
		string(tierJSON),
		string(regionJSON),
		p.TaxRate.String(),
		p.Signature,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("fee policy v%d already exists", p.Version)
		}
		return fmt.Errorf("failed to insert fee policy: %w", err)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]policy.FeePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT version, effective_from, effective_until, rate_schedule_json,
		       tier_table_json, region_overrides_json, tax_rate, signature, created_at
		FROM fee_policies
		ORDER BY version ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee policies: %w", err)
	}
	defer rows.Close()

	var policies []policy.FeePolicy
	for rows.Next() {
		var (
			p          policy.FeePolicy
			from       string
			until      sql.NullString
			rateJSON   string
			tierJSON   sql.NullString
			regionJSON sql.NullString
			taxRate    string
			createdAt  string
		)
		if err := rows.Scan(&p.Version, &from, &until, &rateJSON, &tierJSON, &regionJSON, &taxRate, &p.Signature, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fee policy: %w", err)
		}

		p.EffectiveFrom, _ = time.Parse(time.RFC3339, from)
		if until.Valid {
			t, _ := time.Parse(time.RFC3339, until.String)
			p.EffectiveUntil = &t
		}
		if err := json.Unmarshal([]byte(rateJSON), &p.RateSchedule); err != nil {
			return nil, fmt.Errorf("failed to decode rate schedule for v%d: %w", p.Version, err)
		}
		if tierJSON.Valid && tierJSON.String != "" && tierJSON.String != "null" {
			if err := json.Unmarshal([]byte(tierJSON.String), &p.TierTable); err != nil {
				return nil, fmt.Errorf("failed to decode tier table for v%d: %w", p.Version, err)
			}
		}
		if regionJSON.Valid && regionJSON.String != "" && regionJSON.String != "null" {
			if err := json.Unmarshal([]byte(regionJSON.String), &p.RegionOverrides); err != nil {
				return nil, fmt.Errorf("failed to decode region overrides for v%d: %w", p.Version, err)
			}
		}
		p.TaxRate = ledger.MustParseDecimal(taxRate)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// FLOW STORE (billing.FlowStore interface)
// =============================================================================

func (s *Store) SaveBooking(ctx context.Context, b billing.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings
		(id, buyer_id, venue_id, region, total, currency, start_at, status,
		 method_ref, transaction_id, refund_transaction_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			transaction_id = excluded.transaction_id,
			refund_transaction_id = excluded.refund_transaction_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, string(b.BuyerID), b.VenueID, b.Region,
		b.Total.Amount.String(), string(b.Total.Currency),
		b.StartAt.UTC().Format(time.RFC3339),
		string(b.Status),
		nullString(b.MethodRef),
		nullString(string(b.TransactionID)),
		nullString(string(b.RefundTransactionID)),
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*billing.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, buyer_id, venue_id, region, total, currency, start_at, status,
		       method_ref, transaction_id, refund_transaction_id, created_at, updated_at
		FROM bookings WHERE id = ?
	`

	var (
		b         billing.Booking
		buyerID   string
		total     string
		currency  string
		startAt   string
		status    string
		methodRef sql.NullString
		txID      sql.NullString
		refundID  sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &buyerID, &b.VenueID, &b.Region, &total, &currency, &startAt,
		&status, &methodRef, &txID, &refundID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}

	b.BuyerID = ledger.HolderID(buyerID)
	b.Total = ledger.Money{Amount: ledger.MustParseDecimal(total), Currency: ledger.Currency(currency)}
	b.StartAt, _ = time.Parse(time.RFC3339, startAt)
	b.Status = billing.BookingStatus(status)
	b.MethodRef = methodRef.String
	b.TransactionID = ledger.TransactionID(txID.String)
	b.RefundTransactionID = ledger.TransactionID(refundID.String)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &b, nil
}

func (s *Store) SaveMilestone(ctx context.Context, m billing.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO milestones
		(id, contract_id, payer_id, payee_id, region, amount, currency, status,
		 fund_transaction_id, fee_transaction_id, release_transaction_id,
		 refund_transaction_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			fund_transaction_id = excluded.fund_transaction_id,
			fee_transaction_id = excluded.fee_transaction_id,
			release_transaction_id = excluded.release_transaction_id,
			refund_transaction_id = excluded.refund_transaction_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ContractID, string(m.PayerID), string(m.PayeeID), m.Region,
		m.Amount.Amount.String(), string(m.Amount.Currency),
		string(m.Status),
		nullString(string(m.FundTransactionID)),
		nullString(string(m.FeeTransactionID)),
		nullString(string(m.ReleaseTransactionID)),
		nullString(string(m.RefundTransactionID)),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save milestone: %w", err)
	}
	return nil
}

func (s *Store) GetMilestone(ctx context.Context, id string) (*billing.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, contract_id, payer_id, payee_id, region, amount, currency, status,
		       fund_transaction_id, fee_transaction_id, release_transaction_id,
		       refund_transaction_id, created_at, updated_at
		FROM milestones WHERE id = ?
	`

	var (
		m         billing.Milestone
		payerID   string
		payeeID   string
		amount    string
		currency  string
		status    string
		fundID    sql.NullString
		feeID     sql.NullString
		releaseID sql.NullString
		refundID  sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ContractID, &payerID, &payeeID, &m.Region, &amount, &currency,
		&status, &fundID, &feeID, &releaseID, &refundID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query milestone: %w", err)
	}

	m.PayerID = ledger.HolderID(payerID)
	m.PayeeID = ledger.HolderID(payeeID)
	m.Amount = ledger.Money{Amount: ledger.MustParseDecimal(amount), Currency: ledger.Currency(currency)}
	m.Status = billing.MilestoneStatus(status)
	m.FundTransactionID = ledger.TransactionID(fundID.String)
	m.FeeTransactionID = ledger.TransactionID(feeID.String)
	m.ReleaseTransactionID = ledger.TransactionID(releaseID.String)
	m.RefundTransactionID = ledger.TransactionID(refundID.String)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &m, nil
}

// =============================================================================
// RECONCILIATION REPORTS (reconcile.ReportStore interface)
// =============================================================================

func (s *Store) SaveReport(ctx context.Context, r reconcile.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discrepanciesJSON, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to encode discrepancies: %w", err)
	}

	query := `
		INSERT INTO reconciliation_reports
		(id, window_start, window_end, checked, discrepancies_json, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.WindowStart.UTC().Format(time.RFC3339Nano),
		r.WindowEnd.UTC().Format(time.RFC3339Nano),
		r.Checked,
		string(discrepanciesJSON),
		r.GeneratedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation report: %w", err)
	}
	return nil
}

func (s *Store) ListReports(ctx context.Context) ([]reconcile.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, window_start, window_end, checked, discrepancies_json, generated_at
		FROM reconciliation_reports
		ORDER BY generated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []reconcile.Report
	for rows.Next() {
		var (
			r             reconcile.Report
			windowStart   string
			windowEnd     string
			discrepancies sql.NullString
			generatedAt   string
		)
		if err := rows.Scan(&r.ID, &windowStart, &windowEnd, &r.Checked, &discrepancies, &generatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		r.WindowStart, _ = time.Parse(time.RFC3339Nano, windowStart)
		r.WindowEnd, _ = time.Parse(time.RFC3339Nano, windowEnd)
		r.GeneratedAt, _ = time.Parse(time.RFC3339Nano, generatedAt)
		if discrepancies.Valid && discrepancies.String != "" && discrepancies.String != "null" {
			if err := json.Unmarshal([]byte(discrepancies.String), &r.Discrepancies); err != nil {
				return nil, fmt.Errorf("failed to decode discrepancies: %w", err)
			}
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"ledger_entries", "transactions", "balance_holders",
		"fee_policies", "bookings", "milestones", "reconciliation_reports",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toCents(m ledger.Money) int64 {
	return m.Amount.Shift(2).Round(0).IntPart()
}

func fromCents(c int64, currency ledger.Currency) ledger.Money {
	return ledger.Money{Amount: decimal.New(c, -2), Currency: currency}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
