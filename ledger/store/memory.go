// Package store provides in-memory Store implementations for tests and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// MEMORY STORE - implements ledger.TxStore and balance.Store
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.TransactionID]ledger.Transaction
	order        []ledger.TransactionID
	byToken      map[tokenKey]ledger.TransactionID
	entriesByTx  map[ledger.TransactionID][]ledger.LedgerEntry
	byAccount    map[accountKey][]ledger.LedgerEntry
	holders      map[ledger.HolderID]balance.Holder
}

type tokenKey struct {
	Type  ledger.TransactionType
	Token string
}

type accountKey struct {
	Account  ledger.Account
	Currency ledger.Currency
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		byToken:      make(map[tokenKey]ledger.TransactionID),
		entriesByTx:  make(map[ledger.TransactionID][]ledger.LedgerEntry),
		byAccount:    make(map[accountKey][]ledger.LedgerEntry),
		holders:      make(map[ledger.HolderID]balance.Holder),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransactionLocked(tx)
}

func (m *Memory) insertTransactionLocked(tx ledger.Transaction) error {
	if tx.IdempotencyToken != "" {
		k := tokenKey{Type: tx.Type, Token: tx.IdempotencyToken}
		if _, exists := m.byToken[k]; exists {
			return ledger.ErrDuplicateOperation
		}
		m.byToken[k] = tx.ID
	}
	m.transactions[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return nil
}

func (m *Memory) MarkTransactionStatus(_ context.Context, id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markStatusLocked(id, from, to)
}

func (m *Memory) markStatusLocked(id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if tx.Status != from {
		return ledger.ErrInvalidTransition
	}
	tx.Status = to
	m.transactions[id] = tx
	return nil
}

func (m *Memory) FindByToken(_ context.Context, t ledger.TransactionType, token string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[tokenKey{Type: t, Token: token}]
	if !ok {
		return nil, nil
	}
	tx := m.transactions[id]
	return &tx, nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) TransactionsInWindow(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, id := range m.order {
		tx := m.transactions[id]
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) InsertEntry(_ context.Context, e ledger.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntryLocked(e)
}

func (m *Memory) insertEntryLocked(e ledger.LedgerEntry) error {
	m.entriesByTx[e.TransactionID] = append(m.entriesByTx[e.TransactionID], e)
	k := accountKey{Account: e.Account, Currency: e.Amount.Currency}
	m.byAccount[k] = append(m.byAccount[k], e)
	return nil
}

func (m *Memory) EntriesForTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entriesByTx[id]
	result := make([]ledger.LedgerEntry, len(entries))
	copy(result, entries)
	return result, nil
}

func (m *Memory) LastBalance(_ context.Context, account ledger.Account, currency ledger.Currency) (ledger.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBalanceLocked(account, currency), nil
}

func (m *Memory) lastBalanceLocked(account ledger.Account, currency ledger.Currency) ledger.Money {
	entries := m.byAccount[accountKey{Account: account, Currency: currency}]
	if len(entries) == 0 {
		return ledger.Money{Currency: currency}
	}
	return entries[len(entries)-1].BalanceAfter
}

// =============================================================================
// HOLDERS (balance.Store)
// =============================================================================

func (m *Memory) GetHolder(_ context.Context, id ledger.HolderID) (*balance.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holders[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *Memory) SaveHolder(_ context.Context, h balance.Holder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Config-only upsert for existing holders. Balances move only through
	// debit/credit, matching the SQL store's ON CONFLICT clause.
	if prev, ok := m.holders[h.ID]; ok {
		h.Available = prev.Available
		h.Reserved = prev.Reserved
		h.Used = prev.Used
		h.CreatedAt = prev.CreatedAt
	}
	h.UpdatedAt = time.Now().UTC()
	m.holders[h.ID] = h
	return nil
}

func (m *Memory) DebitHolder(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitHolderLocked(id, amount)
}

func (m *Memory) debitHolderLocked(id ledger.HolderID, amount ledger.Money) error {
	h, ok := m.holders[id]
	if !ok {
		return ledger.ErrHolderNotFound
	}
	// Conditional-update semantics: the check and the write happen under
	// the same lock, mirroring the SQL "WHERE available >= ?" guard.
	if h.Available.LessThan(amount) {
		return &ledger.InsufficientBalanceError{HolderID: id, Available: h.Available, Requested: amount}
	}
	h.Available = h.Available.Sub(amount)
	h.Used = h.Used.Add(amount)
	h.UpdatedAt = time.Now().UTC()
	m.holders[id] = h
	return nil
}

func (m *Memory) CreditHolder(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditHolderLocked(id, amount)
}

func (m *Memory) creditHolderLocked(id ledger.HolderID, amount ledger.Money) error {
	h, ok := m.holders[id]
	if !ok {
		return ledger.ErrHolderNotFound
	}
	h.Available = h.Available.Add(amount)
	h.UpdatedAt = time.Now().UTC()
	m.holders[id] = h
	return nil
}

func (m *Memory) ReserveHolder(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holders[id]
	if !ok {
		return ledger.ErrHolderNotFound
	}
	if h.Available.LessThan(amount) {
		return &ledger.InsufficientBalanceError{HolderID: id, Available: h.Available, Requested: amount}
	}
	h.Available = h.Available.Sub(amount)
	h.Reserved = h.Reserved.Add(amount)
	h.UpdatedAt = time.Now().UTC()
	m.holders[id] = h
	return nil
}

func (m *Memory) ReleaseReserve(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holders[id]
	if !ok {
		return ledger.ErrHolderNotFound
	}
	if h.Reserved.LessThan(amount) {
		return &ledger.InsufficientBalanceError{HolderID: id, Available: h.Reserved, Requested: amount}
	}
	h.Reserved = h.Reserved.Sub(amount)
	h.Available = h.Available.Add(amount)
	h.UpdatedAt = time.Now().UTC()
	m.holders[id] = h
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW - snapshot + rollback on error
// =============================================================================

// WithTx executes fn against a view that writes directly to the store and
// restores a snapshot if fn fails. All callers serialize on the lock, so
// the unit is atomic and isolated.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[ledger.TransactionID]ledger.Transaction
	order        []ledger.TransactionID
	byToken      map[tokenKey]ledger.TransactionID
	entriesByTx  map[ledger.TransactionID][]ledger.LedgerEntry
	byAccount    map[accountKey][]ledger.LedgerEntry
	holders      map[ledger.HolderID]balance.Holder
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions)),
		order:        append([]ledger.TransactionID{}, m.order...),
		byToken:      make(map[tokenKey]ledger.TransactionID, len(m.byToken)),
		entriesByTx:  make(map[ledger.TransactionID][]ledger.LedgerEntry, len(m.entriesByTx)),
		byAccount:    make(map[accountKey][]ledger.LedgerEntry, len(m.byAccount)),
		holders:      make(map[ledger.HolderID]balance.Holder, len(m.holders)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.byToken {
		s.byToken[k] = v
	}
	for k, v := range m.entriesByTx {
		s.entriesByTx[k] = append([]ledger.LedgerEntry{}, v...)
	}
	for k, v := range m.byAccount {
		s.byAccount[k] = append([]ledger.LedgerEntry{}, v...)
	}
	for k, v := range m.holders {
		s.holders[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.order = s.order
	m.byToken = s.byToken
	m.entriesByTx = s.entriesByTx
	m.byAccount = s.byAccount
	m.holders = s.holders
}

type txView struct {
	parent *Memory
}

func (v *txView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.insertTransactionLocked(tx)
}

func (v *txView) MarkTransactionStatus(_ context.Context, id ledger.TransactionID, from, to ledger.TransactionStatus) error {
	return v.parent.markStatusLocked(id, from, to)
}

func (v *txView) FindByToken(_ context.Context, t ledger.TransactionType, token string) (*ledger.Transaction, error) {
	id, ok := v.parent.byToken[tokenKey{Type: t, Token: token}]
	if !ok {
		return nil, nil
	}
	tx := v.parent.transactions[id]
	return &tx, nil
}

func (v *txView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, ok := v.parent.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (v *txView) TransactionsInWindow(_ context.Context, from, to time.Time) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, id := range v.parent.order {
		tx := v.parent.transactions[id]
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (v *txView) InsertEntry(_ context.Context, e ledger.LedgerEntry) error {
	return v.parent.insertEntryLocked(e)
}

func (v *txView) EntriesForTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return v.parent.entriesByTx[id], nil
}

func (v *txView) LastBalance(_ context.Context, account ledger.Account, currency ledger.Currency) (ledger.Money, error) {
	return v.parent.lastBalanceLocked(account, currency), nil
}

func (v *txView) DebitHolder(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	return v.parent.debitHolderLocked(id, amount)
}

func (v *txView) CreditHolder(_ context.Context, id ledger.HolderID, amount ledger.Money) error {
	return v.parent.creditHolderLocked(id, amount)
}
