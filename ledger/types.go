/*
Package ledger provides the double-entry transaction core.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for
  recording money movements. Whether the flow is a venue booking fee, a
  milestone escrow release, or a minute-wallet top-up, the same engine
  records one immutable Transaction plus a balanced set of LedgerEntries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency
  - Transaction: The billing-level record (gross/fee/net split, status)
  - LedgerEntry: One debit or credit row against a named Account
  - Account: A logical bucket whose balance is derived from its entries

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified; corrections are new
     compensating transactions
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Conservation: Every completed transaction's debits equal its credits
  4. Auditability: Every transaction carries a policy version and an
     idempotency token

SEE ALSO:
  - entrymap.go: Declarative transaction-type -> account-pair mapping
  - ledger.go: Atomic RecordTransaction semantics
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Amount: decimal.NewFromFloat(value).Round(2), Currency: currency}
}

func NewMoneyFromDecimal(d decimal.Decimal, currency Currency) Money {
	return Money{Amount: d, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                 { return Money{Amount: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money           { return Money{Amount: m.Amount.Add(b.Amount), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Amount: m.Amount.Sub(b.Amount), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Amount: m.Amount.Mul(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Amount: m.Amount.Neg(), Currency: m.Currency} }
func (m Money) Round2() Money               { return Money{Amount: m.Amount.Round(2), Currency: m.Currency} }
func (m Money) IsNegative() bool            { return m.Amount.IsNegative() }
func (m Money) IsZero() bool                { return m.Amount.IsZero() }
func (m Money) IsPositive() bool            { return m.Amount.IsPositive() }
func (m Money) GreaterThan(b Money) bool    { return m.Amount.GreaterThan(b.Amount) }
func (m Money) LessThan(b Money) bool       { return m.Amount.LessThan(b.Amount) }
func (m Money) Equal(b Money) bool          { return m.Amount.Equal(b.Amount) && m.Currency == b.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type EntryID string
type HolderID string

// =============================================================================
// ACCOUNTS - Logical ledger buckets
// =============================================================================

// Account is a stable named bucket. It has no row of its own: its balance
// is always derived by folding its LedgerEntries in creation order.
type Account string

const (
	AccountHolderReceivable   Account = "holder-receivable"
	AccountBuyerPayable       Account = "buyer-payable"
	AccountPayerReceivable    Account = "payer-receivable"
	AccountPayeeReceivable    Account = "payee-receivable"
	AccountPlatformRevenue    Account = "platform-revenue"
	AccountPlatformEscrow     Account = "platform-escrow"
	AccountHolderWalletCredit Account = "holder-wallet-credit"
	AccountGatewayClearing    Account = "gateway-clearing"
	AccountTax                Account = "tax"
)

// =============================================================================
// TRANSACTION - One billing operation
// =============================================================================

type TransactionType string

const (
	TxListingFee    TransactionType = "listing_fee"    // posting/listing charge
	TxBookingFee    TransactionType = "booking_fee"    // booking/order charge
	TxFund          TransactionType = "fund"           // escrow funding
	TxRelease       TransactionType = "release"        // escrow payout to payee
	TxCompletionFee TransactionType = "completion_fee" // platform cut on release
	TxPayout        TransactionType = "payout"         // revenue payout to payee
	TxTopUp         TransactionType = "top_up"         // wallet top-up (external capture)
	TxUsageFee      TransactionType = "usage_fee"      // wallet unit consumption (per-minute billing)
	TxRefund        TransactionType = "refund"         // compensating transaction
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusRefunded  TransactionStatus = "refunded"
)

// Transaction is created once. Status transitions are one-way
// (pending -> completed|failed, completed -> refunded). A refund is a NEW
// compensating transaction referencing the original, never a mutation of it.
type Transaction struct {
	ID            TransactionID
	Type          TransactionType
	ReferenceID   string   // booking/milestone/call identifier
	HolderID      HolderID // balance holder billed against, if any
	Gross         Money
	Fee           Money
	Net           Money
	Currency      Currency
	PolicyVersion int
	// IdempotencyToken makes retries side-effect-free: (Type, token) maps
	// to at most one completed transaction.
	IdempotencyToken string
	Status           TransactionStatus
	RefundOf         TransactionID // set on refund transactions
	CreatedAt        time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable debit/credit row
// =============================================================================

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// LedgerEntry is append-only: never updated, never deleted. BalanceAfter is
// the account's running balance immediately after this entry
// (prior balance + credit - debit).
type LedgerEntry struct {
	ID            EntryID
	TransactionID TransactionID
	Account       Account
	Direction     Direction
	Amount        Money
	BalanceAfter  Money
	CreatedAt     time.Time
}

// SignedDelta returns the entry's effect on its account balance.
func (e LedgerEntry) SignedDelta() Money {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}
