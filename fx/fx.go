/*
Package fx defines the currency conversion contract.

PURPOSE:
  Transactions record amounts in their own currency; cross-currency
  totals (reporting, multi-region reconciliation) convert through a
  RateSource. The contract is defined here so a live provider can be
  swapped in without touching callers; the bundled implementation is a
  static table suitable for development and tests.

SEE ALSO:
  - ledger: the Money type being converted
*/
package fx

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/ledger"
)

// Rate is one quote: how many units of the base currency one unit of
// Currency is worth.
type Rate struct {
	Currency  ledger.Currency
	Rate      decimal.Decimal
	Source    string
	Timestamp time.Time
}

// RateSource quotes a currency against the platform's base currency at a
// given instant.
type RateSource interface {
	GetRate(currency ledger.Currency, asOf time.Time) (Rate, error)
}

// =============================================================================
// STATIC TABLE
// =============================================================================

// StaticTable is a fixed-rate source. The zero value quotes nothing;
// NewStaticTable seeds the bundled development rates.
type StaticTable struct {
	Base  ledger.Currency
	rates map[ledger.Currency]decimal.Decimal
}

// NewStaticTable returns a USD-based table with development rates.
func NewStaticTable() *StaticTable {
	return &StaticTable{
		Base: ledger.CurrencyUSD,
		rates: map[ledger.Currency]decimal.Decimal{
			ledger.CurrencyUSD: decimal.NewFromInt(1),
			ledger.CurrencyEUR: decimal.NewFromFloat(1.08),
		},
	}
}

func (t *StaticTable) GetRate(currency ledger.Currency, asOf time.Time) (Rate, error) {
	rate, ok := t.rates[currency]
	if !ok {
		return Rate{}, fmt.Errorf("no rate for currency %q", currency)
	}
	return Rate{
		Currency:  currency,
		Rate:      rate,
		Source:    "static",
		Timestamp: asOf.UTC(),
	}, nil
}

// Convert converts an amount into the table's base currency, rounded to
// 2 decimal places like every other monetary step.
func Convert(source RateSource, m ledger.Money, base ledger.Currency, asOf time.Time) (ledger.Money, error) {
	if m.Currency == base {
		return m, nil
	}
	rate, err := source.GetRate(m.Currency, asOf)
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{
		Amount:   m.Amount.Mul(rate.Rate).Round(2),
		Currency: base,
	}, nil
}
