/*
fee.go - Fee breakdown computation

PURPOSE:
  Turns a base amount plus an operation kind into the gross/fee/net split
  recorded on every transaction. All secondary amounts are computed as
  further percentage-of-subtotal steps, each rounded to 2 decimal places
  as it is taken, never computed once and divided later.

RATE RESOLUTION (most specific wins):
  1. Region override for the caller's region
  2. Tier rate for the gross amount
  3. Schedule rate for the operation kind

FAIL CLOSED:
  No active policy, or a kind absent from the schedule, rejects the
  calculation. A billing operation without a priced rate must not proceed.

SEE ALSO:
  - registry.go: Where policies come from
  - billing: The orchestrator consuming FeeBreakdown
*/
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// FEE BREAKDOWN
// =============================================================================

// FeeBreakdown is the result of one fee calculation. PolicyVersion pins
// the version used: transactions record it and it never changes, even
// after newer policies activate.
type FeeBreakdown struct {
	Gross         ledger.Money
	Fee           ledger.Money
	Net           ledger.Money
	Tax           ledger.Money
	Rate          decimal.Decimal
	PolicyVersion int
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Registry Registry
}

func NewCalculator(registry Registry) *Calculator {
	return &Calculator{Registry: registry}
}

// CalculateFee resolves the active policy at asOf and computes the split.
// round2 at each step keeps fee + net == gross within a cent.
func (c *Calculator) CalculateFee(base ledger.Money, kind OperationKind, region string, asOf time.Time) (FeeBreakdown, error) {
	if base.IsNegative() {
		return FeeBreakdown{}, fmt.Errorf("base amount must be non-negative")
	}

	p, err := c.Registry.GetActivePolicy(asOf)
	if err != nil {
		return FeeBreakdown{}, err
	}
	return Breakdown(*p, base, kind, region)
}

// Breakdown computes the split under a specific policy. Exported so tests
// and replay paths can price against a pinned version.
func Breakdown(p FeePolicy, base ledger.Money, kind OperationKind, region string) (FeeBreakdown, error) {
	rate, err := ResolveRate(p, kind, region, base.Amount)
	if err != nil {
		return FeeBreakdown{}, err
	}

	fee := base.Mul(rate).Round2()
	net := base.Sub(fee)
	tax := net.Zero()
	if p.TaxRate.IsPositive() {
		tax = net.Mul(p.TaxRate).Round2()
	}

	return FeeBreakdown{
		Gross:         base,
		Fee:           fee,
		Net:           net,
		Tax:           tax,
		Rate:          rate,
		PolicyVersion: p.Version,
	}, nil
}

// ResolveRate applies the most-specific-wins order documented above.
func ResolveRate(p FeePolicy, kind OperationKind, region string, gross decimal.Decimal) (decimal.Decimal, error) {
	if region != "" {
		if override, ok := p.RegionOverrides[region]; ok {
			return override, nil
		}
	}

	if tier, ok := matchTier(p.TierTable, gross); ok {
		return tier.Rate, nil
	}

	rate, ok := p.RateSchedule[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("kind %q not priced by policy v%d: %w", kind, p.Version, ledger.ErrNoActivePolicy)
	}
	return rate, nil
}

func matchTier(tiers []Tier, gross decimal.Decimal) (Tier, bool) {
	var best Tier
	found := false
	for _, t := range tiers {
		if gross.LessThan(t.MinAmount) {
			continue
		}
		if !found || t.MinAmount.GreaterThan(best.MinAmount) {
			best = t
			found = true
		}
	}
	return best, found
}
