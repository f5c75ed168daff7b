/*
factory.go - JSON drafts and seed policies

PURPOSE:
  Converts JSON policy drafts into registry input, so operators can define
  fee schedules without code changes, and provides the default seed
  schedule for fresh databases.

JSON SCHEMA:
  {
    "effective_from": "2026-01-01T00:00:00Z",
    "rate_schedule": {"booking": "0.05", "call": "0.10"},
    "tier_table": [{"min_amount": "10000", "rate": "0.04"}],
    "region_overrides": {"eu-west": "0.06"},
    "tax_rate": "0.0"
  }

  Rates are decimal strings: JSON numbers would round-trip through
  float64 and change the signature input.

SEE ALSO:
  - registry.go: CreatePolicy consuming the Draft
  - api: the admin endpoint accepting DraftJSON
*/
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON DRAFTS
// =============================================================================

type DraftJSON struct {
	EffectiveFrom   string            `json:"effective_from"`
	EffectiveUntil  string            `json:"effective_until,omitempty"`
	RateSchedule    map[string]string `json:"rate_schedule"`
	TierTable       []TierJSON        `json:"tier_table,omitempty"`
	RegionOverrides map[string]string `json:"region_overrides,omitempty"`
	TaxRate         string            `json:"tax_rate,omitempty"`
}

type TierJSON struct {
	MinAmount string `json:"min_amount"`
	Rate      string `json:"rate"`
}

// ParseDraft validates and converts a JSON draft.
func ParseDraft(data []byte) (Draft, error) {
	var j DraftJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Draft{}, fmt.Errorf("invalid draft json: %w", err)
	}
	return j.ToDraft()
}

func (j DraftJSON) ToDraft() (Draft, error) {
	from, err := time.Parse(time.RFC3339, j.EffectiveFrom)
	if err != nil {
		return Draft{}, fmt.Errorf("invalid effective_from: %w", err)
	}

	draft := Draft{
		EffectiveFrom: from,
		RateSchedule:  make(map[OperationKind]decimal.Decimal, len(j.RateSchedule)),
	}

	if j.EffectiveUntil != "" {
		until, err := time.Parse(time.RFC3339, j.EffectiveUntil)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid effective_until: %w", err)
		}
		draft.EffectiveUntil = &until
	}

	for kind, rate := range j.RateSchedule {
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid rate for %q: %w", kind, err)
		}
		draft.RateSchedule[OperationKind(kind)] = d
	}

	for _, t := range j.TierTable {
		min, err := decimal.NewFromString(t.MinAmount)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid tier min_amount: %w", err)
		}
		rate, err := decimal.NewFromString(t.Rate)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid tier rate: %w", err)
		}
		draft.TierTable = append(draft.TierTable, Tier{MinAmount: min, Rate: rate})
	}

	if len(j.RegionOverrides) > 0 {
		draft.RegionOverrides = make(map[string]decimal.Decimal, len(j.RegionOverrides))
		for region, rate := range j.RegionOverrides {
			d, err := decimal.NewFromString(rate)
			if err != nil {
				return Draft{}, fmt.Errorf("invalid override for %q: %w", region, err)
			}
			draft.RegionOverrides[region] = d
		}
	}

	if j.TaxRate != "" {
		d, err := decimal.NewFromString(j.TaxRate)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid tax_rate: %w", err)
		}
		draft.TaxRate = d
	}

	return draft, nil
}

// =============================================================================
// SEED SCHEDULE
// =============================================================================

// DefaultDraft is the schedule installed on a fresh database: 5% booking,
// 3% listing, 10% milestone completion, 10% call minutes, free payouts.
func DefaultDraft(effectiveFrom time.Time) Draft {
	return Draft{
		EffectiveFrom: effectiveFrom,
		RateSchedule: map[OperationKind]decimal.Decimal{
			OpBooking:   decimal.NewFromFloat(0.05),
			OpListing:   decimal.NewFromFloat(0.03),
			OpMilestone: decimal.NewFromFloat(0.10),
			OpCall:      decimal.NewFromFloat(0.10),
			OpPayout:    decimal.Zero,
		},
	}
}

// SeedDefault installs the default schedule when the registry is empty.
func SeedDefault(ctx context.Context, registry Registry) error {
	if len(registry.List()) > 0 {
		return nil
	}
	_, err := registry.CreatePolicy(ctx, DefaultDraft(time.Now().UTC()))
	return err
}
