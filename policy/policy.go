/*
Package policy provides the versioned fee-policy registry.

PURPOSE:
  Stores immutable, versioned fee schedules and resolves "the policy in
  effect at time T". A new policy is a new version, never an edit. Exactly
  one version is active at any instant, selected by the latest
  effectiveFrom not yet expired.

INTEGRITY:
  Every policy carries a deterministic sha256 signature over its immutable
  fields, recomputed and compared at load time. A mismatch is a tamper
  signal: the registry refuses to serve and the mismatch is fatal at
  startup.

FAIL CLOSED:
  If no policy is active at lookup time, dependent fee calculations are
  rejected. There is no default or assumed rate.

KEY CONCEPTS IN THIS FILE (policy.go):
  - FeePolicy: the versioned schedule (rates, tiers, region overrides)
  - OperationKind: which billing flow a rate applies to
  - Signature computation and verification

SEE ALSO:
  - registry.go: Active-version resolution and append-only storage
  - fee.go: Fee breakdown computation with per-step rounding
*/
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OPERATION KINDS
// =============================================================================

// OperationKind names a billing flow the rate schedule prices.
type OperationKind string

const (
	OpListing   OperationKind = "listing"
	OpBooking   OperationKind = "booking"
	OpMilestone OperationKind = "milestone"
	OpCall      OperationKind = "call"
	OpPayout    OperationKind = "payout"
)

// =============================================================================
// FEE POLICY - Immutable versioned schedule
// =============================================================================

// Tier adjusts the rate by transaction size: the tier with the largest
// MinAmount <= gross wins over the schedule rate. An empty table means the
// schedule rate always applies.
type Tier struct {
	MinAmount decimal.Decimal
	Rate      decimal.Decimal
}

// FeePolicy is immutable once created. Fields never change; corrections
// ship as a new version.
type FeePolicy struct {
	Version        int
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time

	// RateSchedule maps operation kinds to fractional rates (0.05 = 5%).
	RateSchedule map[OperationKind]decimal.Decimal

	// TierTable optionally scales the rate by gross amount.
	TierTable []Tier

	// RegionOverrides replace the resolved rate for a region entirely.
	RegionOverrides map[string]decimal.Decimal

	// TaxRate is applied to the net subtotal as a secondary
	// percentage-of-subtotal step.
	TaxRate decimal.Decimal

	// Signature is the sha256 hash over the immutable fields above.
	Signature string

	CreatedAt time.Time
}

// ActiveAt reports whether this version is in effect at the given instant.
func (p FeePolicy) ActiveAt(asOf time.Time) bool {
	if asOf.Before(p.EffectiveFrom) {
		return false
	}
	if p.EffectiveUntil != nil && !asOf.Before(*p.EffectiveUntil) {
		return false
	}
	return true
}

// =============================================================================
// INTEGRITY SIGNATURE
// =============================================================================

// ComputeSignature hashes a canonical encoding of the immutable fields.
// Map iteration order is not deterministic, so keys are sorted first.
func ComputeSignature(p FeePolicy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=%d|from=%s", p.Version, p.EffectiveFrom.UTC().Format(time.RFC3339))
	if p.EffectiveUntil != nil {
		fmt.Fprintf(&b, "|until=%s", p.EffectiveUntil.UTC().Format(time.RFC3339))
	}

	kinds := make([]string, 0, len(p.RateSchedule))
	for k := range p.RateSchedule {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "|rate:%s=%s", k, p.RateSchedule[OperationKind(k)].String())
	}

	for _, t := range p.TierTable {
		fmt.Fprintf(&b, "|tier:%s=%s", t.MinAmount.String(), t.Rate.String())
	}

	regions := make([]string, 0, len(p.RegionOverrides))
	for r := range p.RegionOverrides {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	for _, r := range regions {
		fmt.Fprintf(&b, "|region:%s=%s", r, p.RegionOverrides[r].String())
	}

	fmt.Fprintf(&b, "|tax=%s", p.TaxRate.String())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifySignature recomputes the hash and compares it with the stored one.
func VerifySignature(p FeePolicy) bool {
	return p.Signature != "" && p.Signature == ComputeSignature(p)
}

// IntegrityError identifies the first tampered version found.
type IntegrityError struct {
	Version int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fee policy v%d failed integrity verification", e.Version)
}
