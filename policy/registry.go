/*
registry.go - Append-only policy storage and active-version resolution

PURPOSE:
  The Registry is the one place billing flows obtain fee policies from.
  Resolution is a pure function of a provided timestamp, so callers never
  depend on the wall clock and tests can pin any instant.

STARTUP:
  NewRegistry loads every stored version and verifies its signature.
  An integrity mismatch aborts startup: a registry that cannot trust its
  schedule must not serve.

APPEND-ONLY:
  CreatePolicy assigns the next version, requires effectiveFrom to be no
  earlier than the newest existing version (so "latest effectiveFrom"
  always picks exactly one active policy), signs the draft, and persists
  it. There is no update or delete path.

SEE ALSO:
  - policy.go: FeePolicy type and signature
  - store/sqlite: fee_policies persistence
*/
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// STORE - Policy persistence
// =============================================================================

type Store interface {
	// InsertPolicy appends a new version. Versions are unique.
	InsertPolicy(ctx context.Context, p FeePolicy) error

	// ListPolicies returns every stored version, ordered by version.
	ListPolicies(ctx context.Context) ([]FeePolicy, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry interface {
	GetActivePolicy(asOf time.Time) (*FeePolicy, error)
	GetPolicyByVersion(version int) (*FeePolicy, error)
	CreatePolicy(ctx context.Context, draft Draft) (*FeePolicy, error)
	VerifyIntegrity() error
	List() []FeePolicy
}

// Draft is the admin-supplied input for a new version. Version, signature,
// and creation time are assigned by the registry.
type Draft struct {
	EffectiveFrom   time.Time
	EffectiveUntil  *time.Time
	RateSchedule    map[OperationKind]decimal.Decimal
	TierTable       []Tier
	RegionOverrides map[string]decimal.Decimal
	TaxRate         decimal.Decimal
}

// StoreRegistry caches the immutable versions in memory. The cache is safe
// precisely because policies never change: it is populated from the store
// at startup and only ever appended to.
type StoreRegistry struct {
	store Store

	mu       sync.RWMutex
	policies []FeePolicy // ordered by version
}

// NewRegistry loads and verifies all stored policies. Integrity mismatches
// are fatal here by design: refusing to start beats serving tampered rates.
func NewRegistry(ctx context.Context, store Store) (*StoreRegistry, error) {
	policies, err := store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fee policies: %w", err)
	}

	r := &StoreRegistry{store: store, policies: policies}
	if err := r.VerifyIntegrity(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetActivePolicy resolves the version in effect at asOf: the latest
// effectiveFrom <= asOf that has not expired. Fails closed when none is.
func (r *StoreRegistry) GetActivePolicy(asOf time.Time) (*FeePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := ActivePolicyAt(r.policies, asOf)
	if active == nil {
		return nil, fmt.Errorf("as of %s: %w", asOf.Format(time.RFC3339), ledger.ErrNoActivePolicy)
	}
	return active, nil
}

// ActivePolicyAt is the pure resolution function: latest effectiveFrom
// among versions active at asOf, with ties going to the higher version so
// a correction effective at the same instant supersedes the version it
// corrects. Exported for direct testing.
func ActivePolicyAt(policies []FeePolicy, asOf time.Time) *FeePolicy {
	var active *FeePolicy
	for i := range policies {
		p := &policies[i]
		if !p.ActiveAt(asOf) {
			continue
		}
		if active == nil || p.EffectiveFrom.After(active.EffectiveFrom) ||
			(p.EffectiveFrom.Equal(active.EffectiveFrom) && p.Version > active.Version) {
			active = p
		}
	}
	if active == nil {
		return nil
	}
	copy := *active
	return &copy
}

func (r *StoreRegistry) GetPolicyByVersion(version int) (*FeePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.policies {
		if r.policies[i].Version == version {
			p := r.policies[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("version %d: %w", version, ledger.ErrPolicyNotFound)
}

func (r *StoreRegistry) CreatePolicy(ctx context.Context, draft Draft) (*FeePolicy, error) {
	if len(draft.RateSchedule) == 0 {
		return nil, fmt.Errorf("draft has no rate schedule")
	}
	if draft.EffectiveUntil != nil && !draft.EffectiveUntil.After(draft.EffectiveFrom) {
		return nil, fmt.Errorf("effective_until must be after effective_from")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := 1
	if n := len(r.policies); n > 0 {
		newest := r.policies[n-1]
		version = newest.Version + 1
		// Keeps "latest effectiveFrom" unambiguous: versions activate in
		// creation order.
		if draft.EffectiveFrom.Before(newest.EffectiveFrom) {
			return nil, fmt.Errorf("effective_from predates v%d", newest.Version)
		}
	}

	p := FeePolicy{
		Version:         version,
		EffectiveFrom:   draft.EffectiveFrom.UTC(),
		EffectiveUntil:  draft.EffectiveUntil,
		RateSchedule:    draft.RateSchedule,
		TierTable:       draft.TierTable,
		RegionOverrides: draft.RegionOverrides,
		TaxRate:         draft.TaxRate,
		CreatedAt:       time.Now().UTC(),
	}
	p.Signature = ComputeSignature(p)

	if err := r.store.InsertPolicy(ctx, p); err != nil {
		return nil, err
	}
	r.policies = append(r.policies, p)
	return &p, nil
}

// VerifyIntegrity recomputes every stored signature and reports the first
// mismatch. Never auto-corrects: a mismatch is a tamper signal.
func (r *StoreRegistry) VerifyIntegrity() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.policies {
		if !VerifySignature(p) {
			return fmt.Errorf("%w: %s", ledger.ErrIntegrityViolation, (&IntegrityError{Version: p.Version}).Error())
		}
	}
	return nil
}

func (r *StoreRegistry) List() []FeePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FeePolicy, len(r.policies))
	copy(out, r.policies)
	return out
}

// =============================================================================
// MEMORY STORE - for tests and seeding
// =============================================================================

type MemoryStore struct {
	mu       sync.Mutex
	policies []FeePolicy
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) InsertPolicy(_ context.Context, p FeePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.policies {
		if existing.Version == p.Version {
			return fmt.Errorf("version %d already exists", p.Version)
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func (m *MemoryStore) ListPolicies(_ context.Context) ([]FeePolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeePolicy, len(m.policies))
	copy(out, m.policies)
	return out, nil
}
