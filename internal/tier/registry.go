// Package tier classifies permissions by how aggressively their
// decisions may be cached.
package tier

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/permcache/permcache/internal/types"
)

// policyTable is the fixed four-row tier policy lookup. TierCritical
// always has a zero server TTL and must hit the authority source; no
// code path overrides this.
var policyTable = map[types.Tier]types.TierPolicy{
	types.TierBasic:    {ClientCacheable: true, ServerTTL: 2 * time.Hour},
	types.TierStandard: {ClientCacheable: false, ServerTTL: 30 * time.Minute},
	types.TierAdvanced: {ClientCacheable: false, ServerTTL: 5 * time.Minute},
	types.TierCritical: {ClientCacheable: false, ServerTTL: 0, MustHitAuthority: true},
}

// PolicyOf returns the cache policy for a tier. Unknown tiers get the
// standard policy, failing toward requiring authority validation
// rather than over-caching.
func PolicyOf(t types.Tier) types.TierPolicy {
	if p, ok := policyTable[t]; ok {
		return p
	}
	return policyTable[types.TierStandard]
}

// Registration records one permission's tier assignment.
type Registration struct {
	Name        string
	Tier        types.Tier
	Description string
}

// Registry maps permission names to tiers. Registrations are
// last-write-wins under concurrency; reads never observe a partially
// updated table.
type Registry struct {
	mu     sync.RWMutex
	perms  map[string]Registration
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		perms:  make(map[string]Registration),
		logger: logger.With("component", "tier-registry"),
	}
}

// Register upserts a permission's tier. It is idempotent; registering
// an invalid tier or empty name fails fast with ErrInvalidTier.
func (r *Registry) Register(name string, t types.Tier, description string) error {
	if name == "" {
		return fmt.Errorf("%w: empty permission name", types.ErrInvalidTier)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: tier %d for permission %q", types.ErrInvalidTier, t, name)
	}

	r.mu.Lock()
	prev, existed := r.perms[name]
	r.perms[name] = Registration{Name: name, Tier: t, Description: description}
	r.mu.Unlock()

	if existed && prev.Tier != t {
		r.logger.Info("Permission re-tiered",
			"permission", name,
			"from", prev.Tier.String(),
			"to", t.String(),
		)
	}
	return nil
}

// TierOf returns the tier of a permission. Unknown permissions
// default to TierStandard.
func (r *Registry) TierOf(name string) types.Tier {
	r.mu.RLock()
	reg, ok := r.perms[name]
	r.mu.RUnlock()
	if !ok {
		return types.TierStandard
	}
	return reg.Tier
}

// PolicyFor returns the current cache policy for a permission.
func (r *Registry) PolicyFor(name string) types.TierPolicy {
	return PolicyOf(r.TierOf(name))
}

// IsClientCacheable reports whether a permission's decision may be
// cached outside this process.
func (r *Registry) IsClientCacheable(name string) bool {
	return r.PolicyFor(name).ClientCacheable
}

// CacheTTL returns the shared-cache TTL for a permission. Zero means
// the decision is never written to the shared cache.
func (r *Registry) CacheTTL(name string) time.Duration {
	return r.PolicyFor(name).ServerTTL
}

// Snapshot returns all registrations sorted by name.
func (r *Registry) Snapshot() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.perms))
	for _, reg := range r.perms {
		out = append(out, reg)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered permissions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.perms)
}
