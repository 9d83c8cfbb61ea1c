// Package fill runs the guarded fill protocol: on a cache miss, one
// goroutine per process and one process per cluster resolve a key
// against the authority while everyone else either waits on the
// in-process flight or falls back to resolving without populating.
package fill

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/permcache/permcache/internal/cache"
	"github.com/permcache/permcache/internal/lock"
	"github.com/permcache/permcache/internal/tier"
	"github.com/permcache/permcache/internal/types"
)

// Guard deduplicates concurrent fills for the same key.
type Guard struct {
	manager  *cache.Manager
	locker   lock.Locker
	resolver types.Resolver
	tiers    *tier.Registry
	metrics  types.MetricsRecorder
	logger   *slog.Logger

	flights singleflight.Group
}

// NewGuard creates a fill guard. locker may be nil when no shared
// backend is configured; fills then dedupe in-process only.
func NewGuard(manager *cache.Manager, locker lock.Locker, resolver types.Resolver, tiers *tier.Registry, metrics types.MetricsRecorder, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		manager:  manager,
		locker:   locker,
		resolver: resolver,
		tiers:    tiers,
		metrics:  metrics,
		logger:   logger.With("component", "fill"),
	}
}

// Load returns the decision for key, from cache when possible and
// from the resolver otherwise. Critical-tier permissions always go to
// the resolver. Returns ErrNoResolver when a resolve is needed but no
// resolver was configured.
func (g *Guard) Load(ctx context.Context, key types.Key) (types.Decision, error) {
	if g.tiers.PolicyFor(key.Permission).MustHitAuthority {
		return g.resolve(ctx, key)
	}

	if d, ok, err := g.manager.Get(ctx, key); err != nil {
		return types.Decision{}, err
	} else if ok {
		return d, nil
	}

	// Concurrent misses for the same key share one fill. Losers of
	// the race get the winner's value, so a burst of identical checks
	// costs one resolve per process at most.
	v, err, _ := g.flights.Do(key.String(), func() (any, error) {
		return g.fill(ctx, key)
	})
	if err != nil {
		return types.Decision{}, err
	}
	return v.(types.Decision), nil
}

// fill runs the cross-process half of the protocol under the
// distributed fill lock.
func (g *Guard) fill(ctx context.Context, key types.Key) (types.Decision, error) {
	// Another goroutine may have populated while we queued behind the
	// flight.
	if d, ok, err := g.manager.Get(ctx, key); err != nil {
		return types.Decision{}, err
	} else if ok {
		return d, nil
	}

	if g.locker == nil {
		return g.resolveAndStore(ctx, key)
	}

	lk, err := g.locker.Acquire(ctx, key.String())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return types.Decision{}, err
		}
		// Lock unavailable or held elsewhere past our patience. Serve
		// this caller by resolving directly; the lock holder owns the
		// cache write.
		if errors.Is(err, types.ErrLockNotAcquired) {
			if g.metrics != nil {
				g.metrics.RecordLockContention()
			}
		} else {
			g.logger.Warn("Fill lock unavailable, resolving without cache write", "key", key.String(), "error", err)
		}
		return g.resolve(ctx, key)
	}
	defer func() {
		if relErr := lk.Release(context.WithoutCancel(ctx)); relErr != nil {
			g.logger.Debug("Fill lock release failed", "key", key.String(), "error", relErr)
		}
	}()

	// Holding the lock, re-check the shared cache: another process
	// may have finished its fill while we waited for the lease.
	if d, ok := g.manager.GetRemote(ctx, key); ok {
		g.backfill(ctx, key, d)
		return d, nil
	}

	return g.resolveAndStore(ctx, key)
}

func (g *Guard) resolveAndStore(ctx context.Context, key types.Key) (types.Decision, error) {
	d, err := g.resolve(ctx, key)
	if err != nil {
		return types.Decision{}, err
	}
	if setErr := g.manager.Set(ctx, key, d); setErr != nil {
		g.logger.Warn("Failed to cache resolved decision", "key", key.String(), "error", setErr)
	}
	return d, nil
}

func (g *Guard) resolve(ctx context.Context, key types.Key) (types.Decision, error) {
	if g.resolver == nil {
		return types.Decision{}, types.ErrNoResolver
	}

	start := time.Now()
	d, err := g.resolver.Resolve(ctx, key.ActorID, key.Permission, key.ScopeType, key.ScopeID)
	if err != nil {
		return types.Decision{}, err
	}
	if g.metrics != nil {
		g.metrics.RecordResolve(time.Since(start))
	}
	return d, nil
}

// backfill writes a shared-cache hit into the local layer.
func (g *Guard) backfill(ctx context.Context, key types.Key, d types.Decision) {
	if err := g.manager.Set(ctx, key, d); err != nil {
		g.logger.Debug("Backfill failed", "key", key.String(), "error", err)
	}
}
