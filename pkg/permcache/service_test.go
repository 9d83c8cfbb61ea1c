package permcache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permcache/permcache/internal/config"
)

func countedResolver(counter *atomic.Int64, allowed bool) ResolverFunc {
	return func(ctx context.Context, actorID, permission, scopeType, scopeID string) (Decision, error) {
		counter.Add(1)
		return Decision{
			Allowed:    allowed,
			ActorID:    actorID,
			Permission: permission,
			ResolvedAt: time.Now(),
		}, nil
	}
}

func localService(t *testing.T, resolver Resolver) PermissionCache {
	t.Helper()
	svc, err := NewFromConfig(TestConfig(), WithResolver(resolver))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func redisService(t *testing.T, resolver Resolver) (PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewFromConfig(config.ForTestingWithRedis(mr.Addr()), WithResolver(resolver))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestCheckPermissionCachesDecision(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	d, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), resolves.Load())

	// Repeat checks serve from cache.
	for i := 0; i < 5; i++ {
		d, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	assert.Equal(t, int64(1), resolves.Load())
}

func TestCheckPermissionCriticalBypassesCache(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	require.NoError(t, svc.RegisterPermission("billing.manage", TierCritical, "payment operations"))

	for i := 0; i < 3; i++ {
		_, err := svc.CheckPermission(ctx, "user-1", "billing.manage", Scope{})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), resolves.Load(), "critical checks must hit the authority every time")
}

func TestCheckPermissionValidatesInput(t *testing.T) {
	svc := localService(t, countedResolver(new(atomic.Int64), true))

	_, err := svc.CheckPermission(context.Background(), "", "document.read", Scope{})
	assert.Error(t, err)

	_, err = svc.CheckPermission(context.Background(), "user-1", "", Scope{})
	assert.Error(t, err)
}

func TestCheckPermissionNoResolver(t *testing.T) {
	svc, err := NewFromConfig(TestConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	_, err = svc.CheckPermission(context.Background(), "user-1", "document.read", Scope{})
	assert.ErrorIs(t, err, ErrNoResolver)
}

func TestTierRegistration(t *testing.T) {
	svc := localService(t, countedResolver(new(atomic.Int64), true))

	require.NoError(t, svc.RegisterPermission("profile.view", TierBasic, ""))
	require.NoError(t, svc.RegisterPermission("billing.manage", TierCritical, ""))

	assert.Equal(t, TierBasic, svc.TierOf("profile.view"))
	assert.Equal(t, TierCritical, svc.TierOf("billing.manage"))
	// Unregistered permissions default to standard.
	assert.Equal(t, TierStandard, svc.TierOf("something.else"))

	assert.True(t, svc.IsClientCacheable("profile.view"))
	assert.False(t, svc.IsClientCacheable("billing.manage"))
	assert.False(t, svc.IsClientCacheable("something.else"))
}

func TestTiersFromConfig(t *testing.T) {
	cfg := TestConfig()
	cfg.Tiers = []config.TierConfig{
		{Name: "profile.view", Tier: "basic"},
		{Name: "billing.manage", Tier: "critical", Description: "payments"},
	}

	svc, err := NewFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Equal(t, TierBasic, svc.TierOf("profile.view"))
	assert.Equal(t, TierCritical, svc.TierOf("billing.manage"))
}

func TestTiersFromConfigInvalidTier(t *testing.T) {
	cfg := TestConfig()
	cfg.Tiers = []config.TierConfig{{Name: "x", Tier: "ultra"}}

	_, err := NewFromConfig(cfg)
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestScopedChecksAreIndependent(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{Type: "project", ID: "p1"})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{Type: "project", ID: "p2"})
	require.NoError(t, err)

	// Three distinct scopes, three resolves.
	assert.Equal(t, int64(3), resolves.Load())

	// But each one only once.
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{Type: "project", ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolves.Load())
}

func TestGetPermissions(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	require.NoError(t, svc.RegisterPermission("document.read", TierBasic, ""))
	require.NoError(t, svc.RegisterPermission("document.write", TierStandard, ""))
	require.NoError(t, svc.RegisterPermission("billing.manage", TierCritical, ""))

	perms, err := svc.GetPermissions(ctx, "user-1", Scope{})
	require.NoError(t, err)

	assert.Len(t, perms, 3)
	for name, d := range perms {
		assert.True(t, d.Allowed, "permission %s", name)
		assert.Equal(t, "user-1", d.ActorID)
	}
	assert.Equal(t, int64(3), resolves.Load())

	// A second pass only re-resolves the critical permission.
	_, err = svc.GetPermissions(ctx, "user-1", Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), resolves.Load())
}

func TestGetPermissionsBatch(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	actors := []string{"user-1", "user-2", "user-3"}
	results, err := svc.GetPermissionsBatch(ctx, actors, "document.read", Scope{})
	require.NoError(t, err)

	assert.Len(t, results, 3)
	for _, actor := range actors {
		d, ok := results[actor]
		require.True(t, ok, "missing decision for %s", actor)
		assert.Equal(t, actor, d.ActorID)
	}
	assert.Equal(t, int64(3), resolves.Load())

	// Cached on the second pass.
	_, err = svc.GetPermissionsBatch(ctx, actors, "document.read", Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolves.Load())
}

func TestCheckPermissionWritesThroughToRedis(t *testing.T) {
	var resolves atomic.Int64
	svc, mr := redisService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)

	// The decision lands in the shared cache under the key prefix.
	found := false
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "test:a:user-1:") {
			found = true
		}
	}
	assert.True(t, found, "no shared-cache entry written, keys: %v", mr.Keys())
}

func TestInvalidateUser(t *testing.T) {
	var resolves atomic.Int64
	svc, _ := redisService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	// Warm several entries for two actors across scopes.
	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{Type: "project", ID: "p1"})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-2", "document.read", Scope{})
	require.NoError(t, err)
	require.Equal(t, int64(3), resolves.Load())

	require.NoError(t, svc.InvalidateUser(ctx, "user-1"))

	// user-1 re-resolves in every scope; user-2 is untouched.
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{Type: "project", ID: "p1"})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-2", "document.read", Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), resolves.Load())
}

func TestInvalidateRoleQueuesAndProcesses(t *testing.T) {
	var resolves atomic.Int64
	svc, _ := redisService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	members := []string{"user-1", "user-2"}
	for _, actor := range members {
		_, err := svc.CheckPermission(ctx, actor, "document.read", Scope{})
		require.NoError(t, err)
	}

	require.NoError(t, svc.InvalidateRole(ctx, "editors", members))

	// Queued, not yet applied: checks still hit the cache.
	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	require.Equal(t, int64(2), resolves.Load())

	analysis, err := svc.InvalidationAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.PendingTasks)

	n, err := svc.ProcessInvalidations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Now both members re-resolve.
	for _, actor := range members {
		_, err := svc.CheckPermission(ctx, actor, "document.read", Scope{})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4), resolves.Load())
}

func TestInvalidateKeys(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)

	key := Key{ActorID: "user-1", Partition: "simple", Permission: "document.read"}
	require.NoError(t, svc.InvalidateKeys(ctx, []Key{key}, LevelAll))

	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resolves.Load())
}

func TestStats(t *testing.T) {
	var resolves atomic.Int64
	svc := localService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	_, err := svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "user-1", "document.read", Scope{})
	require.NoError(t, err)

	stats := svc.Stats(ctx)
	assert.False(t, stats.Timestamp.IsZero())

	p, ok := stats.Partitions["simple"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, p.Hits, int64(1))
	assert.GreaterOrEqual(t, p.Sets, int64(1))
}

func TestRecommendationsNeedSamples(t *testing.T) {
	svc := localService(t, countedResolver(new(atomic.Int64), true))

	assert.Nil(t, svc.Recommendations())
	assert.Empty(t, svc.Alerts())
}

func TestHealthLocalOnly(t *testing.T) {
	svc := localService(t, countedResolver(new(atomic.Int64), true))

	report := svc.Health(context.Background())
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.True(t, report.L1OK)
	assert.True(t, report.L2OK, "no shared backend configured, nothing to degrade over")
	assert.True(t, svc.IsHealthy(context.Background()))
	assert.True(t, svc.IsLocalAvailable())
	assert.False(t, svc.IsRemoteAvailable())
}

func TestHealthDegradedAfterBackendLoss(t *testing.T) {
	var resolves atomic.Int64
	svc, mr := redisService(t, countedResolver(&resolves, true))
	ctx := context.Background()

	require.Equal(t, HealthStatusHealthy, svc.Health(ctx).Status)

	mr.Close()

	// Checks keep being answered from the resolver while errors
	// accumulate and the shared layer marks itself disconnected.
	for i := 0; i < 10; i++ {
		_, err := svc.CheckPermission(ctx, fmt.Sprintf("user-%d", i), "document.read", Scope{})
		require.NoError(t, err)
	}

	report := svc.Health(ctx)
	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.True(t, report.L1OK)
	assert.False(t, report.L2OK)

	// Degraded still means serving.
	assert.True(t, svc.IsHealthy(ctx))
}

func TestCloseIdempotent(t *testing.T) {
	svc := localService(t, countedResolver(new(atomic.Int64), true))

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err := svc.CheckPermission(context.Background(), "user-1", "document.read", Scope{})
	assert.ErrorIs(t, err, ErrClosed)

	err = svc.InvalidateUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewLocalOnly(t *testing.T) {
	svc, err := NewLocalOnly(WithResolver(countedResolver(new(atomic.Int64), true)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.False(t, svc.IsRemoteAvailable())
	assert.True(t, svc.IsLocalAvailable())
}

func TestNewFromConfigInvalid(t *testing.T) {
	cfg := TestConfig()
	cfg.Local.Partitions = nil

	_, err := NewFromConfig(cfg)
	assert.Error(t, err)
}
