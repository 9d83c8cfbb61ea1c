package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permcache/permcache/internal/cache"
	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/tier"
	"github.com/permcache/permcache/internal/types"
)

func testManager(t *testing.T) *cache.Manager {
	t.Helper()

	cfg := config.ForTesting()
	local, err := cache.NewLocalCache(cfg.Local, nil)
	require.NoError(t, err)

	registry := tier.NewRegistry(nil)
	require.NoError(t, registry.Register("document.read", types.TierStandard, ""))
	require.NoError(t, registry.Register("document.write", types.TierStandard, ""))

	m := cache.NewManager(cfg, cache.ManagerDeps{Local: local, Tiers: registry})
	t.Cleanup(func() { _ = m.CloseWithTimeout(time.Second) })
	return m
}

func testEngine(t *testing.T) (*Engine, *cache.Manager, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := testManager(t)
	return NewEngine(m, client, config.ForTesting().Queue, nil, nil), m, client
}

func invKey(actor, perm string) types.Key {
	return types.Key{ActorID: actor, Partition: "simple", Permission: perm}
}

func seedDecision(t *testing.T, m *cache.Manager, key types.Key) {
	t.Helper()
	d := types.Decision{Allowed: true, ActorID: key.ActorID, Permission: key.Permission, ResolvedAt: time.Now()}
	require.NoError(t, m.Set(context.Background(), key, d))
}

func TestEngineInvalidate(t *testing.T) {
	engine, m, _ := testEngine(t)
	ctx := context.Background()

	key := invKey("u1", "document.read")
	seedDecision(t, m, key)

	require.NoError(t, engine.Invalidate(ctx, key, types.LevelAll))

	_, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "invalidated key still served")

	// Invalidating an absent key is a no-op.
	require.NoError(t, engine.Invalidate(ctx, key, types.LevelAll))
}

func TestEngineInvalidatePrefix(t *testing.T) {
	engine, m, _ := testEngine(t)
	ctx := context.Background()

	seedDecision(t, m, invKey("u1", "document.read"))
	seedDecision(t, m, invKey("u1", "document.write"))
	seedDecision(t, m, invKey("u2", "document.read"))

	require.NoError(t, engine.InvalidatePrefix(ctx, types.ActorPrefix("u1"), types.LevelAll))

	_, ok, _ := m.Get(ctx, invKey("u1", "document.read"))
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, invKey("u2", "document.read"))
	assert.True(t, ok, "other actor's entry was swept")
}

func TestEngineEnqueuePersists(t *testing.T) {
	engine, m, client := testEngine(t)
	ctx := context.Background()

	key := invKey("u1", "document.read")
	seedDecision(t, m, key)

	require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "role change"))

	// Queued, not yet applied.
	_, ok, _ := m.Get(ctx, key)
	assert.True(t, ok, "queued invalidation applied early")
	assert.Equal(t, int64(1), engine.QueueDepth(ctx))

	// The task is durable: a fresh engine over the same backend sees it.
	restarted := NewEngine(m, client, config.ForTesting().Queue, nil, nil)
	assert.Equal(t, int64(1), restarted.QueueDepth(ctx))

	raw, err := client.LRange(ctx, config.ForTesting().Queue.Key, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var task Task
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &task))
	assert.Equal(t, key.String(), task.CacheKey)
	assert.Equal(t, "role change", task.Reason)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.EnqueuedAt.IsZero())
}

func TestEngineEnqueueWithoutBackendAppliesImmediately(t *testing.T) {
	m := testManager(t)
	engine := NewEngine(m, nil, config.ForTesting().Queue, nil, nil)
	ctx := context.Background()

	key := invKey("u1", "document.read")
	seedDecision(t, m, key)

	require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "no backend"))

	_, ok, _ := m.Get(ctx, key)
	assert.False(t, ok, "invalidation not applied without a queue backend")
	assert.Equal(t, int64(0), engine.QueueDepth(ctx))
}

func TestEngineQueueOverflowAppliesImmediately(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := testManager(t)
	cfg := config.ForTesting().Queue
	cfg.MaxDepth = 3
	engine := NewEngine(m, client, cfg, nil, nil)

	var alerts []string
	engine.SetAlertFunc(func(kind, detail string) { alerts = append(alerts, kind) })

	ctx := context.Background()
	for i, actor := range []string{"u1", "u2", "u3"} {
		require.NoError(t, engine.Enqueue(ctx, invKey(actor, "document.read"), types.LevelAll, "fill"), "enqueue %d", i)
	}
	require.Equal(t, int64(3), engine.QueueDepth(ctx))

	// The queue is full; the next invalidation applies on the spot
	// rather than being dropped.
	key := invKey("u4", "document.read")
	seedDecision(t, m, key)
	require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "overflow"))

	_, ok, _ := m.Get(ctx, key)
	assert.False(t, ok, "overflow task was not applied")
	assert.Equal(t, int64(3), engine.QueueDepth(ctx))
	assert.Equal(t, []string{"queue_overflow"}, alerts)
}

func TestEngineProcessPending(t *testing.T) {
	engine, m, client := testEngine(t)
	ctx := context.Background()

	keys := []types.Key{
		invKey("u1", "document.read"),
		invKey("u2", "document.read"),
		invKey("u3", "document.write"),
	}
	for _, key := range keys {
		seedDecision(t, m, key)
		require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "batch"))
	}

	n, err := engine.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, key := range keys {
		_, ok, _ := m.Get(ctx, key)
		assert.False(t, ok, "key %s still cached after processing", key.String())
	}
	assert.Equal(t, int64(0), engine.QueueDepth(ctx))

	// Completed tasks land on the processed list.
	processed, err := client.LLen(ctx, config.ForTesting().Queue.ProcessedKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), processed)
}

func TestEngineProcessPendingDrainsUnreadableEntries(t *testing.T) {
	engine, m, client := testEngine(t)
	ctx := context.Background()

	key := invKey("u1", "document.read")
	seedDecision(t, m, key)
	require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, ""))
	require.NoError(t, client.LPush(ctx, config.ForTesting().Queue.Key, "{corrupt").Err())

	n, err := engine.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The unreadable entry must not wedge the queue.
	assert.Equal(t, int64(0), engine.QueueDepth(ctx))
}

func TestEngineProcessPendingEmptyQueue(t *testing.T) {
	engine, _, _ := testEngine(t)

	n, err := engine.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnginePrefixTaskSweepsOnApply(t *testing.T) {
	engine, m, _ := testEngine(t)
	ctx := context.Background()

	seedDecision(t, m, invKey("u1", "document.read"))
	seedDecision(t, m, invKey("u1", "document.write"))

	require.NoError(t, engine.EnqueuePrefix(ctx, types.ActorPrefix("u1"), types.LevelAll, "role revoked"))

	n, err := engine.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := m.Get(ctx, invKey("u1", "document.read"))
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, invKey("u1", "document.write"))
	assert.False(t, ok)
}

func TestEngineCleanupExpired(t *testing.T) {
	engine, _, client := testEngine(t)
	ctx := context.Background()
	queueKey := config.ForTesting().Queue.Key

	push := func(age time.Duration) {
		data, err := json.Marshal(Task{
			ID:         "old",
			CacheKey:   invKey("u1", "document.read").String(),
			Level:      types.LevelAll.String(),
			EnqueuedAt: time.Now().Add(-age),
		})
		require.NoError(t, err)
		require.NoError(t, client.LPush(ctx, queueKey, data).Err())
	}

	// Oldest at the tail: push stale tasks first, then live ones.
	push(2 * time.Hour)
	push(90 * time.Minute)
	push(time.Minute)
	push(0)

	removed, err := engine.CleanupExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int64(2), engine.QueueDepth(ctx))
}

// rpushFailClient simulates a backend that dies between the tail pop
// and the re-insert.
type rpushFailClient struct {
	redis.UniversalClient
}

func (c rpushFailClient) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("connection reset"))
	return cmd
}

func TestEngineCleanupExpiredAppliesTaskWhenRequeueFails(t *testing.T) {
	engine, m, client := testEngine(t)
	ctx := context.Background()

	key := invKey("u1", "document.read")
	seedDecision(t, m, key)
	require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "live"))

	broken := NewEngine(m, rpushFailClient{client}, config.ForTesting().Queue, nil, nil)

	_, err := broken.CleanupExpired(ctx, time.Hour)
	require.Error(t, err)

	// The live task was popped and could not go back on the queue, so
	// it must have been applied rather than lost.
	_, ok, _ := m.Get(ctx, key)
	assert.False(t, ok, "popped task neither requeued nor applied")
	assert.Equal(t, int64(0), engine.QueueDepth(ctx))
}

func TestEngineQueueAvailable(t *testing.T) {
	engine, m, _ := testEngine(t)
	assert.True(t, engine.QueueAvailable(context.Background()))

	disconnected := NewEngine(m, nil, config.ForTesting().Queue, nil, nil)
	assert.False(t, disconnected.QueueAvailable(context.Background()))
}
