package invalidation

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permcache/permcache/internal/cache"
	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

func analyzerEngine(t *testing.T, queueCfg config.QueueConfig) (*Engine, *cache.Manager, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m := testManager(t)
	return NewEngine(m, client, queueCfg, nil, nil), m, client
}

func TestAnalyzeEmptyQueue(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)

	a, err := engine.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, a.PendingTasks)
	assert.Equal(t, HealthHealthy, a.Health)
	assert.Empty(t, a.Recommendations)
}

func TestAnalyzeCollapsesHotActorIntoSweep(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)
	ctx := context.Background()

	// One actor with enough tasks to cross the sweep threshold, one
	// with a single task.
	for i := 0; i < 20; i++ {
		key := invKey("hot-user", fmt.Sprintf("perm.%d", i))
		require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "role change"))
	}
	require.NoError(t, engine.Enqueue(ctx, invKey("cold-user", "document.read"), types.LevelAll, "role change"))

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	assert.Equal(t, 21, a.PendingTasks)
	require.Len(t, a.Recommendations, 2)

	// Sweeps sort before targeted deletes.
	sweep := a.Recommendations[0]
	assert.Equal(t, ActionSweep, sweep.Action)
	assert.Equal(t, types.ActorPrefix("hot-user"), sweep.Prefix)
	assert.Equal(t, 20, sweep.TaskCount)

	del := a.Recommendations[1]
	assert.Equal(t, ActionDelete, del.Action)
	assert.Equal(t, []string{invKey("cold-user", "document.read").String()}, del.Keys)
}

func TestAnalyzeSmallGroupsBecomeTargetedDeletes(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)
	ctx := context.Background()

	for _, actor := range []string{"u1", "u2", "u3"} {
		require.NoError(t, engine.Enqueue(ctx, invKey(actor, "document.read"), types.LevelAll, "cleanup"))
	}

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	require.Len(t, a.Recommendations, 3)
	for _, rec := range a.Recommendations {
		assert.Equal(t, ActionDelete, rec.Action)
		assert.Len(t, rec.Keys, 1)
	}
}

func TestAnalyzePrefixTaskIsAlwaysSweep(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)
	ctx := context.Background()

	// A single queued prefix never meets the size threshold, but it is
	// already a sweep.
	require.NoError(t, engine.EnqueuePrefix(ctx, types.ActorPrefix("u1"), types.LevelAll, "role revoked"))

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	require.Len(t, a.Recommendations, 1)
	assert.Equal(t, ActionSweep, a.Recommendations[0].Action)
	assert.Equal(t, types.ActorPrefix("u1"), a.Recommendations[0].Prefix)
}

func TestAnalyzeGroupsSplitByReason(t *testing.T) {
	cfg := config.ForTesting().Queue
	cfg.SweepThreshold = 3
	engine, _, _ := analyzerEngine(t, cfg)
	ctx := context.Background()

	// Same actor, two distinct reasons; only one side crosses the
	// threshold.
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Enqueue(ctx, invKey("u1", fmt.Sprintf("perm.%d", i)), types.LevelAll, "role change"))
	}
	require.NoError(t, engine.Enqueue(ctx, invKey("u1", "perm.x"), types.LevelAll, "manual"))

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	require.Len(t, a.Recommendations, 2)
	assert.Equal(t, ActionSweep, a.Recommendations[0].Action)
	assert.Equal(t, "role change", a.Recommendations[0].Reason)
	assert.Equal(t, ActionDelete, a.Recommendations[1].Action)
	assert.Equal(t, "manual", a.Recommendations[1].Reason)
}

func TestAnalyzeBulkActorInvalidationIsOneSweep(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)
	ctx := context.Background()

	// A bulk write fans out to 200 queued invalidations for one actor
	// across five permissions. That must collapse into a single sweep,
	// not 200 targeted deletes.
	perms := []string{"document.read", "document.write", "project.view", "project.edit", "billing.view"}
	for i := 0; i < 200; i++ {
		key := invKey("actor-9", perms[i%len(perms)])
		key.ScopeType = "project"
		key.ScopeID = fmt.Sprintf("p%d", i)
		key.Partition = "scoped"
		require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "role change"))
	}

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	assert.Equal(t, 200, a.PendingTasks)
	require.Len(t, a.Recommendations, 1)
	rec := a.Recommendations[0]
	assert.Equal(t, ActionSweep, rec.Action)
	assert.Equal(t, types.ActorPrefix("actor-9"), rec.Prefix)
	assert.Equal(t, 200, rec.TaskCount)
}

func TestExecuteAppliesAndDrains(t *testing.T) {
	engine, m, _ := analyzerEngine(t, config.ForTesting().Queue)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := invKey("hot-user", "document.read")
		key.ScopeType = "project"
		key.ScopeID = fmt.Sprintf("p%d", i)
		key.Partition = "scoped"
		seedDecision(t, m, key)
		require.NoError(t, engine.Enqueue(ctx, key, types.LevelAll, "sweep me"))
	}
	bystander := invKey("cold-user", "document.read")
	seedDecision(t, m, bystander)

	a, err := engine.Analyze(ctx)
	require.NoError(t, err)

	// A task arriving after the snapshot must survive the drain.
	late := invKey("late-user", "document.read")
	require.NoError(t, engine.Enqueue(ctx, late, types.LevelAll, "late"))

	n, err := engine.Execute(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// The hot actor's entries are gone, the bystander's survive.
	assert.Equal(t, 1, m.EntryCount())
	_, ok, _ := m.Get(ctx, bystander)
	assert.True(t, ok)

	assert.Equal(t, int64(1), engine.QueueDepth(ctx))
}

func TestExecuteEmptyAnalysis(t *testing.T) {
	engine, _, _ := analyzerEngine(t, config.ForTesting().Queue)

	a, err := engine.Analyze(context.Background())
	require.NoError(t, err)

	n, err := engine.Execute(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueueHealthTransitions(t *testing.T) {
	cfg := config.ForTesting().Queue
	cfg.MaxDepth = 100
	engine, _, _ := analyzerEngine(t, cfg)

	tests := []struct {
		name  string
		depth int64
		want  string
	}{
		{"first observation", 10, HealthGrowing},
		{"steady", 10, HealthHealthy},
		{"rising", 20, HealthGrowing},
		{"falling", 5, HealthDraining},
		{"near capacity", 85, HealthGrowing},
		// Above 80% of capacity the trend no longer matters.
		{"high but falling", 82, HealthGrowing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.health(tt.depth); got != tt.want {
				t.Errorf("health(%d) = %q, want %q", tt.depth, got, tt.want)
			}
		})
	}
}

func TestQueueDepthDoesNotSkewHealthTrend(t *testing.T) {
	cfg := config.ForTesting().Queue
	cfg.MaxDepth = 100
	engine, _, _ := analyzerEngine(t, cfg)

	engine.health(10)
	require.Equal(t, HealthHealthy, engine.health(10))

	// A depth probe between analyses observes the real (empty) queue
	// and must not feed the trend comparison.
	engine.QueueDepth(context.Background())

	assert.Equal(t, HealthDraining, engine.health(5))
}
