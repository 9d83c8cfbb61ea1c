// Package invalidation removes cached decisions when the facts behind
// them change. Invalidations are either applied immediately or queued
// in Redis for batched processing; the queue survives restarts and
// its depth is observable.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/permcache/permcache/internal/cache"
	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

// Task is one queued invalidation. Tasks are serialized to JSON on
// the Redis list, so a queue written by one version of the service
// must stay readable by the next.
type Task struct {
	ID         string    `json:"id"`
	CacheKey   string    `json:"cache_key"`
	Level      string    `json:"level"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AlertFunc is invoked when the engine detects a condition an
// operator should know about, such as queue overflow.
type AlertFunc func(kind, detail string)

// Engine applies and queues invalidations.
type Engine struct {
	manager *cache.Manager
	client  redis.UniversalClient
	config  config.QueueConfig
	metrics types.MetricsRecorder
	logger  *slog.Logger
	alertFn AlertFunc

	taskCounter atomic.Int64
	enqueued    atomic.Int64
	processed   atomic.Int64

	// lastDepth caches the depth for QueueDepth when the backend is
	// unreachable; trendDepth is the previous observation the health
	// trend compares against. They must stay separate or a Stats call
	// between analyses skews the trend.
	lastDepth  atomic.Int64
	trendDepth atomic.Int64
}

// NewEngine creates an invalidation engine. client may be nil when no
// shared backend is configured; queued invalidations then degrade to
// immediate application.
func NewEngine(manager *cache.Manager, client redis.UniversalClient, cfg config.QueueConfig, metrics types.MetricsRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		manager: manager,
		client:  client,
		config:  cfg,
		metrics: metrics,
		logger:  logger.With("component", "invalidation"),
	}
}

// SetAlertFunc installs the operator alert hook.
func (e *Engine) SetAlertFunc(fn AlertFunc) {
	e.alertFn = fn
}

// Invalidate removes a single key from the selected cache levels.
// Removing an absent key is a no-op, so retried invalidations are
// safe.
func (e *Engine) Invalidate(ctx context.Context, key types.Key, level types.CacheLevel) error {
	return e.manager.Remove(ctx, key, level)
}

// InvalidatePrefix removes every key with the given prefix from the
// selected cache levels.
func (e *Engine) InvalidatePrefix(ctx context.Context, prefix string, level types.CacheLevel) error {
	return e.manager.RemovePattern(ctx, prefix, level)
}

// Enqueue adds an invalidation to the pending queue for batched
// processing. When the queue is at capacity the task is applied
// immediately instead and an alert is raised; invalidations are never
// dropped. Without a shared backend every task applies immediately.
func (e *Engine) Enqueue(ctx context.Context, key types.Key, level types.CacheLevel, reason string) error {
	return e.enqueueTask(ctx, e.newTask(key.String(), level, reason))
}

// EnqueuePrefix queues a prefix sweep instead of a single key.
func (e *Engine) EnqueuePrefix(ctx context.Context, prefix string, level types.CacheLevel, reason string) error {
	return e.enqueueTask(ctx, e.newTask(prefix, level, reason))
}

func (e *Engine) newTask(cacheKey string, level types.CacheLevel, reason string) Task {
	return Task{
		ID:         fmt.Sprintf("inv-%d-%d", time.Now().UnixNano(), e.taskCounter.Add(1)),
		CacheKey:   cacheKey,
		Level:      level.String(),
		Reason:     reason,
		EnqueuedAt: time.Now(),
	}
}

func (e *Engine) enqueueTask(ctx context.Context, task Task) error {
	if e.client == nil {
		return e.apply(ctx, task)
	}

	depth, err := e.client.LLen(ctx, e.config.Key).Result()
	if err != nil {
		e.logger.Warn("Queue depth check failed, applying invalidation immediately", "key", task.CacheKey, "error", err)
		return e.apply(ctx, task)
	}

	if depth >= e.config.MaxDepth {
		e.alert("queue_overflow", fmt.Sprintf("invalidation queue at capacity (%d), applying immediately", depth))
		return e.apply(ctx, task)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return types.NewCacheError("Enqueue", task.CacheKey, "queue", err)
	}

	if err := e.client.LPush(ctx, e.config.Key, data).Err(); err != nil {
		e.logger.Warn("Queue push failed, applying invalidation immediately", "key", task.CacheKey, "error", err)
		return e.apply(ctx, task)
	}

	e.enqueued.Add(1)
	if e.metrics != nil {
		e.metrics.RecordQueueDepth(depth + 1)
	}
	return nil
}

// ProcessPending applies every task currently in the queue and moves
// them to the processed list. Tasks pushed while processing runs stay
// queued for the next pass.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	if e.client == nil {
		return 0, nil
	}

	tasks, rawCount, err := e.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if rawCount == 0 {
		return 0, nil
	}

	for _, task := range tasks {
		if err := e.apply(ctx, task); err != nil {
			e.logger.Warn("Invalidation task failed", "task", task.ID, "key", task.CacheKey, "error", err)
		}
	}

	// Drain by raw count so unreadable entries leave the queue too.
	if err := e.drain(ctx, rawCount); err != nil {
		return 0, err
	}

	e.recordProcessed(ctx, tasks)
	e.processed.Add(int64(len(tasks)))
	return len(tasks), nil
}

// CleanupExpired drops queued tasks older than maxAge from the tail
// of the queue without applying them. Returns the number removed.
func (e *Engine) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if e.client == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	// Oldest tasks sit at the tail. Pop from the tail until a live
	// task appears, then push it back where it was.
	for {
		raw, err := e.client.RPop(ctx, e.config.Key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return removed, types.NewCacheError("CleanupExpired", e.config.Key, "queue", err)
		}

		var task Task
		if unmarshalErr := json.Unmarshal([]byte(raw), &task); unmarshalErr != nil {
			// Unreadable task, drop it.
			removed++
			continue
		}

		if task.EnqueuedAt.Before(cutoff) {
			removed++
			continue
		}

		if err := e.client.RPush(ctx, e.config.Key, raw).Err(); err != nil {
			// The task is already popped; apply it rather than lose it.
			if applyErr := e.apply(ctx, task); applyErr != nil {
				e.logger.Warn("Invalidation task failed", "task", task.ID, "key", task.CacheKey, "error", applyErr)
			}
			return removed, types.NewCacheError("CleanupExpired", e.config.Key, "queue", err)
		}
		break
	}

	if removed > 0 {
		e.logger.Info("Dropped expired invalidation tasks", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

// QueueDepth returns the number of pending tasks.
func (e *Engine) QueueDepth(ctx context.Context) int64 {
	if e.client == nil {
		return 0
	}
	depth, err := e.client.LLen(ctx, e.config.Key).Result()
	if err != nil {
		return e.lastDepth.Load()
	}
	e.lastDepth.Store(depth)
	return depth
}

// QueueAvailable reports whether the pending queue is reachable.
func (e *Engine) QueueAvailable(ctx context.Context) bool {
	if e.client == nil {
		return false
	}
	return e.client.LLen(ctx, e.config.Key).Err() == nil
}

// apply executes one task against the cache.
func (e *Engine) apply(ctx context.Context, task Task) error {
	key, err := types.ParseKey(task.CacheKey)
	if err != nil {
		// Not a structured decision key; treat it as a prefix sweep.
		return e.manager.RemovePattern(ctx, task.CacheKey, types.ParseCacheLevel(task.Level))
	}
	return e.manager.Remove(ctx, key, types.ParseCacheLevel(task.Level))
}

// snapshot reads every task currently queued, oldest first, along
// with the raw entry count.
func (e *Engine) snapshot(ctx context.Context) ([]Task, int, error) {
	raw, err := e.client.LRange(ctx, e.config.Key, 0, -1).Result()
	if err != nil {
		return nil, 0, types.NewCacheError("snapshot", e.config.Key, "queue", err)
	}

	// LPUSH puts the newest task at index 0; reverse so tasks apply
	// in arrival order.
	tasks := make([]Task, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var task Task
		if err := json.Unmarshal([]byte(raw[i]), &task); err != nil {
			e.logger.Warn("Skipping unreadable queue entry", "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, len(raw), nil
}

// drain removes the n oldest tasks. Tasks pushed concurrently land at
// the head, so the snapshot still occupies the last n positions.
func (e *Engine) drain(ctx context.Context, n int) error {
	if err := e.client.LTrim(ctx, e.config.Key, 0, int64(-(n + 1))).Err(); err != nil {
		return types.NewCacheError("drain", e.config.Key, "queue", err)
	}
	return nil
}

// recordProcessed moves completed tasks onto the bounded processed
// list for inspection.
func (e *Engine) recordProcessed(ctx context.Context, tasks []Task) {
	if e.config.ProcessedKey == "" {
		return
	}

	pipe := e.client.Pipeline()
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			continue
		}
		pipe.LPush(ctx, e.config.ProcessedKey, data)
	}
	pipe.LTrim(ctx, e.config.ProcessedKey, 0, e.config.ProcessedRetention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Debug("Failed to record processed tasks", "error", err)
	}
}

func (e *Engine) alert(kind, detail string) {
	e.logger.Warn("Invalidation alert", "kind", kind, "detail", detail)
	if e.alertFn != nil {
		e.alertFn(kind, detail)
	}
}
