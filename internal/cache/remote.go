package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

const (
	disconnectErrorThreshold = 5
)

// RemoteCache implements the shared cache layer (L2) on Redis. The
// client is injected so it can be shared with the lock manager and
// the invalidation queue, and so tests can point it at an in-memory
// server.
type RemoteCache struct {
	client redis.UniversalClient
	config config.RedisConfig
	logger *slog.Logger

	mu            sync.RWMutex
	connected     atomic.Bool
	lastError     error
	lastErrorTime time.Time
	errorCount    atomic.Int64

	writeQueue    chan writeOp
	pendingWrites atomic.Int32
	droppedWrites atomic.Int64
	stopCh        chan struct{}
	wg            sync.WaitGroup

	healthCheckStopCh chan struct{}
	healthCheckWg     sync.WaitGroup

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

type writeOp struct {
	key   string
	value []byte
	ttl   time.Duration
}

// NewRemoteCache creates the shared cache layer on an existing client.
func NewRemoteCache(client redis.UniversalClient, cfg config.RedisConfig, logger *slog.Logger) *RemoteCache {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &RemoteCache{
		client:            client,
		config:            cfg,
		logger:            logger.With("component", "remote-cache"),
		writeQueue:        make(chan writeOp, cfg.MaxPendingWrites),
		stopCh:            make(chan struct{}),
		healthCheckStopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		rc.logger.Warn("Shared cache initial connection failed", "error", err)
		rc.setError(err)
		// Don't fail - degrade to local-only until the backend recovers
	} else {
		rc.connected.Store(true)
		rc.logger.Info("Shared cache connected", "address", cfg.Address)
	}

	rc.wg.Add(1)
	go rc.asyncWriteWorker()

	if cfg.HealthCheckInterval > 0 {
		rc.healthCheckWg.Add(1)
		go rc.healthCheckWorker()
	}

	return rc
}

func (c *RemoteCache) Name() string {
	return "remote"
}

func (c *RemoteCache) IsAvailable() bool {
	return c.connected.Load()
}

func (c *RemoteCache) prefixKey(key string) string {
	return c.config.KeyPrefix + key
}

func (c *RemoteCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.connected.Load() {
		return nil, types.ErrBackendUnavailable
	}

	data, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
		c.handleError(err)
		return nil, types.NewCacheError("Get", key, "remote", err)
	}

	c.hits.Add(1)
	c.clearError()

	return data, nil
}

func (c *RemoteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.connected.Load() {
		return types.ErrBackendUnavailable
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	if err := c.client.Set(ctx, c.prefixKey(key), value, ttl).Err(); err != nil {
		c.handleError(err)
		return types.NewCacheError("Set", key, "remote", err)
	}

	c.sets.Add(1)
	c.clearError()

	return nil
}

// SetAsync queues a write for the background worker. A full queue
// drops the write; the only cost is one extra authority round trip
// when the key is next requested.
func (c *RemoteCache) SetAsync(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	select {
	case c.writeQueue <- writeOp{key: c.prefixKey(key), value: value, ttl: ttl}:
		c.pendingWrites.Add(1)
		return nil
	default:
		c.droppedWrites.Add(1)
		c.logger.Warn("Write queue full, dropping SET",
			"key", key,
			"dropped_total", c.droppedWrites.Load(),
		)
		return types.ErrWriteQueueFull
	}
}

func (c *RemoteCache) asyncWriteWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			for {
				select {
				case op := <-c.writeQueue:
					c.executeWrite(op)
				default:
					return
				}
			}
		case op := <-c.writeQueue:
			c.executeWrite(op)
		}
	}
}

func (c *RemoteCache) executeWrite(op writeOp) {
	defer c.pendingWrites.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, op.key, op.value, op.ttl).Err(); err != nil {
		c.handleError(err)
		c.logger.Debug("Async SET failed", "key", op.key, "error", err)
	} else {
		c.sets.Add(1)
		c.clearError()
	}
}

func (c *RemoteCache) healthCheckWorker() {
	defer c.healthCheckWg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCheckStopCh:
			return
		case <-ticker.C:
			c.performHealthCheck()
		}
	}
}

func (c *RemoteCache) performHealthCheck() {
	wasConnected := c.connected.Load()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	err := c.client.Ping(ctx).Err()
	if err != nil {
		if wasConnected {
			c.logger.Warn("Shared cache health check failed", "error", err)
			c.setError(err)
		}
		return
	}

	if !wasConnected {
		c.connected.Store(true)
		c.errorCount.Store(0)
		c.logger.Info("Shared cache connection restored via health check")
	}
}

func (c *RemoteCache) Delete(ctx context.Context, keys ...string) error {
	if !c.connected.Load() {
		return types.ErrBackendUnavailable
	}
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefixKey(key)
	}

	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		c.handleError(err)
		return types.NewCacheError("Delete", keys[0], "remote", err)
	}

	c.deletes.Add(int64(len(keys)))
	c.clearError()

	return nil
}

func (c *RemoteCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if !c.connected.Load() {
		return nil, types.ErrBackendUnavailable
	}

	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = c.prefixKey(key)
	}

	results, err := c.client.MGet(ctx, prefixedKeys...).Result()
	if err != nil {
		c.handleError(err)
		return nil, types.NewCacheError("GetMany", "", "remote", err)
	}

	resultMap := make(map[string][]byte, len(keys))
	for i, result := range results {
		if result != nil {
			if str, ok := result.(string); ok {
				resultMap[keys[i]] = []byte(str)
				c.hits.Add(1)
			}
		} else {
			c.misses.Add(1)
		}
	}

	c.clearError()
	return resultMap, nil
}

func (c *RemoteCache) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if !c.connected.Load() {
		return types.ErrBackendUnavailable
	}

	if len(items) == 0 {
		return nil
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	pipe := c.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, c.prefixKey(key), value, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.handleError(err)
		return types.NewCacheError("SetMany", "", "remote", err)
	}

	c.sets.Add(int64(len(items)))
	c.clearError()

	return nil
}

// DeletePattern removes every key matching the glob pattern via
// cursor-based SCAN, never a blocking KEYS call.
func (c *RemoteCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	if !c.connected.Load() {
		return 0, types.ErrBackendUnavailable
	}

	fullPattern := c.prefixKey(pattern)

	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			c.handleError(err)
			return deleted, types.NewCacheError("DeletePattern", pattern, "remote", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err)
				return deleted, types.NewCacheError("DeletePattern", pattern, "remote", err)
			}
			deleted += int64(len(keys))
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Deleted keys by pattern", "pattern", pattern, "deleted", deleted)
	c.deletes.Add(deleted)
	c.clearError()
	return deleted, nil
}

func (c *RemoteCache) Close() error {
	c.connected.Store(false)

	close(c.healthCheckStopCh)
	c.healthCheckWg.Wait()

	close(c.stopCh)
	c.wg.Wait()

	return nil
}

func (c *RemoteCache) Stats() types.RemoteCacheStats {
	return types.RemoteCacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Deletes:       c.deletes.Load(),
		PendingWrites: int(c.pendingWrites.Load()),
		DroppedWrites: c.droppedWrites.Load(),
		Connected:     c.connected.Load(),
	}
}

func (c *RemoteCache) handleError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastError = err
	c.lastErrorTime = time.Now()
	count := c.errorCount.Add(1)

	if count >= disconnectErrorThreshold {
		if c.connected.CompareAndSwap(true, false) {
			c.logger.Warn("Shared cache marked as disconnected after errors",
				"error_count", count,
				"last_error", err,
			)
		}
	}
}

func (c *RemoteCache) clearError() {
	if c.errorCount.Swap(0) > 0 {
		if c.connected.CompareAndSwap(false, true) {
			c.logger.Info("Shared cache connection restored")
		}
	}
}

func (c *RemoteCache) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err
	c.lastErrorTime = time.Now()
	c.connected.Store(false)
}

func (c *RemoteCache) LastError() (error, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError, c.lastErrorTime
}

func (c *RemoteCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ types.RemoteCacheLayer = (*RemoteCache)(nil)
