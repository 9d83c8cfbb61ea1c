package cache

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

// LocalCache implements the process-local cache layer: named strategy
// partitions, each an independent LRU space with its own capacity and
// TTL. TTL expiry is lazy; an expired entry is treated as absent at
// read time regardless of physical presence. The optional cleanup
// ticker is only a memory bound, never load-bearing for correctness.
type LocalCache struct {
	partitions map[string]*partition
	defaultP   string
	logger     *slog.Logger

	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
	closed      atomic.Bool
}

type partition struct {
	name       string
	maxEntries int
	defaultTTL time.Duration

	mu    sync.Mutex
	ll    *list.List // front is most recently used
	items map[string]*list.Element

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
}

type localEntry struct {
	key        string
	value      []byte
	tier       types.Tier
	insertedAt time.Time
	expiresAt  time.Time
}

func (e *localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewLocalCache creates a local cache with the configured partitions.
func NewLocalCache(cfg config.LocalConfig, logger *slog.Logger) (*LocalCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lc := &LocalCache{
		partitions:  make(map[string]*partition, len(cfg.Partitions)),
		defaultP:    cfg.DefaultPartition,
		logger:      logger.With("component", "local-cache"),
		cleanupStop: make(chan struct{}),
	}

	for _, pc := range cfg.Partitions {
		lc.partitions[pc.Name] = &partition{
			name:       pc.Name,
			maxEntries: pc.MaxEntries,
			defaultTTL: pc.DefaultTTL,
			ll:         list.New(),
			items:      make(map[string]*list.Element),
		}
	}
	if lc.defaultP == "" && len(cfg.Partitions) > 0 {
		lc.defaultP = cfg.Partitions[0].Name
	}

	if cfg.CleanupInterval > 0 {
		lc.cleanupWg.Add(1)
		go lc.cleanupWorker(cfg.CleanupInterval)
	}

	return lc, nil
}

// Name returns the cache layer name.
func (c *LocalCache) Name() string {
	return "local"
}

// IsAvailable returns true if the cache is not closed.
func (c *LocalCache) IsAvailable() bool {
	return !c.closed.Load()
}

func (c *LocalCache) partitionFor(name string) *partition {
	if p, ok := c.partitions[name]; ok {
		return p
	}
	return c.partitions[c.defaultP]
}

// Get retrieves a value. An expired entry counts as a miss and is
// removed in place.
func (c *LocalCache) Get(ctx context.Context, key types.Key) ([]byte, error) {
	if c.closed.Load() {
		return nil, types.ErrClosed
	}

	p := c.partitionFor(key.Partition)
	if p == nil {
		return nil, types.ErrCacheMiss
	}

	k := key.String()
	now := time.Now()

	p.mu.Lock()
	elem, ok := p.items[k]
	if !ok {
		p.mu.Unlock()
		p.misses.Add(1)
		return nil, types.ErrCacheMiss
	}
	ent := elem.Value.(*localEntry)
	if ent.expired(now) {
		p.ll.Remove(elem)
		delete(p.items, k)
		p.mu.Unlock()
		p.misses.Add(1)
		return nil, types.ErrCacheMiss
	}
	p.ll.MoveToFront(elem)
	value := ent.value
	p.mu.Unlock()

	p.hits.Add(1)
	return value, nil
}

// Set stores a value, evicting the least-recently-used entry of the
// partition when it is full. Other partitions are unaffected.
func (c *LocalCache) Set(ctx context.Context, key types.Key, value []byte, tier types.Tier, ttl time.Duration) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	p := c.partitionFor(key.Partition)
	if p == nil {
		return types.NewCacheError("Set", key.String(), "local", types.ErrInvalidKey)
	}

	if ttl <= 0 {
		ttl = p.defaultTTL
	}

	now := time.Now()
	ent := &localEntry{
		key:        key.String(),
		value:      value,
		tier:       tier,
		insertedAt: now,
	}
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}

	p.mu.Lock()
	if elem, ok := p.items[ent.key]; ok {
		elem.Value = ent
		p.ll.MoveToFront(elem)
		p.mu.Unlock()
		p.sets.Add(1)
		return nil
	}
	p.items[ent.key] = p.ll.PushFront(ent)
	var evicted int
	for p.ll.Len() > p.maxEntries {
		back := p.ll.Back()
		if back == nil {
			break
		}
		p.ll.Remove(back)
		delete(p.items, back.Value.(*localEntry).key)
		evicted++
	}
	p.mu.Unlock()

	p.sets.Add(1)
	if evicted > 0 {
		p.evictions.Add(int64(evicted))
	}
	return nil
}

// Delete removes a value. Deleting an absent key is a no-op.
func (c *LocalCache) Delete(ctx context.Context, key types.Key) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	p := c.partitionFor(key.Partition)
	if p == nil {
		return nil
	}

	k := key.String()
	p.mu.Lock()
	if elem, ok := p.items[k]; ok {
		p.ll.Remove(elem)
		delete(p.items, k)
		p.mu.Unlock()
		p.deletes.Add(1)
		return nil
	}
	p.mu.Unlock()
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix, in
// every partition. The scan is linear but bounded by the partition
// capacities.
func (c *LocalCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if c.closed.Load() {
		return 0, types.ErrClosed
	}

	var removed int
	for _, p := range c.partitions {
		p.mu.Lock()
		for k, elem := range p.items {
			if strings.HasPrefix(k, prefix) {
				p.ll.Remove(elem)
				delete(p.items, k)
				removed++
			}
		}
		p.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("Removed entries by prefix", "prefix", prefix, "removed", removed)
	}
	return removed, nil
}

// Clear removes all entries from all partitions.
func (c *LocalCache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	for _, p := range c.partitions {
		p.mu.Lock()
		p.ll.Init()
		p.items = make(map[string]*list.Element)
		p.mu.Unlock()
	}
	return nil
}

// Close stops the cleanup worker and releases the cache.
func (c *LocalCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.cleanupStop)
	c.cleanupWg.Wait()
	return nil
}

// Stats returns counters aggregated across all partitions.
func (c *LocalCache) Stats() types.LocalCacheStats {
	var s types.LocalCacheStats
	for _, p := range c.partitions {
		s.Hits += p.hits.Load()
		s.Misses += p.misses.Load()
		s.Sets += p.sets.Load()
		s.Deletes += p.deletes.Load()
		s.Evictions += p.evictions.Load()
	}
	return s
}

// PartitionStats returns per-partition counters.
func (c *LocalCache) PartitionStats() map[string]types.PartitionStats {
	out := make(map[string]types.PartitionStats, len(c.partitions))
	for name, p := range c.partitions {
		p.mu.Lock()
		size := p.ll.Len()
		p.mu.Unlock()
		out[name] = types.PartitionStats{
			Size:       size,
			MaxEntries: p.maxEntries,
			Hits:       p.hits.Load(),
			Misses:     p.misses.Load(),
			Sets:       p.sets.Load(),
			Deletes:    p.deletes.Load(),
			Evictions:  p.evictions.Load(),
		}
	}
	return out
}

// EntryCount returns the total number of live entries.
func (c *LocalCache) EntryCount() int {
	var n int
	for _, p := range c.partitions {
		p.mu.Lock()
		n += p.ll.Len()
		p.mu.Unlock()
	}
	return n
}

func (c *LocalCache) cleanupWorker(interval time.Duration) {
	defer c.cleanupWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.cleanupStop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired is a best-effort memory bound; correctness relies
// only on lazy expiry at read time.
func (c *LocalCache) removeExpired() {
	now := time.Now()
	var removed int
	for _, p := range c.partitions {
		p.mu.Lock()
		for k, elem := range p.items {
			if elem.Value.(*localEntry).expired(now) {
				p.ll.Remove(elem)
				delete(p.items, k)
				removed++
			}
		}
		p.mu.Unlock()
	}
	if removed > 0 {
		c.logger.Debug("Cleanup removed expired entries", "removed", removed)
	}
}

var _ types.LocalCacheLayer = (*LocalCache)(nil)
