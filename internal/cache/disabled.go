package cache

import (
	"context"
	"time"

	"github.com/permcache/permcache/internal/types"
)

// DisabledLocalCache is a no-op local cache implementation.
type DisabledLocalCache struct{}

// NewDisabledLocalCache creates a new disabled local cache.
func NewDisabledLocalCache() *DisabledLocalCache {
	return &DisabledLocalCache{}
}

// Name returns the cache layer name.
func (c *DisabledLocalCache) Name() string { return "local-disabled" }

// IsAvailable returns false as this cache is disabled.
func (c *DisabledLocalCache) IsAvailable() bool { return false }

// Close does nothing as this cache is disabled.
func (c *DisabledLocalCache) Close() error { return nil }

// EntryCount returns 0 as this cache is disabled.
func (c *DisabledLocalCache) EntryCount() int { return 0 }

// Stats returns empty statistics as this cache is disabled.
func (c *DisabledLocalCache) Stats() types.LocalCacheStats { return types.LocalCacheStats{} }

// PartitionStats returns no partitions as this cache is disabled.
func (c *DisabledLocalCache) PartitionStats() map[string]types.PartitionStats {
	return map[string]types.PartitionStats{}
}

// Clear does nothing as this cache is disabled.
func (c *DisabledLocalCache) Clear(ctx context.Context) error { return nil }

// DeletePrefix does nothing as this cache is disabled.
func (c *DisabledLocalCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

// Get returns ErrCacheMiss as this cache is disabled.
func (c *DisabledLocalCache) Get(ctx context.Context, key types.Key) ([]byte, error) {
	return nil, types.ErrCacheMiss
}

// Set does nothing as this cache is disabled.
func (c *DisabledLocalCache) Set(ctx context.Context, key types.Key, value []byte, tier types.Tier, ttl time.Duration) error {
	return nil
}

// Delete does nothing as this cache is disabled.
func (c *DisabledLocalCache) Delete(ctx context.Context, key types.Key) error {
	return nil
}

// DisabledRemoteCache is a no-op shared cache implementation used when
// the backend is not configured.
type DisabledRemoteCache struct{}

// NewDisabledRemoteCache creates a new disabled remote cache.
func NewDisabledRemoteCache() *DisabledRemoteCache {
	return &DisabledRemoteCache{}
}

// Name returns the cache layer name.
func (c *DisabledRemoteCache) Name() string { return "remote-disabled" }

// IsAvailable returns false as this cache is disabled.
func (c *DisabledRemoteCache) IsAvailable() bool { return false }

// Close does nothing as this cache is disabled.
func (c *DisabledRemoteCache) Close() error { return nil }

// Stats returns empty statistics as this cache is disabled.
func (c *DisabledRemoteCache) Stats() types.RemoteCacheStats { return types.RemoteCacheStats{} }

// Get returns ErrBackendUnavailable as this cache is disabled.
func (c *DisabledRemoteCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, types.ErrBackendUnavailable
}

// Set does nothing as this cache is disabled.
func (c *DisabledRemoteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// SetAsync does nothing as this cache is disabled.
func (c *DisabledRemoteCache) SetAsync(key string, value []byte, ttl time.Duration) error {
	return nil
}

// Delete does nothing as this cache is disabled.
func (c *DisabledRemoteCache) Delete(ctx context.Context, keys ...string) error {
	return nil
}

// GetMany returns an empty map as this cache is disabled.
func (c *DisabledRemoteCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	return make(map[string][]byte), nil
}

// SetMany does nothing as this cache is disabled.
func (c *DisabledRemoteCache) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	return nil
}

// DeletePattern does nothing as this cache is disabled.
func (c *DisabledRemoteCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	return 0, nil
}

var _ types.LocalCacheLayer = (*DisabledLocalCache)(nil)
var _ types.RemoteCacheLayer = (*DisabledRemoteCache)(nil)
