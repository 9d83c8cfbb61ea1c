package types

import (
	"context"
	"time"
)

// Resolver is the authority source: the single call made on a cache
// miss. Implementations are external to this module and are never
// mutated by it.
type Resolver interface {
	Resolve(ctx context.Context, actorID, permission, scopeType, scopeID string) (Decision, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, actorID, permission, scopeType, scopeID string) (Decision, error)

func (f ResolverFunc) Resolve(ctx context.Context, actorID, permission, scopeType, scopeID string) (Decision, error) {
	return f(ctx, actorID, permission, scopeType, scopeID)
}

type CacheInfo interface {
	Name() string
	IsAvailable() bool
}

// LocalCacheLayer is the process-local partitioned cache (L1).
// Operations never block on I/O.
type LocalCacheLayer interface {
	CacheInfo
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte, tier Tier, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Close() error
	Stats() LocalCacheStats
	PartitionStats() map[string]PartitionStats
	EntryCount() int
}

// RemoteCacheLayer is the shared networked cache (L2). All operations
// may block up to the configured socket timeouts.
type RemoteCacheLayer interface {
	CacheInfo
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetAsync(key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Close() error
	Stats() RemoteCacheStats
}

type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, dest interface{}) error
}

// MetricsRecorder receives per-operation observations from the data
// plane. Implementations must be safe for concurrent use and must not
// block.
type MetricsRecorder interface {
	RecordHit(layer, partition string, latency time.Duration)
	RecordMiss(layer, partition string, latency time.Duration)
	RecordSet(layer, partition string, size int, latency time.Duration)
	RecordDelete(layer string, latency time.Duration)
	RecordError(layer, operation string, err error)
	RecordResolve(latency time.Duration)
	RecordLockContention()
	RecordQueueDepth(depth int64)
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
