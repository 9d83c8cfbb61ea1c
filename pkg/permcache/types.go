package permcache

import (
	"github.com/permcache/permcache/internal/tier"
	"github.com/permcache/permcache/internal/types"
)

type (
	// Tier is a permission sensitivity tier.
	Tier = types.Tier
	// TierPolicy describes the caching rules a tier implies.
	TierPolicy = types.TierPolicy
	// CacheLevel specifies which cache layers an operation touches.
	CacheLevel = types.CacheLevel
	// Decision is the outcome of one permission check.
	Decision = types.Decision
	// Scope names the resource a permission check applies to.
	Scope = types.Scope
	// Key identifies one cached decision.
	Key = types.Key
	// Stats is a point-in-time view of service counters.
	Stats = types.Stats
	// PartitionStats contains statistics for one local partition.
	PartitionStats = types.PartitionStats
	// LocalCacheStats aggregates local layer statistics.
	LocalCacheStats = types.LocalCacheStats
	// RemoteCacheStats aggregates shared layer statistics.
	RemoteCacheStats = types.RemoteCacheStats
	// LockStats aggregates fill lock statistics.
	LockStats = types.LockStats
	// Serializer provides serialization and deserialization operations.
	Serializer = types.Serializer
	// MetricsRecorder provides operations for recording cache metrics.
	MetricsRecorder = types.MetricsRecorder
	// Logger provides logging operations.
	Logger = types.Logger
	// Resolver computes decisions the cache cannot answer.
	Resolver = types.Resolver
	// ResolverFunc adapts a function to the Resolver interface.
	ResolverFunc = types.ResolverFunc
)

const (
	// TierBasic marks permissions safe to cache for a long time,
	// including client-side.
	TierBasic = types.TierBasic
	// TierStandard marks permissions with default server-side caching.
	TierStandard = types.TierStandard
	// TierAdvanced marks permissions cached only briefly.
	TierAdvanced = types.TierAdvanced
	// TierCritical marks permissions that always hit the resolver.
	TierCritical = types.TierCritical
)

const (
	// LevelLocalOnly touches only the in-process cache layer.
	LevelLocalOnly = types.LevelLocalOnly
	// LevelRemoteOnly touches only the shared cache layer.
	LevelRemoteOnly = types.LevelRemoteOnly
	// LevelAll touches every cache layer.
	LevelAll = types.LevelAll
)

// PolicyOf returns the caching policy a tier implies.
func PolicyOf(t Tier) TierPolicy {
	return tier.PolicyOf(t)
}
