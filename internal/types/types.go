// Package types provides shared types for the permcache library.
// This package breaks import cycles between pkg/permcache and the
// internal cache, lock and invalidation packages.
package types

import "time"

// Tier classifies a permission by how aggressively its decisions may
// be cached. Higher tiers are more sensitive and cache for less time;
// TierCritical is never cached at all.
type Tier int

const (
	TierBasic Tier = iota + 1
	TierStandard
	TierAdvanced
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierStandard:
		return "standard"
	case TierAdvanced:
		return "advanced"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= TierBasic && t <= TierCritical
}

// ParseTier converts a tier name from configuration to a Tier. The
// second return is false for names that match no tier.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "basic":
		return TierBasic, true
	case "standard":
		return TierStandard, true
	case "advanced":
		return TierAdvanced, true
	case "critical":
		return TierCritical, true
	default:
		return 0, false
	}
}

// TierPolicy describes how decisions for a tier are cached.
type TierPolicy struct {
	// ClientCacheable indicates the decision may also be cached by
	// callers outside this process (e.g. in a client response header).
	ClientCacheable bool

	// ServerTTL is the lifetime of entries in the shared cache.
	// Zero means the decision is never written to the shared cache.
	ServerTTL time.Duration

	// MustHitAuthority forces every lookup to the authority source,
	// bypassing both cache levels entirely.
	MustHitAuthority bool
}

// CacheLevel selects which cache levels an operation applies to.
type CacheLevel int

const (
	LevelLocalOnly CacheLevel = iota + 1
	LevelRemoteOnly
	LevelAll
)

func (l CacheLevel) String() string {
	switch l {
	case LevelLocalOnly:
		return "local-only"
	case LevelRemoteOnly:
		return "remote-only"
	case LevelAll:
		return "all"
	default:
		return "unknown"
	}
}

func (l CacheLevel) IncludesLocal() bool {
	return l == LevelLocalOnly || l == LevelAll
}

func (l CacheLevel) IncludesRemote() bool {
	return l == LevelRemoteOnly || l == LevelAll
}

// ParseCacheLevel parses a level name as used in config and on the
// invalidation queue. Unknown names default to LevelAll, which is the
// safe direction for an invalidation.
func ParseCacheLevel(s string) CacheLevel {
	switch s {
	case "local-only", "l1":
		return LevelLocalOnly
	case "remote-only", "l2":
		return LevelRemoteOnly
	default:
		return LevelAll
	}
}

// Decision is a single cached permission answer.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Permission string    `json:"permission"`
	ActorID    string    `json:"actor_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Scope identifies the resource context a permission is checked
// against, e.g. {Type: "server", ID: "srv-42"}.
type Scope struct {
	Type string
	ID   string
}

// CacheEntry is a local cache entry with its metadata. The tier is
// recorded at insertion time for observability only; the current tier
// policy is always re-read on access.
type CacheEntry struct {
	Value      []byte
	Tier       Tier
	Partition  string
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// IsExpired reports whether the entry is past its TTL. Entries with a
// zero ExpiresAt never expire.
func (e *CacheEntry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// PartitionStats contains counters for one local cache partition.
type PartitionStats struct {
	Size       int
	MaxEntries int
	Hits       int64
	Misses     int64
	Sets       int64
	Deletes    int64
	Evictions  int64
}

// HitRate returns the partition hit rate in [0, 1].
func (s PartitionStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// LocalCacheStats aggregates counters across all partitions.
type LocalCacheStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
}

// RemoteCacheStats contains counters for the shared cache layer.
type RemoteCacheStats struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Deletes       int64
	PendingWrites int
	DroppedWrites int64
	Connected     bool
}

// LockStats contains distributed lock counters.
type LockStats struct {
	Acquired  int64
	Contended int64
	Lost      int64
	Released  int64
}

// Stats is the point-in-time view exposed to callers: per-partition
// hit/miss counters, queue depth and lock contention.
type Stats struct {
	Timestamp  time.Time
	Partitions map[string]PartitionStats
	Local      LocalCacheStats
	Remote     RemoteCacheStats
	Lock       LockStats
	QueueDepth int64
}
