package permcache

import (
	"context"
	"time"
)

// PermissionCache is the service surface: permission checks answered
// from cache when policy allows, invalidation when facts change, and
// introspection for operators.
type PermissionCache interface {
	CheckPermission(ctx context.Context, actorID, permission string, scope Scope) (Decision, error)
	GetPermissions(ctx context.Context, actorID string, scope Scope) (map[string]Decision, error)
	GetPermissionsBatch(ctx context.Context, actorIDs []string, permission string, scope Scope) (map[string]Decision, error)

	RegisterPermission(name string, tier Tier, description string) error
	TierOf(permission string) Tier
	IsClientCacheable(permission string) bool

	InvalidateUser(ctx context.Context, actorID string) error
	InvalidateRole(ctx context.Context, roleID string, actorIDs []string) error
	InvalidateKeys(ctx context.Context, keys []Key, level CacheLevel) error
	ProcessInvalidations(ctx context.Context) (int, error)
	InvalidationAnalysis(ctx context.Context) (*InvalidationAnalysis, error)

	Stats(ctx context.Context) Stats
	Recommendations() []TuningRecommendation
	Alerts() []Alert
	Health(ctx context.Context) HealthReport
	IsHealthy(ctx context.Context) bool
	IsRemoteAvailable() bool
	IsLocalAvailable() bool
	Close() error
}

// Publisher ships metrics to an external system.
type Publisher interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Count(name string, value int64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
	Event(title, text string, alertType string, tags ...string)
	PublishHealthMetrics(metrics *PublisherHealthMetrics)
	Close() error
}

// PublisherHealthMetrics is the batch of service health gauges a
// Publisher ships on each publishing interval.
type PublisherHealthMetrics struct {
	LocalEntries     int64
	HitRatio         float64
	AverageLatencyMs float64
	QueueDepth       int64
	LockContentions  int64
	RemoteConnected  bool
}

// MetricsSnapshot contains a point-in-time view of cache metrics.
type MetricsSnapshot struct {
	Timestamp       time.Time
	LocalHits       int64
	LocalMisses     int64
	RemoteHits      int64
	RemoteMisses    int64
	GetCount        int64
	SetCount        int64
	DeleteCount     int64
	ResolveCount    int64
	ErrorCount      int64
	LockContentions int64
	QueueDepth      int64
	AvgLatencyMs    float64
	P50LatencyMs    float64
	P95LatencyMs    float64
	P99LatencyMs    float64
}

// TotalHitRatio returns the hit ratio across both cache levels.
func (s MetricsSnapshot) TotalHitRatio() float64 {
	hits := s.LocalHits + s.RemoteHits
	total := hits + s.LocalMisses + s.RemoteMisses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
