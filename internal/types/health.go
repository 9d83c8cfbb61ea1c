package types

import "time"

// HealthStatus represents the overall health state.
type HealthStatus int

const (
	// HealthStatusHealthy indicates all systems operating normally.
	HealthStatusHealthy HealthStatus = iota + 1
	// HealthStatusDegraded indicates partial functionality: the local
	// cache works but the shared cache or queue is unreachable, so
	// lookups fall through to the authority source more often.
	HealthStatusDegraded
	// HealthStatusUnhealthy indicates critical failure.
	HealthStatusUnhealthy
)

// String returns the string representation of health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthReport is the answer to a health() probe: the overall status
// plus a per-subsystem breakdown.
type HealthReport struct {
	Timestamp time.Time
	Status    HealthStatus
	L1OK      bool
	L2OK      bool
	QueueOK   bool
	Local     LocalHealth
	Remote    RemoteHealth
}

// LocalHealth contains local cache health details.
type LocalHealth struct {
	Available  bool
	EntryCount int
	Hits       int64
	Misses     int64
	Evictions  int64
}

// RemoteHealth contains shared cache health details.
type RemoteHealth struct {
	Available     bool
	Connected     bool
	PendingWrites int
	DroppedWrites int64
}
