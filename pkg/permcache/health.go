package permcache

import (
	"github.com/permcache/permcache/internal/advisor"
	"github.com/permcache/permcache/internal/invalidation"
	"github.com/permcache/permcache/internal/types"
)

// Re-export health and introspection types from internal packages.
type (
	// HealthStatus represents the overall health state.
	HealthStatus = types.HealthStatus

	// HealthReport contains overall service health information.
	HealthReport = types.HealthReport

	// LocalHealth contains local cache health details.
	LocalHealth = types.LocalHealth

	// RemoteHealth contains shared cache health details.
	RemoteHealth = types.RemoteHealth

	// InvalidationAnalysis is a point-in-time view of the pending
	// invalidation queue with batch-processing recommendations.
	InvalidationAnalysis = invalidation.Analysis

	// InvalidationRecommendation is one suggested batch step.
	InvalidationRecommendation = invalidation.Recommendation

	// TuningRecommendation is a configuration change the advisor suggests.
	TuningRecommendation = advisor.Recommendation

	// Alert is an operator-visible condition raised by the service.
	Alert = advisor.Alert
)

// Re-export health status constants.
const (
	HealthStatusHealthy   = types.HealthStatusHealthy
	HealthStatusDegraded  = types.HealthStatusDegraded
	HealthStatusUnhealthy = types.HealthStatusUnhealthy
)
