// Package advisor watches cache statistics over time and suggests
// configuration changes. It only ever recommends; nothing here
// mutates the cache.
package advisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

// Recommendation kinds.
const (
	KindReduceTTL        = "reduce_ttl"
	KindIncreaseTTL      = "increase_ttl"
	KindIncreaseCapacity = "increase_capacity"
)

// Recommendation is one suggested tuning change for a partition.
type Recommendation struct {
	Kind      string  `json:"kind"`
	Partition string  `json:"partition"`
	Detail    string  `json:"detail"`
	HitRate   float64 `json:"hit_rate"`
}

// Alert is an operator-visible condition raised by the service.
type Alert struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	Time   time.Time `json:"time"`
}

// Advisor accumulates statistics samples in a bounded ring and
// derives tuning recommendations from the trend between the oldest
// and newest sample.
type Advisor struct {
	config config.AdvisorConfig
	logger *slog.Logger

	mu      sync.Mutex
	samples []types.Stats
	alerts  []Alert
}

// NewAdvisor creates an advisor. A disabled advisor still accepts
// observations but returns no recommendations.
func NewAdvisor(cfg config.AdvisorConfig, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 60
	}
	if cfg.AlertLimit <= 0 {
		cfg.AlertLimit = 100
	}
	return &Advisor{
		config: cfg,
		logger: logger.With("component", "advisor"),
	}
}

// Observe records one statistics sample, evicting the oldest once the
// sample limit is reached.
func (a *Advisor) Observe(stats types.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, stats)
	if len(a.samples) > a.config.SampleLimit {
		a.samples = a.samples[len(a.samples)-a.config.SampleLimit:]
	}
}

// Recommendations derives tuning suggestions from observed samples.
// At least two samples are needed for a trend.
func (a *Advisor) Recommendations() []Recommendation {
	if !a.config.Enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) < 2 {
		return nil
	}

	first := a.samples[0]
	last := a.samples[len(a.samples)-1]

	var recs []Recommendation
	for name, p := range last.Partitions {
		prev, ok := first.Partitions[name]
		if !ok {
			continue
		}

		hits := p.Hits - prev.Hits
		misses := p.Misses - prev.Misses
		sets := p.Sets - prev.Sets
		evictions := p.Evictions - prev.Evictions

		lookups := hits + misses
		if lookups == 0 {
			continue
		}
		hitRate := float64(hits) / float64(lookups)

		switch {
		case hitRate < 0.5 && sets > lookups/2:
			// Churn: entries written but rarely read back before
			// expiring or being replaced.
			recs = append(recs, Recommendation{
				Kind:      KindReduceTTL,
				Partition: name,
				HitRate:   hitRate,
				Detail: fmt.Sprintf("hit rate %.0f%% with %d writes per %d lookups, entries rarely reused",
					hitRate*100, sets, lookups),
			})
		case evictions > 0 && hitRate > 0.8:
			// Hot partition losing useful entries to capacity pressure.
			recs = append(recs, Recommendation{
				Kind:      KindIncreaseCapacity,
				Partition: name,
				HitRate:   hitRate,
				Detail: fmt.Sprintf("hit rate %.0f%% yet %d capacity evictions, partition is undersized",
					hitRate*100, evictions),
			})
		case hitRate > 0.9 && evictions == 0 && misses > 0:
			recs = append(recs, Recommendation{
				Kind:      KindIncreaseTTL,
				Partition: name,
				HitRate:   hitRate,
				Detail: fmt.Sprintf("hit rate %.0f%% with headroom, longer TTL would cut the remaining %d misses",
					hitRate*100, misses),
			})
		}
	}
	return recs
}

// RaiseAlert records an operator alert, keeping the most recent ones
// up to the configured limit.
func (a *Advisor) RaiseAlert(kind, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.alerts = append(a.alerts, Alert{Kind: kind, Detail: detail, Time: time.Now()})
	if len(a.alerts) > a.config.AlertLimit {
		a.alerts = a.alerts[len(a.alerts)-a.config.AlertLimit:]
	}
	a.logger.Warn("Alert raised", "kind", kind, "detail", detail)
}

// Alerts returns a copy of the recorded alerts, oldest first.
func (a *Advisor) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// SampleCount returns the number of samples currently held.
func (a *Advisor) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
