package invalidation

import (
	"context"
	"sort"
	"time"

	"github.com/permcache/permcache/internal/types"
)

// Queue health states.
const (
	HealthHealthy  = "healthy"
	HealthGrowing  = "growing"
	HealthDraining = "draining"
)

// Recommendation actions.
const (
	ActionSweep  = "sweep"
	ActionDelete = "delete"
)

// Recommendation is one batch-processing step the analyzer suggests:
// either a single prefix sweep covering many queued tasks, or
// targeted deletes for keys that don't cluster.
type Recommendation struct {
	Action    string   `json:"action"`
	Prefix    string   `json:"prefix,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Level     string   `json:"level"`
	Reason    string   `json:"reason,omitempty"`
	TaskCount int      `json:"task_count"`
}

// Analysis is a point-in-time view of the pending queue.
type Analysis struct {
	Timestamp       time.Time        `json:"timestamp"`
	PendingTasks    int              `json:"pending_tasks"`
	OldestTaskAge   time.Duration    `json:"oldest_task_age"`
	Health          string           `json:"health"`
	Recommendations []Recommendation `json:"recommendations"`

	tasks    []Task
	rawCount int
}

// Analyze inspects the pending queue without consuming it. Tasks that
// share an actor prefix and reason are collapsed into a sweep
// recommendation once they reach the configured threshold; the rest
// become targeted deletes.
func (e *Engine) Analyze(ctx context.Context) (*Analysis, error) {
	a := &Analysis{
		Timestamp: time.Now(),
		Health:    HealthHealthy,
	}

	if e.client == nil {
		return a, nil
	}

	tasks, rawCount, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	a.tasks = tasks
	a.rawCount = rawCount
	a.PendingTasks = rawCount
	a.Health = e.health(int64(rawCount))

	if len(tasks) == 0 {
		return a, nil
	}

	a.OldestTaskAge = time.Since(tasks[0].EnqueuedAt)
	a.Recommendations = e.recommend(tasks)
	return a, nil
}

// Execute applies an analysis: sweeps first, then targeted deletes,
// then drains the analyzed tasks from the queue. Tasks enqueued after
// the analysis snapshot stay queued.
func (e *Engine) Execute(ctx context.Context, a *Analysis) (int, error) {
	if e.client == nil || a.rawCount == 0 {
		return 0, nil
	}

	for _, rec := range a.Recommendations {
		level := types.ParseCacheLevel(rec.Level)
		switch rec.Action {
		case ActionSweep:
			if err := e.manager.RemovePattern(ctx, rec.Prefix, level); err != nil {
				e.logger.Warn("Sweep failed", "prefix", rec.Prefix, "error", err)
			}
		case ActionDelete:
			for _, raw := range rec.Keys {
				key, err := types.ParseKey(raw)
				if err != nil {
					continue
				}
				if err := e.manager.Remove(ctx, key, level); err != nil {
					e.logger.Warn("Targeted delete failed", "key", raw, "error", err)
				}
			}
		}
	}

	if err := e.drain(ctx, a.rawCount); err != nil {
		return 0, err
	}

	e.recordProcessed(ctx, a.tasks)
	e.processed.Add(int64(len(a.tasks)))
	e.logger.Info("Executed invalidation analysis",
		"tasks", len(a.tasks),
		"recommendations", len(a.Recommendations))
	return len(a.tasks), nil
}

// recommend groups tasks by actor prefix, level and reason. A group
// at or above the sweep threshold becomes one sweep; smaller groups
// become targeted deletes.
func (e *Engine) recommend(tasks []Task) []Recommendation {
	type groupKey struct {
		prefix string
		level  string
		reason string
		// A task whose cache key is itself a prefix is already a
		// sweep, whatever the group size.
		isSweep bool
	}

	groups := make(map[groupKey][]Task)
	var order []groupKey

	for _, task := range tasks {
		k := groupKey{level: task.Level, reason: task.Reason}
		if parsed, err := types.ParseKey(task.CacheKey); err == nil {
			k.prefix = types.ActorPrefix(parsed.ActorID)
		} else {
			k.prefix = task.CacheKey
			k.isSweep = true
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], task)
	}

	recs := make([]Recommendation, 0, len(order))
	for _, k := range order {
		group := groups[k]

		if k.isSweep || (k.prefix != "" && len(group) >= e.config.SweepThreshold) {
			recs = append(recs, Recommendation{
				Action:    ActionSweep,
				Prefix:    k.prefix,
				Level:     k.level,
				Reason:    k.reason,
				TaskCount: len(group),
			})
			continue
		}

		keys := make([]string, 0, len(group))
		for _, task := range group {
			keys = append(keys, task.CacheKey)
		}
		recs = append(recs, Recommendation{
			Action:    ActionDelete,
			Keys:      keys,
			Level:     k.level,
			Reason:    k.reason,
			TaskCount: len(group),
		})
	}

	// Sweeps first: one DeletePattern can make the targeted deletes
	// after it no-ops, never the other way around.
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Action == ActionSweep && recs[j].Action != ActionSweep
	})
	return recs
}

// health classifies the queue from its depth trend. Above 80% of
// capacity is always growing.
func (e *Engine) health(depth int64) string {
	prev := e.trendDepth.Swap(depth)

	switch {
	case depth >= e.config.MaxDepth*8/10:
		return HealthGrowing
	case depth > prev:
		return HealthGrowing
	case depth < prev:
		return HealthDraining
	default:
		return HealthHealthy
	}
}
