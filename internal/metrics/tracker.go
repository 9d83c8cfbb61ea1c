// Package metrics provides cache operation metrics collection and publishing.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/permcache/permcache/internal/types"
	"github.com/permcache/permcache/pkg/permcache"
)

const (
	defaultLatencyBufferSize = 10000
)

// Tracker accumulates operation counters and a circular buffer of
// latencies, cheap enough to sit on the hot path.
type Tracker struct {
	localHits    atomic.Int64
	localMisses  atomic.Int64
	remoteHits   atomic.Int64
	remoteMisses atomic.Int64

	getCount     atomic.Int64
	setCount     atomic.Int64
	deleteCount  atomic.Int64
	resolveCount atomic.Int64

	errorCount      atomic.Int64
	lockContentions atomic.Int64
	queueDepth      atomic.Int64

	latencyMu     sync.RWMutex
	latencyBuffer []time.Duration
	latencyIndex  int
	latencyCount  int

	totalBytesWritten atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{
		latencyBuffer: make([]time.Duration, defaultLatencyBufferSize),
	}
}

func (t *Tracker) RecordHit(layer string, partition string, latency time.Duration) {
	switch layer {
	case "local":
		t.localHits.Add(1)
	case "remote":
		t.remoteHits.Add(1)
	}
	t.getCount.Add(1)
	t.recordLatency(latency)
}

func (t *Tracker) RecordMiss(layer string, partition string, latency time.Duration) {
	switch layer {
	case "local":
		t.localMisses.Add(1)
	case "remote":
		t.remoteMisses.Add(1)
	}
	t.getCount.Add(1)
	t.recordLatency(latency)
}

func (t *Tracker) RecordSet(layer string, partition string, size int, latency time.Duration) {
	t.setCount.Add(1)
	t.totalBytesWritten.Add(int64(size))
	t.recordLatency(latency)
}

// RecordDelete records a delete operation.
func (t *Tracker) RecordDelete(layer string, latency time.Duration) {
	t.deleteCount.Add(1)
	t.recordLatency(latency)
}

// RecordError records an error.
func (t *Tracker) RecordError(layer string, operation string, err error) {
	t.errorCount.Add(1)
}

// RecordResolve records one authority round trip.
func (t *Tracker) RecordResolve(latency time.Duration) {
	t.resolveCount.Add(1)
	t.recordLatency(latency)
}

// RecordLockContention records a fill lock that could not be acquired.
func (t *Tracker) RecordLockContention() {
	t.lockContentions.Add(1)
}

// RecordQueueDepth records the current invalidation queue depth.
func (t *Tracker) RecordQueueDepth(depth int64) {
	t.queueDepth.Store(depth)
}

// recordLatency adds a latency measurement using a circular buffer.
// This is O(1) time complexity with no memory allocations.
func (t *Tracker) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	t.latencyBuffer[t.latencyIndex] = latency
	t.latencyIndex = (t.latencyIndex + 1) % len(t.latencyBuffer)
	if t.latencyCount < len(t.latencyBuffer) {
		t.latencyCount++
	}
	t.latencyMu.Unlock()
}

// Snapshot returns current metrics snapshot.
func (t *Tracker) Snapshot() permcache.MetricsSnapshot {
	// Use RLock for reading - allows concurrent snapshots
	t.latencyMu.RLock()
	count := t.latencyCount
	latencyCopy := make([]time.Duration, count)
	// Copy from circular buffer in correct order
	if count > 0 {
		if count < len(t.latencyBuffer) {
			// Buffer not full yet - data starts at 0
			copy(latencyCopy, t.latencyBuffer[:count])
		} else {
			// Buffer is full - oldest data starts at latencyIndex
			firstPart := len(t.latencyBuffer) - t.latencyIndex
			copy(latencyCopy[:firstPart], t.latencyBuffer[t.latencyIndex:])
			copy(latencyCopy[firstPart:], t.latencyBuffer[:t.latencyIndex])
		}
	}
	t.latencyMu.RUnlock()

	snapshot := permcache.MetricsSnapshot{
		Timestamp:       time.Now(),
		LocalHits:       t.localHits.Load(),
		LocalMisses:     t.localMisses.Load(),
		RemoteHits:      t.remoteHits.Load(),
		RemoteMisses:    t.remoteMisses.Load(),
		GetCount:        t.getCount.Load(),
		SetCount:        t.setCount.Load(),
		DeleteCount:     t.deleteCount.Load(),
		ResolveCount:    t.resolveCount.Load(),
		ErrorCount:      t.errorCount.Load(),
		LockContentions: t.lockContentions.Load(),
		QueueDepth:      t.queueDepth.Load(),
	}

	// Calculate latency percentiles
	if len(latencyCopy) > 0 {
		snapshot.AvgLatencyMs = float64(avgDuration(latencyCopy).Milliseconds())
		snapshot.P50LatencyMs = float64(percentile(latencyCopy, 50).Milliseconds())
		snapshot.P95LatencyMs = float64(percentile(latencyCopy, 95).Milliseconds())
		snapshot.P99LatencyMs = float64(percentile(latencyCopy, 99).Milliseconds())
	}

	return snapshot
}

// Reset clears all metrics.
func (t *Tracker) Reset() {
	t.localHits.Store(0)
	t.localMisses.Store(0)
	t.remoteHits.Store(0)
	t.remoteMisses.Store(0)
	t.getCount.Store(0)
	t.setCount.Store(0)
	t.deleteCount.Store(0)
	t.resolveCount.Store(0)
	t.errorCount.Store(0)
	t.lockContentions.Store(0)
	t.queueDepth.Store(0)
	t.totalBytesWritten.Store(0)

	t.latencyMu.Lock()
	t.latencyIndex = 0
	t.latencyCount = 0
	t.latencyMu.Unlock()
}

// Helper functions for latency calculations

func avgDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	// Sort a copy
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	slices.Sort(sorted)

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

// Ensure Tracker implements MetricsRecorder
var _ types.MetricsRecorder = (*Tracker)(nil)
