// Package cache implements the two-level permission decision cache: a
// process-local partitioned LRU in front of a shared Redis-backed
// store, coordinated by the tier registry.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/tier"
	"github.com/permcache/permcache/internal/types"
)

// DefaultShutdownTimeout is the default timeout for shutting down the manager.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultBackgroundOpTimeout is the default timeout for background operations.
const DefaultBackgroundOpTimeout = 5 * time.Second

// Manager coordinates the local and shared cache layers. Tier policy
// is re-read from the registry on every get and set, so a permission
// re-tiered to critical is never served from an entry cached under
// its old policy.
type Manager struct {
	local      types.LocalCacheLayer
	remote     types.RemoteCacheLayer
	tiers      *tier.Registry
	serializer types.Serializer
	config     *config.Config
	metrics    types.MetricsRecorder
	logger     *slog.Logger

	shutdownCancel context.CancelFunc
	shutdownCtx    context.Context
	bgWg           sync.WaitGroup
	bgMu           sync.Mutex
	closed         atomic.Bool
}

// ManagerDeps carries the injected collaborators. Layers are
// interfaces so in-memory fakes substitute for the real backend
// without touching the manager.
type ManagerDeps struct {
	Local      types.LocalCacheLayer
	Remote     types.RemoteCacheLayer
	Tiers      *tier.Registry
	Serializer types.Serializer
	Metrics    types.MetricsRecorder
	Logger     *slog.Logger
}

// NewManager creates a cache manager over the given layers.
func NewManager(cfg *config.Config, deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache-manager")

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	m := &Manager{
		local:          deps.Local,
		remote:         deps.Remote,
		tiers:          deps.Tiers,
		serializer:     deps.Serializer,
		config:         cfg,
		metrics:        deps.Metrics,
		logger:         logger,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	if m.local == nil {
		m.local = NewDisabledLocalCache()
	}
	if m.remote == nil {
		m.remote = NewDisabledRemoteCache()
	}
	if m.serializer == nil {
		m.serializer = NewJSONSerializer()
	}

	return m
}

// Get returns the cached decision for key. A local hit returns
// without any network call; a local miss falls through to the shared
// cache, whose hit back-fills the local layer in the background. No
// lock is held across the network call. Misses are (zero, false, nil);
// the error is only for a closed manager or an invalid key.
func (m *Manager) Get(ctx context.Context, key types.Key) (types.Decision, bool, error) {
	if m.closed.Load() {
		return types.Decision{}, false, types.ErrClosed
	}
	if err := key.Validate(); err != nil {
		return types.Decision{}, false, err
	}

	start := time.Now()

	policy := m.tiers.PolicyFor(key.Permission)
	if policy.MustHitAuthority {
		// The permission may have been re-tiered after entries were
		// cached; purge whatever is still sitting under the old policy.
		m.purgeStale(key)
		return types.Decision{}, false, nil
	}

	if data, err := m.local.Get(ctx, key); err == nil {
		d, ok := m.decode(key, data, "local")
		if ok {
			m.recordHit("local", key.Partition, time.Since(start))
			return d, true, nil
		}
	} else if !types.IsCacheMiss(err) && !errors.Is(err, types.ErrClosed) {
		m.logger.Debug("Local cache error", "key", key.String(), "error", err)
	}

	if !m.remote.IsAvailable() {
		m.recordMiss("local", key.Partition, time.Since(start))
		return types.Decision{}, false, nil
	}

	data, err := m.remote.Get(ctx, key.String())
	if err != nil {
		if !types.IsCacheMiss(err) {
			m.recordError("remote", "Get", err)
		}
		m.recordMiss("remote", key.Partition, time.Since(start))
		return types.Decision{}, false, nil
	}

	d, ok := m.decode(key, data, "remote")
	if !ok {
		m.recordMiss("remote", key.Partition, time.Since(start))
		return types.Decision{}, false, nil
	}

	ttl := policy.ServerTTL
	valueCopy := data
	m.runBackground(func(ctx context.Context) {
		if setErr := m.local.Set(ctx, key, valueCopy, m.tiers.TierOf(key.Permission), ttl); setErr != nil {
			m.logger.Debug("Failed to back-fill local cache", "key", key.String(), "error", setErr)
		}
	})

	m.recordHit("remote", key.Partition, time.Since(start))
	return d, true, nil
}

// GetRemote reads the shared cache only, bypassing the local layer.
// Used by the fill protocol to re-check under the distributed lock.
func (m *Manager) GetRemote(ctx context.Context, key types.Key) (types.Decision, bool) {
	if m.closed.Load() || !m.remote.IsAvailable() {
		return types.Decision{}, false
	}

	policy := m.tiers.PolicyFor(key.Permission)
	if policy.MustHitAuthority {
		return types.Decision{}, false
	}

	data, err := m.remote.Get(ctx, key.String())
	if err != nil {
		return types.Decision{}, false
	}
	return m.decode(key, data, "remote")
}

// Set caches a decision. Writes to the local layer are synchronous;
// writes to the shared layer happen only when the tier's server TTL
// is positive, and are best-effort. Setting a key whose permission is
// tiered critical is a silent no-op.
func (m *Manager) Set(ctx context.Context, key types.Key, decision types.Decision) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	if err := key.Validate(); err != nil {
		return err
	}

	start := time.Now()

	t := m.tiers.TierOf(key.Permission)
	policy := tier.PolicyOf(t)
	if policy.MustHitAuthority {
		m.logger.Debug("Refusing to cache critical permission", "permission", key.Permission)
		return nil
	}

	data, err := m.serializer.Marshal(decision)
	if err != nil {
		return types.NewCacheError("Set", key.String(), "serializer", err)
	}

	if err := m.local.Set(ctx, key, data, t, policy.ServerTTL); err != nil && !errors.Is(err, types.ErrClosed) {
		return err
	}

	if policy.ServerTTL > 0 {
		m.setRemote(ctx, key.String(), data, policy.ServerTTL)
	}

	if m.metrics != nil {
		m.metrics.RecordSet("local", key.Partition, len(data), time.Since(start))
	}

	return nil
}

func (m *Manager) setRemote(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if !m.remote.IsAvailable() {
		return
	}

	if m.config.Defaults.AsyncRemoteWrites {
		if err := m.remote.SetAsync(key, data, ttl); err != nil {
			m.logger.Debug("Async shared-cache SET not queued", "key", key, "error", err)
		}
		return
	}

	if err := m.remote.Set(ctx, key, data, ttl); err != nil {
		m.logger.Warn("Shared-cache SET failed, wrote local only", "key", key, "error", err)
		m.recordError("remote", "Set", err)
	}
}

// BatchGet returns cached decisions for keys in one local sweep and
// one shared-cache round trip. Keys that miss both levels are simply
// absent from the result.
func (m *Manager) BatchGet(ctx context.Context, keys []types.Key) (map[types.Key]types.Decision, error) {
	if m.closed.Load() {
		return nil, types.ErrClosed
	}

	results := make(map[types.Key]types.Decision, len(keys))
	var missing []types.Key

	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}

		policy := m.tiers.PolicyFor(key.Permission)
		if policy.MustHitAuthority {
			continue
		}

		if data, err := m.local.Get(ctx, key); err == nil {
			if d, ok := m.decode(key, data, "local"); ok {
				results[key] = d
				continue
			}
		}
		missing = append(missing, key)
	}

	if len(missing) == 0 || !m.remote.IsAvailable() {
		return results, nil
	}

	rendered := make([]string, len(missing))
	byRendered := make(map[string]types.Key, len(missing))
	for i, key := range missing {
		rendered[i] = key.String()
		byRendered[key.String()] = key
	}

	remoteResults, err := m.remote.GetMany(ctx, rendered)
	if err != nil {
		m.recordError("remote", "GetMany", err)
		return results, nil
	}

	for k, data := range remoteResults {
		key := byRendered[k]
		d, ok := m.decode(key, data, "remote")
		if !ok {
			continue
		}
		results[key] = d

		ttl := m.tiers.CacheTTL(key.Permission)
		keyCopy, dataCopy := key, data
		m.runBackground(func(ctx context.Context) {
			if setErr := m.local.Set(ctx, keyCopy, dataCopy, m.tiers.TierOf(keyCopy.Permission), ttl); setErr != nil {
				m.logger.Debug("Failed to back-fill local cache from batch", "key", keyCopy.String(), "error", setErr)
			}
		})
	}

	return results, nil
}

// BatchSet caches multiple decisions with one local sweep and one
// pipelined shared-cache round trip per TTL class. Critical-tier keys
// are skipped, same as Set.
func (m *Manager) BatchSet(ctx context.Context, items map[types.Key]types.Decision) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	if len(items) == 0 {
		return nil
	}

	remoteItems := make(map[time.Duration]map[string][]byte)

	for key, decision := range items {
		if err := key.Validate(); err != nil {
			return err
		}

		t := m.tiers.TierOf(key.Permission)
		policy := tier.PolicyOf(t)
		if policy.MustHitAuthority {
			continue
		}

		data, err := m.serializer.Marshal(decision)
		if err != nil {
			return types.NewCacheError("BatchSet", key.String(), "serializer", err)
		}

		if err := m.local.Set(ctx, key, data, t, policy.ServerTTL); err != nil && !errors.Is(err, types.ErrClosed) {
			return err
		}

		if policy.ServerTTL > 0 {
			batch, ok := remoteItems[policy.ServerTTL]
			if !ok {
				batch = make(map[string][]byte)
				remoteItems[policy.ServerTTL] = batch
			}
			batch[key.String()] = data
		}
	}

	if m.remote.IsAvailable() {
		for ttl, batch := range remoteItems {
			if err := m.remote.SetMany(ctx, batch, ttl); err != nil {
				// Local writes already succeeded; cost is a round trip later.
				m.logger.Warn("Shared-cache batch SET failed", "keys", len(batch), "error", err)
				m.recordError("remote", "SetMany", err)
			}
		}
	}

	return nil
}

// Remove evicts a single key from the selected cache levels.
func (m *Manager) Remove(ctx context.Context, key types.Key, level types.CacheLevel) error {
	if m.closed.Load() {
		return types.ErrClosed
	}

	if level.IncludesLocal() {
		if err := m.local.Delete(ctx, key); err != nil && !errors.Is(err, types.ErrClosed) {
			return err
		}
	}

	if level.IncludesRemote() && m.remote.IsAvailable() {
		if err := m.remote.Delete(ctx, key.String()); err != nil {
			m.logger.Debug("Shared-cache delete failed", "key", key.String(), "error", err)
			m.recordError("remote", "Delete", err)
		}
	}

	if m.metrics != nil {
		m.metrics.RecordDelete(level.String(), 0)
	}
	return nil
}

// RemovePattern evicts every key with the given prefix from the
// selected cache levels.
func (m *Manager) RemovePattern(ctx context.Context, prefix string, level types.CacheLevel) error {
	if m.closed.Load() {
		return types.ErrClosed
	}

	if level.IncludesLocal() {
		if _, err := m.local.DeletePrefix(ctx, prefix); err != nil && !errors.Is(err, types.ErrClosed) {
			return err
		}
	}

	if level.IncludesRemote() && m.remote.IsAvailable() {
		if _, err := m.remote.DeletePattern(ctx, prefix+"*"); err != nil {
			m.logger.Debug("Shared-cache pattern delete failed", "prefix", prefix, "error", err)
			m.recordError("remote", "DeletePattern", err)
		}
	}

	return nil
}

// Stats returns the data-plane portion of the service statistics.
func (m *Manager) Stats() types.Stats {
	return types.Stats{
		Timestamp:  time.Now(),
		Partitions: m.local.PartitionStats(),
		Local:      m.local.Stats(),
		Remote:     m.remote.Stats(),
	}
}

// EntryCount returns the number of live entries in the local layer.
func (m *Manager) EntryCount() int {
	return m.local.EntryCount()
}

// IsLocalAvailable returns true if the local layer is usable.
func (m *Manager) IsLocalAvailable() bool {
	return m.local.IsAvailable()
}

// IsRemoteAvailable returns true if the shared backend is connected.
func (m *Manager) IsRemoteAvailable() bool {
	return m.remote.IsAvailable()
}

// Close releases all resources using the default shutdown timeout.
func (m *Manager) Close() error {
	return m.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout waits for in-flight background operations before
// closing the layers. If they don't finish within the timeout it
// returns ErrShutdownTimeout but still proceeds to close.
func (m *Manager) CloseWithTimeout(timeout time.Duration) error {
	// Hold bgMu so no background operation starts between setting
	// closed and waiting on the group.
	m.bgMu.Lock()
	if m.closed.Swap(true) {
		m.bgMu.Unlock()
		return nil
	}
	m.shutdownCancel()
	m.bgMu.Unlock()

	m.logger.Info("Closing cache manager, waiting for background operations", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		m.bgWg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Shutdown timeout exceeded, proceeding with close", "timeout", timeout)
		timedOut = true
	}

	var errs []error

	if timedOut {
		errs = append(errs, types.ErrShutdownTimeout)
	}

	if err := m.local.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := m.remote.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// decode unmarshals a cached payload. A corrupted payload is treated
// as a miss and the offending key is proactively deleted from the
// layer it came from.
func (m *Manager) decode(key types.Key, data []byte, layer string) (types.Decision, bool) {
	var d types.Decision
	if err := m.serializer.Unmarshal(data, &d); err == nil {
		return d, true
	}

	m.logger.Warn("Corrupted cache payload, evicting", "key", key.String(), "layer", layer)
	m.recordError(layer, "Unmarshal", types.ErrSerializationFailed)

	m.runBackground(func(ctx context.Context) {
		if layer == "local" {
			_ = m.local.Delete(ctx, key)
		} else if m.remote.IsAvailable() {
			_ = m.remote.Delete(ctx, key.String())
		}
	})

	return types.Decision{}, false
}

// purgeStale removes entries cached before a permission was re-tiered
// to critical.
func (m *Manager) purgeStale(key types.Key) {
	m.runBackground(func(ctx context.Context) {
		_ = m.local.Delete(ctx, key)
		if m.remote.IsAvailable() {
			_ = m.remote.Delete(ctx, key.String())
		}
	})
}

// runBackground executes fn in a goroutine tracked for graceful
// shutdown; it will not start once the manager is closed.
func (m *Manager) runBackground(fn func(ctx context.Context)) {
	m.bgMu.Lock()
	if m.closed.Load() {
		m.bgMu.Unlock()
		return
	}
	m.bgWg.Add(1)
	m.bgMu.Unlock()

	go func() {
		defer m.bgWg.Done()
		ctx, cancel := context.WithTimeout(m.shutdownCtx, DefaultBackgroundOpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) recordHit(layer, partition string, latency time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordHit(layer, partition, latency)
	}
}

func (m *Manager) recordMiss(layer, partition string, latency time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordMiss(layer, partition, latency)
	}
}

func (m *Manager) recordError(layer, op string, err error) {
	if m.metrics != nil {
		m.metrics.RecordError(layer, op, err)
	}
}
