package permcache

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/permcache/permcache/internal/advisor"
	"github.com/permcache/permcache/internal/cache"
	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/fill"
	"github.com/permcache/permcache/internal/invalidation"
	"github.com/permcache/permcache/internal/lock"
	"github.com/permcache/permcache/internal/tier"
	"github.com/permcache/permcache/internal/types"
)

// service wires the cache layers, tier registry, fill guard,
// invalidation engine and advisor behind the PermissionCache surface.
// One Redis client is shared by the cache layer, the lock manager and
// the invalidation queue.
type service struct {
	config   *config.Config
	logger   *slog.Logger
	registry *tier.Registry
	manager  *cache.Manager
	guard    *fill.Guard
	locker   lock.Locker
	engine   *invalidation.Engine
	advisor  *advisor.Advisor
	client   *redis.Client

	closed atomic.Bool
}

func newService(cfg *config.Config, opts *ServiceOptions) (*service, error) {
	if opts.RedisAddress != "" {
		cfg.Redis.Address = opts.RedisAddress
	}
	if !opts.RedisPassword.IsEmpty() {
		cfg.Redis.Password = opts.RedisPassword
	}
	if opts.RedisDB != 0 {
		cfg.Redis.DB = opts.RedisDB
	}
	if opts.DisableRedis {
		cfg.Redis.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.Default()
	if opts.Logger != nil {
		logger = slog.New(slogAdapter{logger: opts.Logger})
	}

	registry := tier.NewRegistry(logger)
	for _, tc := range cfg.Tiers {
		t, ok := types.ParseTier(tc.Tier)
		if !ok {
			return nil, types.ErrInvalidTier
		}
		if err := registry.Register(tc.Name, t, tc.Description); err != nil {
			return nil, err
		}
	}

	s := &service{
		config:   cfg,
		logger:   logger,
		registry: registry,
		advisor:  advisor.NewAdvisor(cfg.Advisor, logger),
	}

	var local types.LocalCacheLayer
	if cfg.Local.Enabled {
		lc, err := cache.NewLocalCache(cfg.Local, logger)
		if err != nil {
			return nil, err
		}
		local = lc
	} else {
		local = cache.NewDisabledLocalCache()
	}

	var remote types.RemoteCacheLayer = cache.NewDisabledRemoteCache()
	if cfg.Redis.Enabled {
		s.client = newRedisClient(&cfg.Redis, logger)
		remote = cache.NewRemoteCache(s.client, cfg.Redis, logger)
		s.locker = lock.NewRedisLocker(s.client, cfg.Lock, logger)
	}

	s.manager = cache.NewManager(cfg, cache.ManagerDeps{
		Local:      local,
		Remote:     remote,
		Tiers:      registry,
		Serializer: opts.Serializer,
		Metrics:    opts.Metrics,
		Logger:     logger,
	})

	s.guard = fill.NewGuard(s.manager, s.locker, opts.Resolver, registry, opts.Metrics, logger)

	var queueClient redis.UniversalClient
	if s.client != nil {
		queueClient = s.client
	}
	s.engine = invalidation.NewEngine(s.manager, queueClient, cfg.Queue, opts.Metrics, logger)
	s.engine.SetAlertFunc(s.advisor.RaiseAlert)

	logger.Info("Permission cache service started",
		"local_enabled", cfg.Local.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
		"registered_permissions", registry.Len(),
	)

	return s, nil
}

func newRedisClient(cfg *config.RedisConfig, logger *slog.Logger) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Value(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		if cfg.TLSSkipVerify {
			logger.Warn("TLS certificate verification is disabled - this is insecure for production use")
		}
	}

	return redis.NewClient(opts)
}

// CheckPermission answers one permission check, from cache when the
// permission's tier allows it.
func (s *service) CheckPermission(ctx context.Context, actorID, permission string, scope Scope) (Decision, error) {
	if s.closed.Load() {
		return Decision{}, ErrClosed
	}

	key := s.keyFor(actorID, permission, scope)
	if err := key.Validate(); err != nil {
		return Decision{}, err
	}

	return s.guard.Load(ctx, key)
}

// GetPermissions answers every registered permission for one actor in
// a scope. Cacheable decisions come back in one batched lookup;
// misses and critical permissions resolve individually.
func (s *service) GetPermissions(ctx context.Context, actorID string, scope Scope) (map[string]Decision, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	regs := s.registry.Snapshot()
	keys := make([]Key, 0, len(regs))
	for _, reg := range regs {
		keys = append(keys, s.keyFor(actorID, reg.Name, scope))
	}

	cached, err := s.manager.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Decision, len(regs))
	for _, key := range keys {
		if d, ok := cached[key]; ok {
			results[key.Permission] = d
			continue
		}
		d, loadErr := s.guard.Load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}
		results[key.Permission] = d
	}

	return results, nil
}

// GetPermissionsBatch answers one permission for many actors.
func (s *service) GetPermissionsBatch(ctx context.Context, actorIDs []string, permission string, scope Scope) (map[string]Decision, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	keys := make([]Key, 0, len(actorIDs))
	for _, actorID := range actorIDs {
		keys = append(keys, s.keyFor(actorID, permission, scope))
	}

	cached, err := s.manager.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Decision, len(actorIDs))
	for _, key := range keys {
		if d, ok := cached[key]; ok {
			results[key.ActorID] = d
			continue
		}
		d, loadErr := s.guard.Load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}
		results[key.ActorID] = d
	}

	return results, nil
}

// RegisterPermission records a permission's sensitivity tier.
// Registering an existing permission re-tiers it.
func (s *service) RegisterPermission(name string, t Tier, description string) error {
	return s.registry.Register(name, t, description)
}

// TierOf returns the tier a permission was registered with.
// Unregistered permissions default to TierStandard.
func (s *service) TierOf(permission string) Tier {
	return s.registry.TierOf(permission)
}

// IsClientCacheable reports whether callers may cache decisions for
// this permission outside the service.
func (s *service) IsClientCacheable(permission string) bool {
	return s.registry.IsClientCacheable(permission)
}

// InvalidateUser immediately evicts every cached decision for an
// actor from both cache levels.
func (s *service) InvalidateUser(ctx context.Context, actorID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.engine.InvalidatePrefix(ctx, types.ActorPrefix(actorID), LevelAll)
}

// InvalidateRole queues an invalidation for each member of a role.
// Role changes tolerate the queue's processing delay, so these don't
// have to apply inline.
func (s *service) InvalidateRole(ctx context.Context, roleID string, actorIDs []string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	reason := "role:" + roleID
	for _, actorID := range actorIDs {
		if err := s.engine.EnqueuePrefix(ctx, types.ActorPrefix(actorID), LevelAll, reason); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateKeys immediately evicts specific decisions from the
// selected cache levels.
func (s *service) InvalidateKeys(ctx context.Context, keys []Key, level CacheLevel) error {
	if s.closed.Load() {
		return ErrClosed
	}

	for _, key := range keys {
		if err := s.engine.Invalidate(ctx, key, level); err != nil {
			return err
		}
	}
	return nil
}

// ProcessInvalidations applies every queued invalidation using the
// analyzer's batching, collapsing per-actor floods into sweeps.
func (s *service) ProcessInvalidations(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	analysis, err := s.engine.Analyze(ctx)
	if err != nil {
		return 0, err
	}
	return s.engine.Execute(ctx, analysis)
}

// InvalidationAnalysis inspects the pending queue without consuming it.
func (s *service) InvalidationAnalysis(ctx context.Context) (*InvalidationAnalysis, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.engine.Analyze(ctx)
}

// Stats returns current service counters and feeds the advisor one
// observation sample.
func (s *service) Stats(ctx context.Context) Stats {
	stats := s.manager.Stats()
	if s.locker != nil {
		stats.Lock = s.locker.Stats()
	}
	stats.QueueDepth = s.engine.QueueDepth(ctx)

	s.advisor.Observe(stats)
	return stats
}

// Recommendations returns the advisor's current tuning suggestions.
func (s *service) Recommendations() []TuningRecommendation {
	return s.advisor.Recommendations()
}

// Alerts returns operator alerts raised so far.
func (s *service) Alerts() []Alert {
	return s.advisor.Alerts()
}

// Health reports per-subsystem availability. The service is degraded,
// not unhealthy, while L1 keeps serving without the shared backend.
func (s *service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Timestamp: time.Now(),
		L1OK:      s.manager.IsLocalAvailable(),
	}

	stats := s.manager.Stats()
	report.Local = LocalHealth{
		Available:  report.L1OK,
		EntryCount: s.manager.EntryCount(),
		Hits:       stats.Local.Hits,
		Misses:     stats.Local.Misses,
		Evictions:  stats.Local.Evictions,
	}

	remoteStats := stats.Remote
	report.Remote = RemoteHealth{
		Available:     s.manager.IsRemoteAvailable(),
		Connected:     remoteStats.Connected,
		PendingWrites: remoteStats.PendingWrites,
		DroppedWrites: remoteStats.DroppedWrites,
	}

	if s.config.Redis.Enabled {
		report.L2OK = report.Remote.Connected
		report.QueueOK = s.engine.QueueAvailable(ctx)
	} else {
		// No shared backend configured; nothing to degrade over.
		report.L2OK = true
		report.QueueOK = true
	}

	switch {
	case !report.L1OK && !report.L2OK:
		report.Status = HealthStatusUnhealthy
	case !report.L1OK || !report.L2OK || !report.QueueOK:
		report.Status = HealthStatusDegraded
	default:
		report.Status = HealthStatusHealthy
	}

	return report
}

// IsHealthy reports whether the service can still answer checks,
// including in degraded mode.
func (s *service) IsHealthy(ctx context.Context) bool {
	return s.Health(ctx).Status != HealthStatusUnhealthy
}

// IsRemoteAvailable returns true if the shared backend is connected.
func (s *service) IsRemoteAvailable() bool {
	return s.manager.IsRemoteAvailable()
}

// IsLocalAvailable returns true if the in-process cache is usable.
func (s *service) IsLocalAvailable() bool {
	return s.manager.IsLocalAvailable()
}

// Close shuts the service down. Safe to call more than once.
func (s *service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	var errs []error

	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.client != nil {
		if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}

	s.logger.Info("Permission cache service closed")

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// keyFor builds the cache key for one check. Scoped checks land in
// their own partition so a flood of per-resource lookups cannot evict
// the global ones.
func (s *service) keyFor(actorID, permission string, scope Scope) Key {
	partition := s.config.Defaults.Partition
	if scope.Type != "" || scope.ID != "" {
		partition = "scoped"
	}

	return Key{
		ActorID:    actorID,
		ScopeType:  scope.Type,
		ScopeID:    scope.ID,
		Partition:  partition,
		Permission: permission,
	}
}

var _ PermissionCache = (*service)(nil)
