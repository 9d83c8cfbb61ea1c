// Package permcache provides a multi-level cache for permission decisions.
//
// permcache answers "may this actor perform this action on this resource"
// from cache whenever policy allows, falling back to a pluggable resolver
// (the authority source) on misses. Decisions are held in a process-local
// partitioned LRU backed by a shared Redis layer, with stampede
// protection, queued invalidation, and tuning advice built in.
//
// # Features
//
//   - Two Cache Levels: Partitioned in-process LRU (L1) over shared Redis (L2)
//   - Tiered Policy: Per-permission sensitivity tiers control TTL and cacheability
//   - Stampede Protection: Per-process flight dedup plus a distributed fill lock
//   - Invalidation: Immediate eviction or a durable queue with batch analysis
//   - Graceful Degradation: Keeps serving from L1 when Redis fails
//   - Observability: Metrics tracking with pluggable publishers
//
// # Quick Start
//
// Create a service with default configuration (local-only) and a resolver:
//
//	svc, err := permcache.New(
//	    permcache.WithResolver(permcache.ResolverFunc(resolve)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
// # Checking Permissions
//
//	ctx := context.Background()
//	scope := permcache.Scope{Type: "project", ID: "p-42"}
//
//	decision, err := svc.CheckPermission(ctx, "user-123", "document.read", scope)
//	if err != nil {
//	    // resolver failed and nothing was cached
//	}
//	if decision.Allowed {
//	    // proceed
//	}
//
// Fetch every registered permission for an actor at once:
//
//	decisions, err := svc.GetPermissions(ctx, "user-123", scope)
//
// # Permission Tiers
//
// Each permission carries a sensitivity tier that decides how long its
// decisions may be cached:
//
//   - TierBasic: long-lived, safe for client-side caching
//   - TierStandard: default server-side caching
//   - TierAdvanced: short server-side caching
//   - TierCritical: never cached, every check hits the resolver
//
// Register permissions up front or in config:
//
//	svc.RegisterPermission("document.read", permcache.TierBasic, "read project documents")
//	svc.RegisterPermission("billing.manage", permcache.TierCritical, "change payment methods")
//
// # Invalidation
//
// Evict immediately when facts change:
//
//	svc.InvalidateUser(ctx, "user-123")
//
// Or queue low-urgency invalidations for batched processing:
//
//	svc.InvalidateRole(ctx, "role-editor", memberIDs)
//	processed, err := svc.ProcessInvalidations(ctx)
//
// # Configuration
//
// Load configuration from a JSON file:
//
//	svc, err := permcache.NewFromFile("config.json", opts...)
//
// Or use the default configuration:
//
//	cfg := permcache.Config()
//	cfg.Redis.Enabled = true
//	cfg.Redis.Address = "localhost:6379"
//	svc, err := permcache.NewFromConfig(cfg, opts...)
//
// For testing, use the test configuration:
//
//	cfg := permcache.TestConfig()
//
// # Health Checks
//
// Check the health status of the cache layers:
//
//	report := svc.Health(ctx)
//	if report.Status == permcache.HealthStatusDegraded {
//	    // L1 still serving, L2 or the queue is unreachable
//	}
//
// # Thread Safety
//
// All operations are thread-safe and can be used concurrently from
// multiple goroutines.
package permcache
