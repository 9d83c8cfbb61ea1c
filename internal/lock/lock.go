// Package lock provides Redis-backed lease locks used to serialize
// cache fills across processes. Locks are advisory: losing one is an
// observable condition, never a panic.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/permcache/permcache/internal/config"
	"github.com/permcache/permcache/internal/types"
)

// Locker acquires named lease locks.
type Locker interface {
	Acquire(ctx context.Context, name string) (*Lock, error)
	Stats() types.LockStats
}

// releaseScript deletes the lock key only when it still carries the
// caller's token, so an expired lock taken over by another holder is
// never released out from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the caller still holds it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker on a shared Redis client.
type RedisLocker struct {
	client redis.UniversalClient
	config config.LockConfig
	logger *slog.Logger

	tokenCounter atomic.Int64

	acquired  atomic.Int64
	contended atomic.Int64
	lost      atomic.Int64
	released  atomic.Int64
}

// NewRedisLocker creates a locker over an existing Redis client.
func NewRedisLocker(client redis.UniversalClient, cfg config.LockConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		config: cfg,
		logger: logger.With("component", "lock"),
	}
}

// Acquire takes the named lock, retrying contended attempts a bounded
// number of times with a jittered interval. It returns
// ErrLockNotAcquired once retries are exhausted, so callers can fall
// back rather than block. The returned Lock renews its own lease
// until released.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := l.config.KeyPrefix + name
	token := l.newToken()

	attempts := l.config.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ok, err := l.client.SetNX(ctx, key, token, l.config.Lease).Result()
		if err != nil {
			return nil, types.NewCacheError("Acquire", key, "lock", types.ErrBackendUnavailable)
		}
		if ok {
			l.acquired.Add(1)
			return l.newLock(key, token), nil
		}

		l.contended.Add(1)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered(l.config.RetryInterval)):
		}
	}

	return nil, types.ErrLockNotAcquired
}

// Stats returns lifetime lock counters.
func (l *RedisLocker) Stats() types.LockStats {
	return types.LockStats{
		Acquired:  l.acquired.Load(),
		Contended: l.contended.Load(),
		Lost:      l.lost.Load(),
		Released:  l.released.Load(),
	}
}

// newToken returns a token unique across holders and acquisitions.
func (l *RedisLocker) newToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%d:%d", host, os.Getpid(), time.Now().UnixNano(), l.tokenCounter.Add(1))
}

func (l *RedisLocker) newLock(key, token string) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	lk := &Lock{
		locker:      l,
		key:         key,
		token:       token,
		renewCancel: cancel,
	}
	lk.renewWg.Add(1)
	go lk.renewLoop(ctx)
	return lk
}

// jittered spreads retries of concurrent waiters (plus or minus 25%).
func jittered(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// Lock is a held lease. Release is idempotent and only removes the
// lock while this holder's token is still on it.
type Lock struct {
	locker *RedisLocker
	key    string
	token  string

	renewCancel context.CancelFunc
	renewWg     sync.WaitGroup

	releaseOnce sync.Once
	lost        atomic.Bool
}

// Lost reports whether the lease expired or was taken over while
// held. Work guarded by a lost lock may have raced another holder.
func (lk *Lock) Lost() bool {
	return lk.lost.Load()
}

// Release stops renewal and removes the lock if still held.
func (lk *Lock) Release(ctx context.Context) error {
	var err error
	lk.releaseOnce.Do(func() {
		lk.renewCancel()
		lk.renewWg.Wait()

		if lk.lost.Load() {
			return
		}

		n, scriptErr := releaseScript.Run(ctx, lk.locker.client, []string{lk.key}, lk.token).Int()
		if scriptErr != nil {
			err = types.NewCacheError("Release", lk.key, "lock", scriptErr)
			return
		}
		if n == 0 {
			lk.markLost("released after lease expiry")
			return
		}
		lk.locker.released.Add(1)
	})
	return err
}

// renewLoop extends the lease at half its duration until Release. Two
// consecutive renewal errors, or a renewal that finds another
// holder's token, mark the lock lost and stop the loop.
func (lk *Lock) renewLoop(ctx context.Context) {
	defer lk.renewWg.Done()

	interval := lk.locker.config.Lease / 2
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(ctx, interval)
			n, err := renewScript.Run(renewCtx, lk.locker.client, []string{lk.key}, lk.token, lk.locker.config.Lease.Milliseconds()).Int()
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				if failures >= 2 {
					lk.markLost("renewal failing")
					return
				}
				continue
			}

			failures = 0
			if n == 0 {
				lk.markLost("lease taken over")
				return
			}
		}
	}
}

func (lk *Lock) markLost(reason string) {
	if lk.lost.Swap(true) {
		return
	}
	lk.locker.lost.Add(1)
	lk.locker.logger.Warn("Lock lost", "key", lk.key, "reason", reason)
}

var _ Locker = (*RedisLocker)(nil)
