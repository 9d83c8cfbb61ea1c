package types

import (
	"errors"
	"fmt"
)

var (
	ErrCacheMiss           = errors.New("permcache: key not found")
	ErrBackendUnavailable  = errors.New("permcache: shared backend unavailable")
	ErrLockNotAcquired     = errors.New("permcache: lock not acquired")
	ErrLockLost            = errors.New("permcache: lock lost before release")
	ErrClosed              = errors.New("permcache: closed")
	ErrInvalidTier         = errors.New("permcache: invalid tier configuration")
	ErrQueueOverflow       = errors.New("permcache: invalidation queue over capacity")
	ErrWriteQueueFull      = errors.New("permcache: async write queue full")
	ErrSerializationFailed = errors.New("permcache: serialization failed")
	ErrInvalidKey          = errors.New("permcache: invalid key")
	ErrNoResolver          = errors.New("permcache: no authority resolver configured")
	ErrShutdownTimeout     = errors.New("permcache: shutdown timeout waiting for background operations")
)

type CacheError struct {
	Op    string
	Key   string
	Layer string
	Err   error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("permcache %s on %s [%s]: %v", e.Op, e.Layer, e.Key, e.Err)
	}
	return fmt.Sprintf("permcache %s on %s: %v", e.Op, e.Layer, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func NewCacheError(op, key, layer string, err error) *CacheError {
	return &CacheError{
		Op:    op,
		Key:   key,
		Layer: layer,
		Err:   err,
	}
}

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

func IsLockNotAcquired(err error) bool {
	return errors.Is(err, ErrLockNotAcquired)
}

func IsSerializationFailure(err error) bool {
	return errors.Is(err, ErrSerializationFailed)
}

// IsRetryable reports whether an operation that failed with err is
// worth retrying against the backend.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// A miss is a definitive answer, not a transient failure.
	if IsCacheMiss(err) {
		return false
	}

	// Contention resolves through the fallback path, not a retry loop.
	if IsLockNotAcquired(err) {
		return false
	}

	if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrInvalidTier) {
		return false
	}

	// Most other errors (network, timeout) are retryable.
	return true
}
