package permcache

import (
	"github.com/permcache/permcache/internal/types"
)

// CacheError represents a cache operation error.
type CacheError = types.CacheError

var (
	// ErrCacheMiss indicates that a requested key was not found in the cache.
	ErrCacheMiss = types.ErrCacheMiss
	// ErrBackendUnavailable indicates that the shared cache backend is not reachable.
	ErrBackendUnavailable = types.ErrBackendUnavailable
	// ErrLockNotAcquired indicates that the fill lock was held elsewhere.
	ErrLockNotAcquired = types.ErrLockNotAcquired
	// ErrLockLost indicates that a held fill lock expired or was taken over.
	ErrLockLost = types.ErrLockLost
	// ErrClosed indicates that the service has been closed.
	ErrClosed = types.ErrClosed
	// ErrInvalidTier indicates an unrecognized permission tier.
	ErrInvalidTier = types.ErrInvalidTier
	// ErrWriteQueueFull indicates that the async write queue is full.
	ErrWriteQueueFull = types.ErrWriteQueueFull
	// ErrSerializationFailed indicates that serialization failed.
	ErrSerializationFailed = types.ErrSerializationFailed
	// ErrInvalidKey indicates that a cache key is invalid.
	ErrInvalidKey = types.ErrInvalidKey
	// ErrNoResolver indicates a check needed the authority source but
	// no resolver was configured.
	ErrNoResolver = types.ErrNoResolver
	// ErrShutdownTimeout indicates background work outlived the
	// shutdown grace period.
	ErrShutdownTimeout = types.ErrShutdownTimeout
)

// NewCacheError creates a new cache error with operation, key, layer, and underlying error.
func NewCacheError(op, key, layer string, err error) *CacheError {
	return types.NewCacheError(op, key, layer, err)
}

// IsCacheMiss returns true if the error is a cache miss.
func IsCacheMiss(err error) bool {
	return types.IsCacheMiss(err)
}

// IsBackendUnavailable returns true if the error indicates the shared backend is unreachable.
func IsBackendUnavailable(err error) bool {
	return types.IsBackendUnavailable(err)
}

// IsLockNotAcquired returns true if the error indicates fill lock contention.
func IsLockNotAcquired(err error) bool {
	return types.IsLockNotAcquired(err)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}
