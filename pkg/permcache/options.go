package permcache

import (
	"github.com/permcache/permcache/internal/types"
)

// ServiceOptions collects construction-time overrides.
type ServiceOptions struct {
	Logger     Logger
	Metrics    MetricsRecorder
	Serializer Serializer
	Resolver   Resolver

	RedisAddress  string
	RedisPassword types.SecretString
	RedisDB       int
	DisableRedis  bool
}

// ServiceOption customizes service construction.
type ServiceOption func(*ServiceOptions)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *ServiceOptions) {
		o.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) ServiceOption {
	return func(o *ServiceOptions) {
		o.Metrics = metrics
	}
}

// WithSerializer sets the decision serializer.
func WithSerializer(serializer Serializer) ServiceOption {
	return func(o *ServiceOptions) {
		o.Serializer = serializer
	}
}

// WithResolver sets the authority source consulted on cache misses.
func WithResolver(resolver Resolver) ServiceOption {
	return func(o *ServiceOptions) {
		o.Resolver = resolver
	}
}

// WithRedisAddress overrides the Redis address from config.
func WithRedisAddress(addr string) ServiceOption {
	return func(o *ServiceOptions) {
		o.RedisAddress = addr
	}
}

// WithRedisPassword overrides the Redis password from config.
// Uses SecretString to prevent accidental logging of sensitive values.
func WithRedisPassword(password string) ServiceOption {
	return func(o *ServiceOptions) {
		o.RedisPassword = types.NewSecretString(password)
	}
}

// WithRedisDB overrides the Redis database number from config.
func WithRedisDB(db int) ServiceOption {
	return func(o *ServiceOptions) {
		o.RedisDB = db
	}
}

// WithoutRedis disables the shared cache layer regardless of config.
func WithoutRedis() ServiceOption {
	return func(o *ServiceOptions) {
		o.DisableRedis = true
	}
}
