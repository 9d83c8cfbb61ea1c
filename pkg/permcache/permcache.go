package permcache

import (
	"github.com/permcache/permcache/internal/config"
)

// New creates a new permission cache service with default configuration.
func New(opts ...ServiceOption) (PermissionCache, error) {
	cfg := config.DefaultConfig()
	return NewFromConfig(cfg, opts...)
}

// NewFromConfig creates a new permission cache service from configuration.
func NewFromConfig(cfg *config.Config, opts ...ServiceOption) (PermissionCache, error) {
	serviceOpts := &ServiceOptions{}
	for _, opt := range opts {
		opt(serviceOpts)
	}
	return newService(cfg, serviceOpts)
}

// NewFromFile creates a new permission cache service from a JSON config file.
func NewFromFile(path string, opts ...ServiceOption) (PermissionCache, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewLocalOnly creates a service using only the in-process cache.
func NewLocalOnly(opts ...ServiceOption) (PermissionCache, error) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false
	return NewFromConfig(cfg, opts...)
}

// Config returns a default configuration that can be modified before creating a service.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a configuration suitable for unit tests.
func TestConfig() *config.Config {
	return config.ForTesting()
}
