// Package config provides configuration management for permcache.
package config

import (
	"time"

	"github.com/permcache/permcache/internal/types"
)

// SecretString is a string type that redacts its value when marshaled to JSON.
type SecretString = types.SecretString

// NewSecretString creates a new SecretString with the provided value.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Config contains all configuration for a permcache service. It is
// built once at startup and passed by reference; tests construct
// fresh instances per case.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Local    LocalConfig    `json:"local"`
	Redis    RedisConfig    `json:"redis"`
	Lock     LockConfig     `json:"lock"`
	Queue    QueueConfig    `json:"queue"`
	Tiers    []TierConfig   `json:"tiers"`
	Defaults DefaultsConfig `json:"defaults"`
	Metrics  MetricsConfig  `json:"metrics"`
	Advisor  AdvisorConfig  `json:"advisor"`
}

// PartitionConfig defines one strategy partition of the local cache:
// an independent LRU space with its own capacity and TTL, so
// high-volume cheap lookups cannot evict low-volume expensive ones.
type PartitionConfig struct {
	Name       string        `json:"name"`
	MaxEntries int           `json:"maxEntries"`
	DefaultTTL time.Duration `json:"defaultTTL"`
}

// LocalConfig contains configuration for the local cache layer.
type LocalConfig struct {
	Enabled          bool              `json:"enabled"`
	Partitions       []PartitionConfig `json:"partitions"`
	DefaultPartition string            `json:"defaultPartition"`
	CleanupInterval  time.Duration     `json:"cleanupInterval"`
}

// RedisConfig contains configuration for the shared cache backend.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type RedisConfig struct {
	DefaultTTL          time.Duration `json:"defaultTTL"`
	DialTimeout         time.Duration `json:"dialTimeout"`
	ReadTimeout         time.Duration `json:"readTimeout"`
	WriteTimeout        time.Duration `json:"writeTimeout"`
	PoolTimeout         time.Duration `json:"poolTimeout"`
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`
	Password            SecretString  `json:"password"`
	Address             string        `json:"address"`
	KeyPrefix           string        `json:"keyPrefix"`
	DB                  int           `json:"db"`
	PoolSize            int           `json:"poolSize"`
	MinIdleConns        int           `json:"minIdleConns"`
	MaxPendingWrites    int           `json:"maxPendingWrites"`
	Enabled             bool          `json:"enabled"`
	EnableTLS           bool          `json:"enableTLS"`
	TLSSkipVerify       bool          `json:"tlsSkipVerify"`
}

// LockConfig contains configuration for the distributed lock.
type LockConfig struct {
	// Lease is how long a holder is presumed alive before the lock is
	// considered abandoned.
	Lease time.Duration `json:"lease"`
	// RetryInterval is the fixed delay between acquisition attempts.
	RetryInterval time.Duration `json:"retryInterval"`
	// MaxRetries bounds acquisition attempts after the first.
	MaxRetries int    `json:"maxRetries"`
	KeyPrefix  string `json:"keyPrefix"`
}

// QueueConfig contains configuration for the delayed invalidation queue.
type QueueConfig struct {
	Key string `json:"key"`
	// ProcessedKey holds recently executed tasks for observability.
	ProcessedKey string `json:"processedKey"`
	// MaxDepth is the soft capacity: above it, new invalidations are
	// applied immediately instead of enqueued, and an alert is raised.
	// Tasks are never dropped.
	MaxDepth int64 `json:"maxDepth"`
	// SweepThreshold is the group size at which the analyzer
	// recommends one pattern sweep instead of targeted deletes.
	SweepThreshold int `json:"sweepThreshold"`
	// ProcessedRetention caps the processed-task list length.
	ProcessedRetention int64 `json:"processedRetention"`
}

// TierConfig registers one permission with its tier at startup.
type TierConfig struct {
	Name        string `json:"name"`
	Tier        string `json:"tier"`
	Description string `json:"description"`
}

// DefaultsConfig contains default values for cache operations.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DefaultsConfig struct {
	// Partition is the strategy partition used when a key does not
	// name one.
	Partition string `json:"partition"`
	// AsyncRemoteWrites queues shared-cache SET operations instead of
	// blocking on them. Losing a queued write only costs one extra
	// authority round trip later.
	AsyncRemoteWrites bool `json:"asyncRemoteWrites"`
}

// AdvisorConfig contains configuration for the statistics advisor.
type AdvisorConfig struct {
	Enabled bool `json:"enabled"`
	// SampleLimit bounds the retained observation window.
	SampleLimit int `json:"sampleLimit"`
	// AlertLimit bounds the retained alert list.
	AlertLimit int `json:"alertLimit"`
}

// MetricsConfig contains configuration for metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type MetricsConfig struct {
	PublishInterval time.Duration `json:"publishInterval"`
	DataDog         DataDogConfig `json:"datadog"`
	Enabled         bool          `json:"enabled"`
}

// DataDogConfig contains configuration for DataDog metrics publishing.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Tags      []string `json:"tags"`
	AgentHost string   `json:"agentHost"`
	Prefix    string   `json:"prefix"`
	Port      int      `json:"port"`
	Enabled   bool     `json:"enabled"`
}

// Partition returns the partition config with the given name, or the
// default partition when name is empty or unknown.
func (c *LocalConfig) Partition(name string) PartitionConfig {
	for _, p := range c.Partitions {
		if p.Name == name {
			return p
		}
	}
	for _, p := range c.Partitions {
		if p.Name == c.DefaultPartition {
			return p
		}
	}
	if len(c.Partitions) > 0 {
		return c.Partitions[0]
	}
	return PartitionConfig{Name: "default", MaxEntries: 1024, DefaultTTL: 5 * time.Minute}
}
