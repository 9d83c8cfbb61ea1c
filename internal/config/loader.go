package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Load loads configuration from a JSON file.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocyclo // Environment variable parsing requires many conditional checks
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PERMCACHE_LOCAL_ENABLED"); v != "" {
		cfg.Local.Enabled = parseBool(v)
	}
	if v := os.Getenv("PERMCACHE_LOCAL_CLEANUP_INTERVAL"); v != "" {
		cfg.Local.CleanupInterval = parseDuration(v, cfg.Local.CleanupInterval)
	}

	if v := os.Getenv("PERMCACHE_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("PERMCACHE_REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("PERMCACHE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = NewSecretString(v)
	}
	if v := os.Getenv("PERMCACHE_REDIS_DB"); v != "" {
		cfg.Redis.DB = parseInt(v, cfg.Redis.DB)
	}
	if v := os.Getenv("PERMCACHE_REDIS_KEY_PREFIX"); v != "" {
		cfg.Redis.KeyPrefix = v
	}
	if v := os.Getenv("PERMCACHE_REDIS_DEFAULT_TTL"); v != "" {
		cfg.Redis.DefaultTTL = parseDuration(v, cfg.Redis.DefaultTTL)
	}
	if v := os.Getenv("PERMCACHE_REDIS_POOL_SIZE"); v != "" {
		cfg.Redis.PoolSize = parseInt(v, cfg.Redis.PoolSize)
	}
	if v := os.Getenv("PERMCACHE_REDIS_ENABLE_TLS"); v != "" {
		cfg.Redis.EnableTLS = parseBool(v)
	}
	if v := os.Getenv("PERMCACHE_REDIS_TLS_SKIP_VERIFY"); v != "" {
		cfg.Redis.TLSSkipVerify = parseBool(v)
	}

	if v := os.Getenv("PERMCACHE_LOCK_LEASE"); v != "" {
		cfg.Lock.Lease = parseDuration(v, cfg.Lock.Lease)
	}
	if v := os.Getenv("PERMCACHE_LOCK_RETRY_INTERVAL"); v != "" {
		cfg.Lock.RetryInterval = parseDuration(v, cfg.Lock.RetryInterval)
	}
	if v := os.Getenv("PERMCACHE_LOCK_MAX_RETRIES"); v != "" {
		cfg.Lock.MaxRetries = parseInt(v, cfg.Lock.MaxRetries)
	}

	if v := os.Getenv("PERMCACHE_QUEUE_MAX_DEPTH"); v != "" {
		cfg.Queue.MaxDepth = int64(parseInt(v, int(cfg.Queue.MaxDepth)))
	}
	if v := os.Getenv("PERMCACHE_QUEUE_SWEEP_THRESHOLD"); v != "" {
		cfg.Queue.SweepThreshold = parseInt(v, cfg.Queue.SweepThreshold)
	}

	if v := os.Getenv("PERMCACHE_DEFAULTS_PARTITION"); v != "" {
		cfg.Defaults.Partition = v
	}
	if v := os.Getenv("PERMCACHE_DEFAULTS_ASYNC_REMOTE_WRITES"); v != "" {
		cfg.Defaults.AsyncRemoteWrites = parseBool(v)
	}

	if v := os.Getenv("PERMCACHE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
		cfg.Metrics.DataDog.Enabled = true
	}
	if v := os.Getenv("DD_DOGSTATSD_PORT"); v != "" {
		cfg.Metrics.DataDog.Port = parseInt(v, cfg.Metrics.DataDog.Port)
	}
	if v := os.Getenv("DD_SERVICE"); v != "" {
		cfg.Metrics.DataDog.Prefix = v
	}
	if v := os.Getenv("DD_ENV"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "env:"+v)
	}
	if v := os.Getenv("DD_VERSION"); v != "" {
		cfg.Metrics.DataDog.Tags = append(cfg.Metrics.DataDog.Tags, "version:"+v)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Local.Enabled {
		if len(c.Local.Partitions) == 0 {
			return fmt.Errorf("local.partitions must not be empty when local cache is enabled")
		}
		seen := make(map[string]bool, len(c.Local.Partitions))
		for _, p := range c.Local.Partitions {
			if p.Name == "" {
				return fmt.Errorf("local.partitions: partition name must not be empty")
			}
			if seen[p.Name] {
				return fmt.Errorf("local.partitions: duplicate partition %q", p.Name)
			}
			seen[p.Name] = true
			if p.MaxEntries <= 0 {
				return fmt.Errorf("local.partitions[%s].maxEntries must be positive", p.Name)
			}
		}
		if c.Local.DefaultPartition != "" && !seen[c.Local.DefaultPartition] {
			return fmt.Errorf("local.defaultPartition %q is not a configured partition", c.Local.DefaultPartition)
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required when redis is enabled")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.poolSize must be positive")
		}
	}

	if c.Lock.Lease <= 0 {
		return fmt.Errorf("lock.lease must be positive")
	}
	if c.Lock.RetryInterval <= 0 {
		return fmt.Errorf("lock.retryInterval must be positive")
	}
	if c.Lock.MaxRetries < 0 {
		return fmt.Errorf("lock.maxRetries must not be negative")
	}

	if c.Queue.Key == "" {
		return fmt.Errorf("queue.key is required")
	}
	if c.Queue.MaxDepth <= 0 {
		return fmt.Errorf("queue.maxDepth must be positive")
	}
	if c.Queue.SweepThreshold <= 1 {
		return fmt.Errorf("queue.sweepThreshold must be greater than 1")
	}

	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultVal
	}
	return v
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}
