package config

import "time"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Local: LocalConfig{
			Enabled: true,
			Partitions: []PartitionConfig{
				{Name: "simple", MaxEntries: 10000, DefaultTTL: 30 * time.Minute},
				{Name: "complex", MaxEntries: 2000, DefaultTTL: 10 * time.Minute},
				{Name: "scoped", MaxEntries: 5000, DefaultTTL: 15 * time.Minute},
			},
			DefaultPartition: "simple",
			CleanupInterval:  30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:             false,
			Address:             "localhost:6379",
			Password:            SecretString{},
			DB:                  0,
			KeyPrefix:           "permcache:",
			DefaultTTL:          30 * time.Minute,
			PoolSize:            100,
			MinIdleConns:        10,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			PoolTimeout:         4 * time.Second,
			MaxPendingWrites:    500,
			EnableTLS:           false,
			TLSSkipVerify:       false,
			HealthCheckInterval: 5 * time.Second,
		},
		Lock: LockConfig{
			Lease:         3 * time.Second,
			RetryInterval: 50 * time.Millisecond,
			MaxRetries:    10,
			KeyPrefix:     "fill:",
		},
		Queue: QueueConfig{
			Key:                "permcache:invalidation:pending",
			ProcessedKey:       "permcache:invalidation:processed",
			MaxDepth:           10000,
			SweepThreshold:     10,
			ProcessedRetention: 1000,
		},
		Defaults: DefaultsConfig{
			Partition:         "simple",
			AsyncRemoteWrites: true,
		},
		Advisor: AdvisorConfig{
			Enabled:     true,
			SampleLimit: 120,
			AlertLimit:  100,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PublishInterval: 10 * time.Second,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "127.0.0.1",
				Port:      8125,
				Prefix:    "permcache",
				Tags:      []string{},
			},
		},
	}
}

// ForTesting returns a minimal configuration suitable for unit tests.
func ForTesting() *Config {
	return &Config{
		Local: LocalConfig{
			Enabled: true,
			Partitions: []PartitionConfig{
				{Name: "simple", MaxEntries: 128, DefaultTTL: time.Minute},
				{Name: "complex", MaxEntries: 32, DefaultTTL: time.Minute},
				{Name: "scoped", MaxEntries: 64, DefaultTTL: time.Minute},
			},
			DefaultPartition: "simple",
			CleanupInterval:  0, // lazy expiry only
		},
		Redis: RedisConfig{
			Enabled:             false, // disabled for unit tests
			Address:             "localhost:6379",
			KeyPrefix:           "test:",
			DefaultTTL:          time.Minute,
			PoolSize:            10,
			MinIdleConns:        1,
			DialTimeout:         time.Second,
			ReadTimeout:         time.Second,
			WriteTimeout:        time.Second,
			PoolTimeout:         time.Second,
			MaxPendingWrites:    50,
			HealthCheckInterval: 0,
		},
		Lock: LockConfig{
			Lease:         500 * time.Millisecond,
			RetryInterval: 10 * time.Millisecond,
			MaxRetries:    5,
			KeyPrefix:     "fill:",
		},
		Queue: QueueConfig{
			Key:                "test:invalidation:pending",
			ProcessedKey:       "test:invalidation:processed",
			MaxDepth:           500,
			SweepThreshold:     5,
			ProcessedRetention: 100,
		},
		Defaults: DefaultsConfig{
			Partition:         "simple",
			AsyncRemoteWrites: false, // deterministic writes in tests
		},
		Advisor: AdvisorConfig{
			Enabled:     true,
			SampleLimit: 16,
			AlertLimit:  16,
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			PublishInterval: time.Second,
		},
	}
}

// ForTestingWithRedis returns a test config with the shared backend enabled.
func ForTestingWithRedis(addr string) *Config {
	cfg := ForTesting()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = addr
	return cfg
}
