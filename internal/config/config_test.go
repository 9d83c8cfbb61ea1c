package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
	if cfg.Redis.Enabled {
		t.Error("default config should not require a Redis server")
	}
}

func TestForTestingIsValid(t *testing.T) {
	if err := ForTesting().Validate(); err != nil {
		t.Errorf("ForTesting() is invalid: %v", err)
	}

	cfg := ForTestingWithRedis("localhost:6400")
	if err := cfg.Validate(); err != nil {
		t.Errorf("ForTestingWithRedis() is invalid: %v", err)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Address != "localhost:6400" {
		t.Error("ForTestingWithRedis() did not enable the backend")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no partitions", func(c *Config) { c.Local.Partitions = nil }, true},
		{"duplicate partition", func(c *Config) {
			c.Local.Partitions = append(c.Local.Partitions, c.Local.Partitions[0])
		}, true},
		{"empty partition name", func(c *Config) { c.Local.Partitions[0].Name = "" }, true},
		{"zero capacity partition", func(c *Config) { c.Local.Partitions[0].MaxEntries = 0 }, true},
		{"unknown default partition", func(c *Config) { c.Local.DefaultPartition = "nope" }, true},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}, true},
		{"redis disabled without address", func(c *Config) {
			c.Redis.Enabled = false
			c.Redis.Address = ""
		}, false},
		{"zero lock lease", func(c *Config) { c.Lock.Lease = 0 }, true},
		{"negative lock retries", func(c *Config) { c.Lock.MaxRetries = -1 }, true},
		{"empty queue key", func(c *Config) { c.Queue.Key = "" }, true},
		{"zero queue depth", func(c *Config) { c.Queue.MaxDepth = 0 }, true},
		{"sweep threshold of one", func(c *Config) { c.Queue.SweepThreshold = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPartitionLookup(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Local.Partition("scoped"); got.Name != "scoped" {
		t.Errorf("Partition(scoped).Name = %q", got.Name)
	}
	if got := cfg.Local.Partition("unknown"); got.Name != "simple" {
		t.Errorf("Partition(unknown).Name = %q, want default simple", got.Name)
	}
	if got := cfg.Local.Partition(""); got.Name != "simple" {
		t.Errorf("Partition(\"\").Name = %q, want default simple", got.Name)
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Defaults.Partition != "simple" {
			t.Errorf("Defaults.Partition = %q, want simple", cfg.Defaults.Partition)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		data := `{
			"redis": {"enabled": true, "address": "cache.internal:6379"},
			"queue": {"maxDepth": 2500},
			"tiers": [{"name": "billing.manage", "tier": "critical"}]
		}`
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Redis.Address != "cache.internal:6379" {
			t.Errorf("Redis.Address = %q", cfg.Redis.Address)
		}
		if cfg.Queue.MaxDepth != 2500 {
			t.Errorf("Queue.MaxDepth = %d, want 2500", cfg.Queue.MaxDepth)
		}
		if len(cfg.Tiers) != 1 || cfg.Tiers[0].Tier != "critical" {
			t.Errorf("Tiers = %+v", cfg.Tiers)
		}
		// Untouched sections keep their defaults.
		if cfg.Lock.Lease != 3*time.Second {
			t.Errorf("Lock.Lease = %v, want default 3s", cfg.Lock.Lease)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Load() of invalid JSON did not fail")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERMCACHE_REDIS_ENABLED", "true")
	t.Setenv("PERMCACHE_REDIS_ADDRESS", "env-redis:6379")
	t.Setenv("PERMCACHE_REDIS_PASSWORD", "sensitive")
	t.Setenv("PERMCACHE_LOCK_LEASE", "10s")
	t.Setenv("PERMCACHE_QUEUE_MAX_DEPTH", "42")

	cfg, err := LoadWithEnv("")
	if err != nil {
		t.Fatalf("LoadWithEnv() error = %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled not overridden")
	}
	if cfg.Redis.Address != "env-redis:6379" {
		t.Errorf("Redis.Address = %q", cfg.Redis.Address)
	}
	if cfg.Redis.Password.Value() != "sensitive" {
		t.Error("Redis.Password not overridden")
	}
	if cfg.Redis.Password.String() != "[REDACTED]" {
		t.Error("Redis.Password leaks through String()")
	}
	if cfg.Lock.Lease != 10*time.Second {
		t.Errorf("Lock.Lease = %v, want 10s", cfg.Lock.Lease)
	}
	if cfg.Queue.MaxDepth != 42 {
		t.Errorf("Queue.MaxDepth = %d, want 42", cfg.Queue.MaxDepth)
	}
}

func TestParseDuration(t *testing.T) {
	if got := parseDuration("90s", 0); got != 90*time.Second {
		t.Errorf("parseDuration(90s) = %v", got)
	}
	// Bare integers are treated as seconds.
	if got := parseDuration("15", 0); got != 15*time.Second {
		t.Errorf("parseDuration(15) = %v", got)
	}
	if got := parseDuration("garbage", time.Minute); got != time.Minute {
		t.Errorf("parseDuration(garbage) = %v, want fallback", got)
	}
}
