package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Cache     CacheConfig     `koanf:"cache"`
	Gate      GateConfig      `koanf:"gate"`
	Partition PartitionConfig `koanf:"partition"`
	Summary   SummaryConfig   `koanf:"summary"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type CacheConfig struct {
	Capacity int    `koanf:"capacity"`
	TTL      string `koanf:"ttl"`
}

type GateConfig struct {
	LockTTL       string `koanf:"lock_ttl"`
	OrderingTTL   string `koanf:"ordering_ttl"`
	MaxRetries    int    `koanf:"max_retries"`
	RetryDelay    string `koanf:"retry_delay"`
	SlowThreshold string `koanf:"slow_threshold"`
}

type PartitionConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Granularity string `koanf:"granularity"`
	Ahead       int    `koanf:"ahead"`
}

type SummaryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	WorkerCount int    `koanf:"worker_count"`
	GraceDelay  string `koanf:"grace_delay"`
	Timezone    string `koanf:"timezone"`
}

type BroadcastConfig struct {
	Enabled     bool   `koanf:"enabled"`
	MinInterval string `koanf:"min_interval"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}

	for name, value := range map[string]string{
		"cache.ttl":              c.Cache.TTL,
		"gate.lock_ttl":          c.Gate.LockTTL,
		"gate.ordering_ttl":      c.Gate.OrderingTTL,
		"gate.retry_delay":       c.Gate.RetryDelay,
		"gate.slow_threshold":    c.Gate.SlowThreshold,
		"partition.granularity":  c.Partition.Granularity,
		"summary.grace_delay":    c.Summary.GraceDelay,
		"broadcast.min_interval": c.Broadcast.MinInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	if c.Gate.MaxRetries <= 0 {
		return fmt.Errorf("gate.max_retries must be > 0")
	}
	if c.Partition.Ahead <= 0 {
		return fmt.Errorf("partition.ahead must be > 0")
	}
	if c.Summary.WorkerCount <= 0 {
		return fmt.Errorf("summary.worker_count must be > 0")
	}
	if _, err := time.LoadLocation(c.Summary.Timezone); err != nil {
		return fmt.Errorf("invalid summary.timezone %q: %w", c.Summary.Timezone, err)
	}

	return nil
}

// Duration returns a validated duration field. Call only after Validate
// has passed; parse failures at this point are programming errors.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q: %v", value, err))
	}
	return d
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.type":           "postgres",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"redis.addr":              "localhost:6379",
		"redis.password":          "",
		"redis.db":                0,
		"redis.key_prefix":        "tilemetry:",
		"cache.capacity":          1000,
		"cache.ttl":               "1h",
		"gate.lock_ttl":           "10s",
		"gate.ordering_ttl":       "1h",
		"gate.max_retries":        3,
		"gate.retry_delay":        "10ms",
		"gate.slow_threshold":     "1s",
		"partition.enabled":       true,
		"partition.granularity":   "1h",
		"partition.ahead":         3,
		"summary.enabled":         true,
		"summary.worker_count":    10,
		"summary.grace_delay":     "1m",
		"summary.timezone":        "UTC",
		"broadcast.enabled":       true,
		"broadcast.min_interval":  "500ms",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TILEMETRY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TILEMETRY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
