// Package config loads and validates the cache system configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Backend type selectors
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Config represents the complete cache system configuration
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Store        StoreConfig        `yaml:"store"`
	Cache        CacheConfig        `yaml:"cache"`
	Backend      BackendConfig      `yaml:"backend"`
	Invalidation InvalidationConfig `yaml:"invalidation"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Warming      WarmingConfig      `yaml:"warming"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	Name  string `yaml:"name"`
}

// StoreConfig represents the in-memory layer settings
type StoreConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// CacheConfig represents multi-layer coordination settings
type CacheConfig struct {
	// DefaultTTL applies when callers pass no TTL of their own
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// PromoteTTL applies when a backend hit is written through into memory
	PromoteTTL time.Duration `yaml:"promote_ttl"`
}

// BackendConfig selects and configures the persistent layer
type BackendConfig struct {
	Type    string        `yaml:"type"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// RedisConfig represents redis backend settings
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3Config represents S3 backend settings
type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	KeyPrefix      string `yaml:"key_prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
}

// BreakerConfig represents the backend circuit breaker settings
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// InvalidationConfig represents invalidation engine settings
type InvalidationConfig struct {
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// MonitoringConfig represents monitor and exporter settings
type MonitoringConfig struct {
	Interval           time.Duration  `yaml:"interval"`
	AutoCleanup        bool           `yaml:"auto_cleanup"`
	JoinTimeout        time.Duration  `yaml:"join_timeout"`
	MetricsCapacity    int            `yaml:"metrics_capacity"`
	LowHitRate         float64        `yaml:"low_hit_rate"`
	HighUtilization    float64        `yaml:"high_utilization"`
	CleanupUtilization float64        `yaml:"cleanup_utilization"`
	DegradationPercent float64        `yaml:"degradation_percent"`
	DegradationWindow  time.Duration  `yaml:"degradation_window"`
	Exporter           ExporterConfig `yaml:"exporter"`
}

// ExporterConfig represents prometheus exporter settings
type ExporterConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// WarmingConfig represents warming engine settings
type WarmingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	PriorityFloor    int           `yaml:"priority_floor"`
	UserCooldown     time.Duration `yaml:"user_cooldown"`
	UserPreloadLimit int           `yaml:"user_preload_limit"`
	HotKeyLimit      int           `yaml:"hot_key_limit"`
	JoinTimeout      time.Duration `yaml:"join_timeout"`
	HistoryCapacity  int           `yaml:"history_capacity"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
			Name:  "stratacache",
		},
		Store: StoreConfig{
			MaxEntries: 10000,
		},
		Cache: CacheConfig{
			DefaultTTL: 10 * time.Minute,
			PromoteTTL: 5 * time.Minute,
		},
		Backend: BackendConfig{
			Type: BackendNone,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "stratacache:",
			},
			S3: S3Config{
				Region:    "us-east-1",
				KeyPrefix: "stratacache/",
			},
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     30 * time.Second,
			},
		},
		Invalidation: InvalidationConfig{
			DebounceDelay: 100 * time.Millisecond,
		},
		Monitoring: MonitoringConfig{
			Interval:           30 * time.Second,
			AutoCleanup:        true,
			JoinTimeout:        5 * time.Second,
			MetricsCapacity:    10000,
			LowHitRate:         0.5,
			HighUtilization:    0.9,
			CleanupUtilization: 0.95,
			DegradationPercent: 20,
			DegradationWindow:  15 * time.Minute,
			Exporter: ExporterConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "stratacache",
			},
		},
		Warming: WarmingConfig{
			Enabled:          true,
			CycleInterval:    time.Minute,
			PriorityFloor:    80,
			UserCooldown:     5 * time.Minute,
			UserPreloadLimit: 10,
			HotKeyLimit:      20,
			JoinTimeout:      5 * time.Second,
			HistoryCapacity:  10000,
		},
	}
}

// LoadFromFile loads configuration from a YAML file layered over the
// defaults, then applies environment overrides and validates
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides maps deployment-specific settings from the
// environment over the file values
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STRATACACHE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STRATACACHE_BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("STRATACACHE_REDIS_ADDR"); v != "" {
		c.Backend.Redis.Addr = v
	}
	if v := os.Getenv("STRATACACHE_REDIS_PASSWORD"); v != "" {
		c.Backend.Redis.Password = v
	}
	if v := os.Getenv("STRATACACHE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Backend.Redis.DB = db
		}
	}
	if v := os.Getenv("STRATACACHE_S3_BUCKET"); v != "" {
		c.Backend.S3.Bucket = v
	}
	if v := os.Getenv("STRATACACHE_S3_REGION"); v != "" {
		c.Backend.S3.Region = v
	}
	if v := os.Getenv("STRATACACHE_S3_ENDPOINT"); v != "" {
		c.Backend.S3.Endpoint = v
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendNone, BackendMemory, BackendRedis, BackendS3:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}

	if c.Store.MaxEntries <= 0 {
		return fmt.Errorf("store max_entries must be positive, got %d", c.Store.MaxEntries)
	}
	if c.Backend.Type == BackendRedis && c.Backend.Redis.Addr == "" {
		return fmt.Errorf("redis backend requires an address")
	}
	if c.Backend.Type == BackendS3 && c.Backend.S3.Bucket == "" {
		return fmt.Errorf("s3 backend requires a bucket")
	}
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring interval must be positive")
	}
	if c.Monitoring.LowHitRate < 0 || c.Monitoring.LowHitRate > 1 {
		return fmt.Errorf("low_hit_rate must be within [0,1], got %g", c.Monitoring.LowHitRate)
	}
	if c.Monitoring.HighUtilization <= 0 || c.Monitoring.HighUtilization > 1 {
		return fmt.Errorf("high_utilization must be within (0,1], got %g", c.Monitoring.HighUtilization)
	}
	if c.Warming.Enabled && c.Warming.CycleInterval < time.Second {
		return fmt.Errorf("warming cycle_interval must be at least 1s, got %v", c.Warming.CycleInterval)
	}
	return nil
}
