// Package config loads broker configuration from the environment, with an
// optional TOML file layered underneath for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all broker configuration.
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Protocol  ProtocolConfig
	Arbiter   ArbiterConfig
	Feed      FeedConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" toml:"host"`
}

// CacheConfig holds permission cache configuration.
type CacheConfig struct {
	MaxEntries    int           `envconfig:"CACHE_MAX_ENTRIES" default:"500" toml:"max_entries"`
	SessionTTL    time.Duration `envconfig:"CACHE_SESSION_TTL" default:"24h" toml:"session_ttl"`
	PersistentTTL time.Duration `envconfig:"CACHE_PERSISTENT_TTL" default:"720h" toml:"persistent_ttl"`
	FlushDebounce time.Duration `envconfig:"CACHE_FLUSH_DEBOUNCE" default:"2s" toml:"flush_debounce"`
	PurgeInterval time.Duration `envconfig:"CACHE_PURGE_INTERVAL" default:"5m" toml:"purge_interval"`
	StorePath     string        `envconfig:"CACHE_STORE_PATH" default:"/var/lib/navguard" toml:"store_path"`
}

// ProtocolConfig holds cross-context protocol configuration.
type ProtocolConfig struct {
	RoundTripTimeout   time.Duration `envconfig:"PROTOCOL_TIMEOUT" default:"30s" toml:"round_trip_timeout"`
	PlaceholderTimeout time.Duration `envconfig:"PLACEHOLDER_TIMEOUT" default:"30s" toml:"placeholder_timeout"`
	FallbackRingSize   int           `envconfig:"FALLBACK_RING_SIZE" default:"10" toml:"fallback_ring_size"`
}

// ArbiterConfig holds arbitration service configuration.
type ArbiterConfig struct {
	MaxPending  int    `envconfig:"ARBITER_MAX_PENDING" default:"50" toml:"max_pending"`
	ConfirmURL  string `envconfig:"ARBITER_CONFIRM_URL" default:"" toml:"confirm_url"`
	PolicyPath  string `envconfig:"ARBITER_POLICY_PATH" default:"" toml:"policy_path"`
	Whitelist   string `envconfig:"ARBITER_WHITELIST" default:"" toml:"whitelist"`
	AutoConfirm bool   `envconfig:"ARBITER_AUTO_CONFIRM" default:"true" toml:"auto_confirm"`
}

// FeedConfig holds signature feed updater configuration.
type FeedConfig struct {
	URL      string        `envconfig:"FEED_URL" default:"" toml:"url"`
	Interval time.Duration `envconfig:"FEED_INTERVAL" default:"6h" toml:"interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds per-connection CHECK rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("NAVGUARD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from a TOML file, then applies environment
// overrides on top. Environment always wins.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := envconfig.Process("NAVGUARD", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8400",
			Host: "0.0.0.0",
		},
		Cache: CacheConfig{
			MaxEntries:    500,
			SessionTTL:    24 * time.Hour,
			PersistentTTL: 720 * time.Hour,
			FlushDebounce: 2 * time.Second,
			PurgeInterval: 5 * time.Minute,
			StorePath:     "/var/lib/navguard",
		},
		Protocol: ProtocolConfig{
			RoundTripTimeout:   30 * time.Second,
			PlaceholderTimeout: 30 * time.Second,
			FallbackRingSize:   10,
		},
		Arbiter: ArbiterConfig{
			MaxPending:  50,
			AutoConfirm: true,
		},
		Feed: FeedConfig{
			Interval: 6 * time.Hour,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}
