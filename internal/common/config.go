// Package common provides shared utilities for Folio
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Folio
type Config struct {
	Environment string          `toml:"environment"`
	Storage     StorageConfig   `toml:"storage"`
	Clients     ClientsConfig   `toml:"clients"`
	PriceCache  PriceConfig     `toml:"price_cache"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Jobs        JobsConfig      `toml:"jobs"`
	Logging     LoggingConfig   `toml:"logging"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver    string `toml:"driver"` // "memory", "surrealdb", "postgres"
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DSN       string `toml:"dsn"` // postgres connection string
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Finnhub FinnhubConfig `toml:"finnhub"`
}

// FinnhubConfig holds Finnhub API configuration
type FinnhubConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *FinnhubConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// PriceConfig holds price cache freshness configuration.
type PriceConfig struct {
	TTL      string `toml:"ttl"`      // staleness threshold while the market is open
	Timezone string `toml:"timezone"` // exchange timezone, default America/New_York
}

// GetTTL parses and returns the open-market staleness threshold.
func (c *PriceConfig) GetTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return time.Minute
	}
	return d
}

// SchedulerConfig holds background task intervals.
type SchedulerConfig struct {
	SnapshotInterval    string `toml:"snapshot_interval"`     // daily snapshot sweep
	FillMissingInterval string `toml:"fill_missing_interval"` // gap discovery sweep
	RefreshInterval     string `toml:"refresh_interval"`      // price refresh tick
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetSnapshotInterval parses the snapshot sweep interval.
func (c *SchedulerConfig) GetSnapshotInterval() time.Duration {
	return parseDurationOr(c.SnapshotInterval, time.Hour)
}

// GetFillMissingInterval parses the gap sweep interval.
func (c *SchedulerConfig) GetFillMissingInterval() time.Duration {
	return parseDurationOr(c.FillMissingInterval, 6*time.Hour)
}

// GetRefreshInterval parses the price refresh interval.
func (c *SchedulerConfig) GetRefreshInterval() time.Duration {
	return parseDurationOr(c.RefreshInterval, 5*time.Minute)
}

// JobsConfig holds job manager configuration.
type JobsConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
	MaxRetries    int `toml:"max_retries"`
}

// GetMaxConcurrent returns the processor pool size.
func (c *JobsConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 2
	}
	return c.MaxConcurrent
}

// GetMaxRetries returns the per-job attempt limit.
func (c *JobsConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Driver:    "memory",
			Address:   "ws://localhost:8000",
			Namespace: "folio",
			Database:  "folio",
		},
		Clients: ClientsConfig{
			Finnhub: FinnhubConfig{
				BaseURL:   "https://finnhub.io/api/v1",
				RateLimit: 10,
				Timeout:   "30s",
			},
		},
		PriceCache: PriceConfig{
			TTL:      "1m",
			Timezone: "America/New_York",
		},
		Scheduler: SchedulerConfig{
			SnapshotInterval:    "1h",
			FillMissingInterval: "6h",
			RefreshInterval:     "5m",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			MaxRetries:    3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FOLIO_ENV"); env != "" {
		config.Environment = env
	}

	if driver := os.Getenv("FOLIO_STORAGE_DRIVER"); driver != "" {
		config.Storage.Driver = driver
	}
	if addr := os.Getenv("FOLIO_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if dsn := os.Getenv("FOLIO_STORAGE_DSN"); dsn != "" {
		config.Storage.DSN = dsn
	}

	if key := os.Getenv("FINNHUB_API_KEY"); key != "" {
		config.Clients.Finnhub.APIKey = key
	}
	if rl := os.Getenv("FOLIO_FINNHUB_RATE_LIMIT"); rl != "" {
		if n, err := strconv.Atoi(rl); err == nil {
			config.Clients.Finnhub.RateLimit = n
		}
	}

	if ttl := os.Getenv("FOLIO_PRICE_TTL"); ttl != "" {
		config.PriceCache.TTL = ttl
	}

	if level := os.Getenv("FOLIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
