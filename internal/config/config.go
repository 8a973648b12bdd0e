// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Retention RetentionConfig `mapstructure:"retention"`
	Render    RenderConfig    `mapstructure:"render"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	RequestTimeoutSeconds  int      `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	Path                   string `mapstructure:"path"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ScraperConfig tunes the storefront clients.
type ScraperConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	UserAgent          string  `mapstructure:"user_agent"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxCount           int     `mapstructure:"max_count"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitialMs   int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	BreakerFailures    uint32  `mapstructure:"breaker_failures"`
	BreakerOpenSeconds int     `mapstructure:"breaker_open_seconds"`
}

// NormalizeConfig selects the stopword list and stemmer.
type NormalizeConfig struct {
	// Language is a language code or "session" to follow each session.
	Language string `mapstructure:"language"`
}

// RetentionConfig controls the retention sweep.
type RetentionConfig struct {
	KeepDays        int `mapstructure:"keep_days"`
	KeepSessions    int `mapstructure:"keep_sessions"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// RenderConfig sizes rendered images.
type RenderConfig struct {
	Width    int   `mapstructure:"width"`
	Height   int   `mapstructure:"height"`
	MaxWords int   `mapstructure:"max_words"`
	Seed     int64 `mapstructure:"seed"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheLocal  = "local"
	CacheGCS    = "gcs"
	CacheNone   = "none"
)

// CacheConfig selects where rendered images are cached.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// RateLimitConfig throttles scrape submissions per client IP.
type RateLimitConfig struct {
	ScrapePerMinute int `mapstructure:"scrape_per_minute"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVIEWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "reviews.db")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("scraper.base_url", "https://play.google.com")
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; reviewd/0.1)")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.max_count", 5000)
	v.SetDefault("scraper.requests_per_second", 2.0)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.backoff_initial_ms", 250)
	v.SetDefault("scraper.backoff_max_ms", 5000)
	v.SetDefault("scraper.breaker_failures", 5)
	v.SetDefault("scraper.breaker_open_seconds", 30)
	v.SetDefault("normalize.language", "id")
	v.SetDefault("retention.keep_days", 3)
	v.SetDefault("retention.keep_sessions", 5)
	v.SetDefault("retention.interval_minutes", 0)
	v.SetDefault("render.width", 800)
	v.SetDefault("render.height", 400)
	v.SetDefault("render.max_words", 100)
	v.SetDefault("render.seed", 42)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.prefix", "render")
	v.SetDefault("rate_limit.scrape_per_minute", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.MaxCount <= 0 {
		return fmt.Errorf("scraper.max_count must be > 0")
	}
	if c.Retention.KeepDays < 0 || c.Retention.KeepSessions < 0 {
		return fmt.Errorf("retention.keep_days and retention.keep_sessions must be >= 0")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 || c.Render.MaxWords <= 0 {
		return fmt.Errorf("render.width, render.height and render.max_words must be > 0")
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheLocal:
		if c.Cache.BaseDir == "" {
			return fmt.Errorf("cache.base_dir is required for the local cache")
		}
	case CacheGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket is required for the gcs cache")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	return nil
}

// RequestTimeout returns the per-request handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ScraperTimeout returns the per-request storefront timeout.
func (c Config) ScraperTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// RetentionInterval returns the janitor period; zero disables it.
func (c Config) RetentionInterval() time.Duration {
	return time.Duration(c.Retention.IntervalMinutes) * time.Minute
}
