// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/places-scraper/internal/extract"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Bulk       BulkConfig       `mapstructure:"bulk"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig sizes the browser pool and configures Chrome.
type BrowserConfig struct {
	MaxBrowsers   int     `mapstructure:"max_browsers"`
	Headless      bool    `mapstructure:"headless"`
	UserAgent     string  `mapstructure:"user_agent"`
	ExecPath      string  `mapstructure:"exec_path"`
	AcquirePollMs int     `mapstructure:"acquire_poll_ms"`
	NavQPS        float64 `mapstructure:"nav_qps"`
	Lang          string  `mapstructure:"lang"`
}

// DiscoveryConfig controls the search feed scroll loop.
type DiscoveryConfig struct {
	SearchURLTemplate  string   `mapstructure:"search_url_template"`
	SettleMs           int      `mapstructure:"settle_ms"`
	InitialWaitSeconds int      `mapstructure:"initial_wait_seconds"`
	IdleTimeoutMs      int      `mapstructure:"idle_timeout_ms"`
	StableThreshold    int      `mapstructure:"stable_threshold"`
	ConsentPauseMs     int      `mapstructure:"consent_pause_ms"`
	MaxScrolls         int      `mapstructure:"max_scrolls"`
	FeedSelector       string   `mapstructure:"feed_selector"`
	ItemSelector       string   `mapstructure:"item_selector"`
	ConsentSelectors   []string `mapstructure:"consent_selectors"`
}

// ExtractionConfig governs the per-item workers and client limits.
type ExtractionConfig struct {
	ItemTimeoutSeconds int               `mapstructure:"item_timeout_seconds"`
	DefaultWorkers     int               `mapstructure:"default_workers"`
	MaxWorkers         int               `mapstructure:"max_workers"`
	OvershootFactor    int               `mapstructure:"overshoot_factor"`
	DefaultMaxResults  int               `mapstructure:"default_max_results"`
	MaxResultsLimit    int               `mapstructure:"max_results_limit"`
	Selectors          extract.Selectors `mapstructure:"selectors"`
}

// AdmissionConfig bounds concurrent orchestrations.
type AdmissionConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// BulkConfig shapes bulk requests.
type BulkConfig struct {
	BatchSize  int `mapstructure:"batch_size"`
	MaxQueries int `mapstructure:"max_queries"`
}

// CacheConfig enables the Redis result cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	Prefix        string `mapstructure:"prefix"`
}

// DatabaseConfig enables the Postgres record sink when DSN is set.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLACESCRAPER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.max_browsers", 2)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.acquire_poll_ms", 500)
	v.SetDefault("browser.nav_qps", 2.0)
	v.SetDefault("browser.lang", "en-US")
	v.SetDefault("discovery.search_url_template", "https://www.google.com/maps/search/%s")
	v.SetDefault("discovery.settle_ms", 3000)
	v.SetDefault("discovery.initial_wait_seconds", 15)
	v.SetDefault("discovery.idle_timeout_ms", 2000)
	v.SetDefault("discovery.stable_threshold", 3)
	v.SetDefault("discovery.consent_pause_ms", 1000)
	v.SetDefault("discovery.max_scrolls", 0)
	v.SetDefault("extraction.item_timeout_seconds", 20)
	v.SetDefault("extraction.default_workers", 3)
	v.SetDefault("extraction.max_workers", 10)
	v.SetDefault("extraction.overshoot_factor", 2)
	v.SetDefault("extraction.default_max_results", 20)
	v.SetDefault("extraction.max_results_limit", 200)
	v.SetDefault("admission.max_concurrency", 2)
	v.SetDefault("bulk.batch_size", 2)
	v.SetDefault("bulk.max_queries", 20)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.prefix", "placescraper")
	v.SetDefault("database.table", "places")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Browser.MaxBrowsers <= 0 {
		return fmt.Errorf("browser.max_browsers must be > 0")
	}
	if c.Browser.NavQPS < 0 {
		return fmt.Errorf("browser.nav_qps must be >= 0")
	}
	if c.Discovery.SearchURLTemplate != "" && !strings.Contains(c.Discovery.SearchURLTemplate, "%s") {
		return fmt.Errorf("discovery.search_url_template must contain %%s")
	}
	if c.Extraction.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("extraction.item_timeout_seconds must be > 0")
	}
	if c.Extraction.OvershootFactor <= 0 {
		return fmt.Errorf("extraction.overshoot_factor must be > 0")
	}
	if c.Extraction.MaxWorkers <= 0 || c.Extraction.DefaultWorkers > c.Extraction.MaxWorkers {
		return fmt.Errorf("extraction.default_workers must not exceed extraction.max_workers")
	}
	if c.Extraction.MaxResultsLimit <= 0 || c.Extraction.DefaultMaxResults > c.Extraction.MaxResultsLimit {
		return fmt.Errorf("extraction.default_max_results must not exceed extraction.max_results_limit")
	}
	if c.Admission.MaxConcurrency <= 0 {
		return fmt.Errorf("admission.max_concurrency must be > 0")
	}
	if c.Bulk.BatchSize <= 0 {
		return fmt.Errorf("bulk.batch_size must be > 0")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0 when the cache is enabled")
	}
	return nil
}

// RequestTimeout converts the server timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ItemTimeout bounds the extraction of a single place.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Extraction.ItemTimeoutSeconds) * time.Second
}

// CacheTTL is the lifetime of cached sync results.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// AcquirePoll bounds how long a pool waiter sleeps between idle checks.
func (c Config) AcquirePoll() time.Duration {
	return time.Duration(c.Browser.AcquirePollMs) * time.Millisecond
}

// Millis converts a millisecond knob into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
