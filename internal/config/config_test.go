package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Extraction.OvershootFactor != 2 || cfg.Discovery.StableThreshold != 3 {
		t.Fatalf("expected overshoot 2 and stable threshold 3, got %+v %+v", cfg.Extraction, cfg.Discovery)
	}
	if cfg.Cache.RedisAddr != "" || cfg.Database.DSN != "" {
		t.Fatalf("expected optional backends disabled by default")
	}
	if got := cfg.ItemTimeout(); got != 20*time.Second {
		t.Fatalf("expected item timeout 20s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 45
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
browser:
  max_browsers: 4
  headless: false
  user_agent: real-agent
  acquire_poll_ms: 250
  nav_qps: 0.5
discovery:
  stable_threshold: 5
  consent_selectors: ["#a", "#b"]
extraction:
  item_timeout_seconds: 30
  overshoot_factor: 3
  default_workers: 2
  max_workers: 6
  selectors:
    name: "h1.title"
admission:
  max_concurrency: 5
bulk:
  batch_size: 4
  max_queries: 8
cache:
  redis_addr: localhost:6379
  ttl_seconds: 60
database:
  dsn: postgres://localhost/places
  table: scraped_places
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Browser.MaxBrowsers != 4 || cfg.Browser.Headless || cfg.Browser.NavQPS != 0.5 {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if cfg.Discovery.StableThreshold != 5 || len(cfg.Discovery.ConsentSelectors) != 2 {
		t.Fatalf("expected discovery overrides to apply: %+v", cfg.Discovery)
	}
	if cfg.Extraction.OvershootFactor != 3 || cfg.Extraction.Selectors.Name != "h1.title" {
		t.Fatalf("expected extraction overrides to apply: %+v", cfg.Extraction)
	}
	if cfg.Admission.MaxConcurrency != 5 || cfg.Bulk.BatchSize != 4 {
		t.Fatalf("expected admission and bulk overrides to apply")
	}
	if cfg.Database.Table != "scraped_places" || cfg.Database.MaxConns != 4 {
		t.Fatalf("expected database settings, got %+v", cfg.Database)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	if got := cfg.CacheTTL(); got != time.Minute {
		t.Fatalf("expected cache ttl 1m, got %v", got)
	}
	if got := cfg.AcquirePoll(); got != 250*time.Millisecond {
		t.Fatalf("expected acquire poll 250ms, got %v", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLACESCRAPER_ADMISSION_MAX_CONCURRENCY", "7")
	t.Setenv("PLACESCRAPER_BROWSER_MAX_BROWSERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Admission.MaxConcurrency != 7 || cfg.Browser.MaxBrowsers != 3 {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Admission, cfg.Browser)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func validBase() Config {
	return Config{
		Server:  ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Browser: BrowserConfig{MaxBrowsers: 1},
		Extraction: ExtractionConfig{
			ItemTimeoutSeconds: 10,
			OvershootFactor:    2,
			DefaultWorkers:     1,
			MaxWorkers:         2,
			DefaultMaxResults:  5,
			MaxResultsLimit:    10,
		},
		Admission: AdmissionConfig{MaxConcurrency: 1},
		Bulk:      BulkConfig{BatchSize: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validBase().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, want: "server.request_timeout_seconds"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no browsers", mutate: func(c *Config) { c.Browser.MaxBrowsers = 0 }, want: "browser.max_browsers"},
		{name: "negative qps", mutate: func(c *Config) { c.Browser.NavQPS = -1 }, want: "browser.nav_qps"},
		{name: "template without placeholder", mutate: func(c *Config) { c.Discovery.SearchURLTemplate = "https://x" }, want: "search_url_template"},
		{name: "no item timeout", mutate: func(c *Config) { c.Extraction.ItemTimeoutSeconds = 0 }, want: "item_timeout_seconds"},
		{name: "no overshoot", mutate: func(c *Config) { c.Extraction.OvershootFactor = 0 }, want: "overshoot_factor"},
		{name: "workers above max", mutate: func(c *Config) { c.Extraction.DefaultWorkers = 3 }, want: "default_workers"},
		{name: "results above limit", mutate: func(c *Config) { c.Extraction.DefaultMaxResults = 11 }, want: "default_max_results"},
		{name: "no admission", mutate: func(c *Config) { c.Admission.MaxConcurrency = 0 }, want: "admission.max_concurrency"},
		{name: "no batch", mutate: func(c *Config) { c.Bulk.BatchSize = 0 }, want: "bulk.batch_size"},
		{name: "cache without ttl", mutate: func(c *Config) { c.Cache.RedisAddr = "localhost:6379" }, want: "cache.ttl_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
