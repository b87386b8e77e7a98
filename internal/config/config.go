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
	Server     ServerConfig     `mapstructure:"server"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Quality    QualityConfig    `mapstructure:"quality"`
	Processors ProcessorsConfig `mapstructure:"processors"`
	Driver     DriverConfig     `mapstructure:"driver"`
	Export     ExportConfig     `mapstructure:"export"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Store      StoreConfig      `mapstructure:"store"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the inspection HTTP server.
type ServerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Port           int    `mapstructure:"port"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SchedulerConfig sizes and paces the slot pool.
type SchedulerConfig struct {
	Slots                int  `mapstructure:"slots"`
	PollIntervalMs       int  `mapstructure:"poll_interval_ms"`
	PageTimeoutSeconds   int  `mapstructure:"page_timeout_seconds"`
	DetectTimeoutSeconds int  `mapstructure:"detect_timeout_seconds"`
	EventBuffer          int  `mapstructure:"event_buffer"`
	MaxRetries           int  `mapstructure:"max_retries"`
	ExitWhenIdle         bool `mapstructure:"exit_when_idle"`
}

// QualityConfig sets the auto-blocking thresholds.
type QualityConfig struct {
	SlowThreshold   int `mapstructure:"slow_threshold"`
	FailedThreshold int `mapstructure:"failed_threshold"`
}

// ProcessorsConfig selects and tunes the page processors.
type ProcessorsConfig struct {
	// Enabled lists processor names; empty enables the full standard set.
	Enabled         []string `mapstructure:"enabled"`
	LinkSelector    string   `mapstructure:"link_selector"`
	SameHostOnly    bool     `mapstructure:"same_host_only"`
	RemoveSelectors []string `mapstructure:"remove_selectors"`
	ContentSelector string   `mapstructure:"content_selector"`
	RequireContent  bool     `mapstructure:"require_content"`
}

// DriverConfig picks and tunes the page driver.
type DriverConfig struct {
	// Kind is "chromedp" or "memory".
	Kind          string  `mapstructure:"kind"`
	UserAgent     string  `mapstructure:"user_agent"`
	RatePerDomain float64 `mapstructure:"rate_per_domain"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// ExportConfig controls PDF rendering and artifact naming.
type ExportConfig struct {
	Prefix          string  `mapstructure:"prefix"`
	Landscape       bool    `mapstructure:"landscape"`
	PaperWidth      float64 `mapstructure:"paper_width"`
	PaperHeight     float64 `mapstructure:"paper_height"`
	Margin          float64 `mapstructure:"margin"`
	PrintBackground bool    `mapstructure:"print_background"`
	Scale           float64 `mapstructure:"scale"`
}

// SeedConfig controls the HTTP pre-seeding crawl.
type SeedConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	StartURLs      []string `mapstructure:"start_urls"`
	MaxDepth       int      `mapstructure:"max_depth"`
	UserAgent      string   `mapstructure:"user_agent"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// StorageConfig picks the artifact blob store.
type StorageConfig struct {
	// Kind is "local", "gcs", or "memory".
	Kind      string `mapstructure:"kind"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StoreConfig picks the frontier snapshot repository.
type StoreConfig struct {
	// Kind is "file", "postgres", or "none".
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

// PublishConfig picks the completion notification publisher.
type PublishConfig struct {
	// Kind is "noop", "pubsub", or "memory".
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCPRESS")
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
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("scheduler.slots", 4)
	v.SetDefault("scheduler.poll_interval_ms", 1000)
	v.SetDefault("scheduler.page_timeout_seconds", 60)
	v.SetDefault("scheduler.detect_timeout_seconds", 5)
	v.SetDefault("scheduler.event_buffer", 256)
	v.SetDefault("scheduler.max_retries", 2)
	v.SetDefault("scheduler.exit_when_idle", true)
	v.SetDefault("quality.slow_threshold", 100)
	v.SetDefault("quality.failed_threshold", 10)
	v.SetDefault("processors.link_selector", "a[href]")
	v.SetDefault("processors.same_host_only", true)
	v.SetDefault("processors.require_content", false)
	v.SetDefault("driver.kind", "chromedp")
	v.SetDefault("driver.user_agent", "docpress/1.0 (+https://github.com/docpress/docpress)")
	v.SetDefault("driver.rate_per_domain", 2.0)
	v.SetDefault("driver.rate_burst", 1)
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.paper_width", 8.27)
	v.SetDefault("export.paper_height", 11.69)
	v.SetDefault("export.margin", 0.394)
	v.SetDefault("export.print_background", true)
	v.SetDefault("export.scale", 1.0)
	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.max_depth", 2)
	v.SetDefault("storage.kind", "local")
	v.SetDefault("storage.base_dir", "data/exports")
	v.SetDefault("store.kind", "file")
	v.SetDefault("store.path", "data/frontier.json")
	v.SetDefault("publish.kind", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Slots <= 0 {
		return fmt.Errorf("scheduler.slots must be > 0")
	}
	if c.Scheduler.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.page_timeout_seconds must be > 0")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	switch c.Driver.Kind {
	case "chromedp", "memory":
	default:
		return fmt.Errorf("driver.kind must be chromedp or memory")
	}
	switch c.Storage.Kind {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for local storage")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.kind must be local, gcs, or memory")
	}
	switch c.Store.Kind {
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must be set for file store")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for postgres store")
		}
	case "none":
	default:
		return fmt.Errorf("store.kind must be file, postgres, or none")
	}
	switch c.Publish.Kind {
	case "pubsub":
		if c.Publish.ProjectID == "" || c.Publish.Topic == "" {
			return fmt.Errorf("publish.project_id and publish.topic must be set for pubsub")
		}
	case "noop", "memory":
	default:
		return fmt.Errorf("publish.kind must be noop, pubsub, or memory")
	}
	return nil
}

// PollInterval returns the scheduler tick period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalMs) * time.Millisecond
}

// PageTimeout returns the per-assignment wall time budget.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scheduler.PageTimeoutSeconds) * time.Second
}

// DetectTimeout returns the per-detect budget.
func (c Config) DetectTimeout() time.Duration {
	return time.Duration(c.Scheduler.DetectTimeoutSeconds) * time.Second
}

// ServerTimeout returns the HTTP request budget.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
