// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
	"github.com/JakeFAU/multisite-scraper/internal/logging"
)

// EnvPrefix is prepended to environment overrides, e.g. SCRAPER_SCRAPER_MAX_WORKERS.
const EnvPrefix = "SCRAPER"

// Supported export formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

var knownFormats = []string{FormatJSON, FormatCSV, FormatSQLite, FormatPostgres}

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Sites    []SiteConfig   `mapstructure:"sites"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScraperConfig holds the global crawl settings. Durations accept Go duration
// strings ("1500ms") or plain numbers of seconds.
type ScraperConfig struct {
	MaxWorkers     int      `mapstructure:"max_workers"`
	DefaultDelay   string   `mapstructure:"default_delay"`
	Timeout        string   `mapstructure:"timeout"`
	Retries        int      `mapstructure:"retries"`
	UserAgents     []string `mapstructure:"user_agents"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// SiteConfig is one entry of the sites list.
type SiteConfig struct {
	Name      string              `mapstructure:"name"`
	BaseURL   string              `mapstructure:"base_url"`
	Enabled   *bool               `mapstructure:"enabled"`
	Pages     []string            `mapstructure:"pages"`
	Delay     string              `mapstructure:"delay"`
	Selectors crawler.SelectorSet `mapstructure:"selectors"`
}

// StorageConfig selects export formats and where artifacts are written.
type StorageConfig struct {
	Formats         []string `mapstructure:"formats"`
	OutputDirectory string   `mapstructure:"output_directory"`
	Backend         string   `mapstructure:"backend"`
	GCSBucket       string   `mapstructure:"gcs_bucket"`
	Prefix          string   `mapstructure:"prefix"`
}

// PostgresConfig controls the postgres exporter.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for report notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects the zap flavor and optional log file.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("scraper.max_workers", 3)
	v.SetDefault("scraper.default_delay", "2s")
	v.SetDefault("scraper.timeout", "30s")
	v.SetDefault("scraper.retries", 3)
	v.SetDefault("scraper.user_agents", DefaultUserAgents)
	v.SetDefault("scraper.max_body_bytes", 10<<20)
	v.SetDefault("scraper.rate_limit_rps", 0)
	v.SetDefault("scraper.rate_limit_burst", 1)
	v.SetDefault("storage.formats", []string{FormatJSON, FormatCSV})
	v.SetDefault("storage.output_directory", "scraped_data")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("postgres.table", "scraped_records")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
}

// DefaultUserAgents are rotated between runs when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.MaxWorkers <= 0 {
		return fmt.Errorf("scraper.max_workers must be > 0")
	}
	if c.Scraper.Retries < 0 {
		return fmt.Errorf("scraper.retries must be >= 0")
	}
	delay, err := ParseDuration(c.Scraper.DefaultDelay)
	if err != nil {
		return fmt.Errorf("scraper.default_delay: %w", err)
	}
	if delay < 0 {
		return fmt.Errorf("scraper.default_delay must be >= 0")
	}
	timeout, err := ParseDuration(c.Scraper.Timeout)
	if err != nil {
		return fmt.Errorf("scraper.timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("scraper.timeout must be > 0")
	}
	if c.Scraper.RateLimitRPS < 0 {
		return fmt.Errorf("scraper.rate_limit_rps must be >= 0")
	}
	for _, format := range c.Storage.Formats {
		if !slices.Contains(knownFormats, strings.ToLower(format)) {
			return fmt.Errorf("storage.formats: unknown format %q", format)
		}
	}
	switch strings.ToLower(c.Storage.Backend) {
	case BackendLocal, "":
		if c.Storage.OutputDirectory == "" {
			return fmt.Errorf("storage.output_directory must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.HasFormat(FormatPostgres) && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when the postgres format is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if _, err := c.SiteSpecs(); err != nil {
		return err
	}
	return nil
}

// SiteSpecs converts the configured sites into validated site specs.
func (c Config) SiteSpecs() ([]crawler.SiteSpec, error) {
	specs := make([]crawler.SiteSpec, 0, len(c.Sites))
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		var delay *time.Duration
		if strings.TrimSpace(site.Delay) != "" {
			d, err := ParseDuration(site.Delay)
			if err != nil {
				return nil, fmt.Errorf("sites[%d].delay: %w", i, err)
			}
			delay = &d
		}
		enabled := true
		if site.Enabled != nil {
			enabled = *site.Enabled
		}
		spec, err := crawler.NewSiteSpec(crawler.SiteConfig{
			Name:      site.Name,
			BaseURL:   site.BaseURL,
			Enabled:   enabled,
			Pages:     site.Pages,
			Delay:     delay,
			Selectors: site.Selectors,
		})
		if err != nil {
			return nil, fmt.Errorf("sites[%d]: %w", i, err)
		}
		if _, dup := seen[spec.Name()]; dup {
			return nil, fmt.Errorf("sites[%d]: %w: %q", i, crawler.ErrDuplicateSite, spec.Name())
		}
		seen[spec.Name()] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}

// HasFormat reports whether format is enabled.
func (c Config) HasFormat(format string) bool {
	for _, f := range c.Storage.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

// DefaultDelay returns the parsed global delay between pages.
func (c Config) DefaultDelay() time.Duration {
	d, _ := ParseDuration(c.Scraper.DefaultDelay)
	return d
}

// RequestTimeout returns the parsed per-attempt timeout.
func (c Config) RequestTimeout() time.Duration {
	d, _ := ParseDuration(c.Scraper.Timeout)
	return d
}

// LoggingOptions maps the logging section onto logger options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:       c.Logging.Level,
		Development: c.Logging.Development,
		File:        c.Logging.File,
	}
}

// ParseDuration accepts a Go duration string or a plain number of seconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}
