// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leadharvest/leadharvest/internal/directory"
	"github.com/leadharvest/leadharvest/internal/enrich"
	"github.com/leadharvest/leadharvest/internal/fetch"
	"github.com/leadharvest/leadharvest/internal/identity"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Directory DirectoryConfig `mapstructure:"directory"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	DB        DBConfig        `mapstructure:"db"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DirectoryConfig governs crawl pacing against the listing directory.
type DirectoryConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	MaxPages           int    `mapstructure:"max_pages"`
	EmptyPageThreshold int    `mapstructure:"empty_page_threshold"`
	Concurrency        int    `mapstructure:"concurrency"`
	PageDelayMs        int    `mapstructure:"page_delay_ms"`
	PageJitterMs       int    `mapstructure:"page_jitter_ms"`
}

// HTTPConfig configures the directory fetcher's client and retry behavior.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MinIntervalMs    int    `mapstructure:"min_interval_ms"`
	BackoffMs        []int  `mapstructure:"backoff_ms"`
	MaxBodyBytes     int64  `mapstructure:"max_body_bytes"`
	AcceptLanguage   string `mapstructure:"accept_language"`
	RefererOverride  string `mapstructure:"referer"`
	RetryStatusCodes []int  `mapstructure:"retry_status_codes"`
}

// WorkerConfig controls the job polling loop.
type WorkerConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	QuotaUnitsPerPage   int    `mapstructure:"quota_units_per_page"`
	CompletionTopic     string `mapstructure:"completion_topic"`
}

// IdentityConfig governs the resolve/refresh policy.
type IdentityConfig struct {
	RefreshTTLHours int `mapstructure:"refresh_ttl_hours"`
	MinCompleteness int `mapstructure:"min_completeness"`
}

// EnrichConfig controls website probing for contact signals.
type EnrichConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxPages          int     `mapstructure:"max_pages"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// SnapshotConfig selects and configures the raw page snapshot backend.
type SnapshotConfig struct {
	// Backend is one of "memory", "local", "gcs".
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADHARVEST")
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
	v.SetDefault("directory.max_pages", 10)
	v.SetDefault("directory.empty_page_threshold", 2)
	v.SetDefault("directory.concurrency", 2)
	v.SetDefault("directory.page_delay_ms", 500)
	v.SetDefault("directory.page_jitter_ms", 500)
	v.SetDefault("http.user_agent", "leadharvest-bot/0.1")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.min_interval_ms", 1000)
	v.SetDefault("http.backoff_ms", []int{2000, 5000, 10000})
	v.SetDefault("http.max_body_bytes", int64(4<<20))
	v.SetDefault("http.accept_language", "de-DE,de;q=0.9,en;q=0.5")
	v.SetDefault("http.retry_status_codes", []int{429, 500, 502, 503, 504})
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.quota_units_per_page", 1)
	v.SetDefault("worker.completion_topic", "discovery.job.completed")
	v.SetDefault("identity.refresh_ttl_hours", 168)
	v.SetDefault("identity.min_completeness", 75)
	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.max_pages", 3)
	v.SetDefault("enrich.timeout_seconds", 15)
	v.SetDefault("enrich.requests_per_second", 1.0)
	v.SetDefault("enrich.burst", 1)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("snapshot.backend", "memory")
	v.SetDefault("snapshot.prefix", "pages")
	v.SetDefault("snapshot.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory.base_url must be set")
	}
	if c.Directory.MaxPages <= 0 {
		return fmt.Errorf("directory.max_pages must be > 0")
	}
	if c.Directory.Concurrency <= 0 {
		return fmt.Errorf("directory.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MinIntervalMs < 0 {
		return fmt.Errorf("http.min_interval_ms must be >= 0")
	}
	switch c.Snapshot.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("snapshot.backend must be one of memory, local, gcs")
	}
	if c.Snapshot.Backend == "local" && c.Snapshot.BaseDir == "" {
		return fmt.Errorf("snapshot.base_dir must be set for the local backend")
	}
	if c.Snapshot.Backend == "gcs" && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

// FetchConfig converts the HTTP section into the fetcher's configuration.
func (c Config) FetchConfig() fetch.Config {
	backoff := make(fetch.BackoffTable, 0, len(c.HTTP.BackoffMs))
	for _, ms := range c.HTTP.BackoffMs {
		backoff = append(backoff, time.Duration(ms)*time.Millisecond)
	}
	return fetch.Config{
		UserAgent:      c.HTTP.UserAgent,
		AcceptLanguage: c.HTTP.AcceptLanguage,
		Referer:        c.HTTP.RefererOverride,
		Timeout:        time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		Backoff:        backoff,
		RetryStatuses:  c.HTTP.RetryStatusCodes,
		MaxBodyBytes:   c.HTTP.MaxBodyBytes,
	}
}

// MinInterval returns the global request spacing for the directory gate.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.HTTP.MinIntervalMs) * time.Millisecond
}

// CrawlerConfig converts the directory section into the crawler's configuration.
func (c Config) CrawlerConfig() directory.Config {
	return directory.Config{
		BaseURL:            c.Directory.BaseURL,
		EmptyPageThreshold: c.Directory.EmptyPageThreshold,
		Concurrency:        c.Directory.Concurrency,
		PageDelay:          time.Duration(c.Directory.PageDelayMs) * time.Millisecond,
		PageJitter:         time.Duration(c.Directory.PageJitterMs) * time.Millisecond,
	}
}

// RefreshPolicy converts the identity section into the resolver's policy.
func (c Config) RefreshPolicy() identity.RefreshPolicy {
	return identity.RefreshPolicy{
		TTL:             time.Duration(c.Identity.RefreshTTLHours) * time.Hour,
		MinCompleteness: c.Identity.MinCompleteness,
	}
}

// ProberConfig converts the enrich section into the website prober's configuration.
func (c Config) ProberConfig() enrich.Config {
	return enrich.Config{
		UserAgent: c.HTTP.UserAgent,
		Timeout:   time.Duration(c.Enrich.TimeoutSeconds) * time.Second,
		MaxPages:  c.Enrich.MaxPages,
	}
}

// LimiterConfig converts the enrich section into per-domain rate settings.
func (c Config) LimiterConfig() enrich.LimiterConfig {
	return enrich.LimiterConfig{
		RequestsPerSecond: c.Enrich.RequestsPerSecond,
		Burst:             c.Enrich.Burst,
	}
}

// PollInterval returns the worker's idle poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}
