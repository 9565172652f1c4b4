// Package config loads and validates ingestion service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Events     EventsConfig     `mapstructure:"events"`
	Categories CategoriesConfig `mapstructure:"categories"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Sources    []SourceConfig   `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	APIKey            string        `mapstructure:"api_key"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// RateLimitConfig is the per-source request budget.
type RateLimitConfig struct {
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	DelayBetweenRequests time.Duration `mapstructure:"delay_between_requests"`
}

// HTTPConfig configures outbound fetch timeouts and retry caps.
type HTTPConfig struct {
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxRetries            int           `mapstructure:"max_retries"`
	UserAgent             string        `mapstructure:"user_agent"`
	MaxBodyBytes          int           `mapstructure:"max_body_bytes"`
	RetryAfterCap         time.Duration `mapstructure:"retry_after_cap"`
	RateLimitBackoffCap   time.Duration `mapstructure:"rate_limit_backoff_cap"`
	ServerErrorBackoffCap time.Duration `mapstructure:"server_error_backoff_cap"`
}

// HeadlessConfig configures the chromedp renderer used by headless sources.
type HeadlessConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PromoteThreshold  int           `mapstructure:"promote_threshold"`
}

// StorageConfig describes the media object store.
type StorageConfig struct {
	Backend            string        `mapstructure:"backend"`
	Endpoint           string        `mapstructure:"endpoint"`
	Bucket             string        `mapstructure:"bucket"`
	AccessKey          string        `mapstructure:"access_key"`
	SecretKey          string        `mapstructure:"secret_key"`
	Region             string        `mapstructure:"region"`
	UseSSL             bool          `mapstructure:"use_ssl"`
	VerifySSL          bool          `mapstructure:"verify_ssl"`
	PresignTTL         time.Duration `mapstructure:"presign_ttl"`
	KeyPrefix          string        `mapstructure:"key_prefix"`
	CreateBucket       bool          `mapstructure:"create_bucket"`
	GCSCredentialsFile string        `mapstructure:"gcs_credentials_file"`
}

// DBConfig controls access to the article store.
type DBConfig struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	Table          string        `mapstructure:"table"`
	SourcesTable   string        `mapstructure:"sources_table"`
	MaxConns       int32         `mapstructure:"max_conns"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	// PrefixDedupe enables the prefix existence check for legacy rows that
	// still carry a query string.
	PrefixDedupe bool `mapstructure:"prefix_dedupe"`
}

// EventsConfig selects where article-ingested events go.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// CategoriesConfig points at an alternative category table.
type CategoriesConfig struct {
	File string `mapstructure:"file"`
}

// WorkerConfig holds poll loop defaults shared by every source.
type WorkerConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	MaxItems        int           `mapstructure:"max_items"`
}

// SourceConfig defines one upstream news source.
type SourceConfig struct {
	Name         string            `mapstructure:"name"`
	Enabled      *bool             `mapstructure:"enabled"`
	Kind         string            `mapstructure:"kind"`
	FeedURL      string            `mapstructure:"feed_url"`
	ListingURL   string            `mapstructure:"listing_url"`
	LinkSelector string            `mapstructure:"link_selector"`
	Interval     time.Duration     `mapstructure:"interval"`
	Headless     bool              `mapstructure:"headless"`
	HeadlessAuto bool              `mapstructure:"headless_auto"`
	Headers      map[string]string `mapstructure:"headers"`
	Auth         AuthConfig        `mapstructure:"auth"`
	RateLimit    *RateLimitConfig  `mapstructure:"rate_limit"`
	Selectors    SelectorConfig    `mapstructure:"selectors"`
	MaxItems     int               `mapstructure:"max_items"`
}

// AuthConfig describes credentials for authenticated feeds.
type AuthConfig struct {
	Type     string `mapstructure:"type"`
	Token    string `mapstructure:"token"`
	TokenEnv string `mapstructure:"token_env"`
}

// SelectorConfig holds CSS selectors for detail page extraction.
type SelectorConfig struct {
	Title     string `mapstructure:"title"`
	Body      string `mapstructure:"body"`
	Summary   string `mapstructure:"summary"`
	Category  string `mapstructure:"category"`
	Published string `mapstructure:"published"`
	Image     string `mapstructure:"image"`
}

// Source kinds.
const (
	KindRSS  = "rss"
	KindHTML = "html"
	KindAPI  = "api"
)

// IsEnabled reports whether the source should run. Sources are enabled unless disabled explicitly.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// HasSelectors reports whether a detail page must be fetched and extracted.
func (s SelectorConfig) HasSelectors() bool {
	return s.Title != "" || s.Body != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSINGEST")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.api_key", "")
	v.SetDefault("telemetry.service_name", "newsingest")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("rate_limit.max_requests_per_minute", 60)
	v.SetDefault("rate_limit.delay_between_requests", time.Second)
	v.SetDefault("http.connect_timeout", 10*time.Second)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; newsingest/1.0)")
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("http.retry_after_cap", 300*time.Second)
	v.SetDefault("http.rate_limit_backoff_cap", 300*time.Second)
	v.SetDefault("http.server_error_backoff_cap", 60*time.Second)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.promote_threshold", 2048)
	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.endpoint", "http://minio:9000")
	v.SetDefault("storage.bucket", "news-images")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.verify_ssl", true)
	v.SetDefault("storage.presign_ttl", time.Hour)
	v.SetDefault("storage.key_prefix", "news-images")
	v.SetDefault("storage.create_bucket", true)
	v.SetDefault("storage.gcs_credentials_file", "")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "news")
	v.SetDefault("db.sources_table", "news_sources")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.persist_timeout", 15*time.Second)
	v.SetDefault("db.prefix_dedupe", true)
	v.SetDefault("events.provider", "none")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")
	v.SetDefault("categories.file", "")
	v.SetDefault("worker.default_interval", 5*time.Minute)
	v.SetDefault("worker.max_items", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RateLimit.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.max_requests_per_minute must be > 0")
	}
	if c.RateLimit.DelayBetweenRequests < 0 {
		return fmt.Errorf("rate_limit.delay_between_requests must be >= 0")
	}
	if err := c.HTTP.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.DB.validate(); err != nil {
		return err
	}
	if err := c.Events.validate(); err != nil {
		return err
	}
	if c.Worker.DefaultInterval <= 0 {
		return fmt.Errorf("worker.default_interval must be > 0")
	}
	return validateSources(c.Sources)
}

func (h HTTPConfig) validate() error {
	if h.ConnectTimeout <= 0 {
		return fmt.Errorf("http.connect_timeout must be > 0")
	}
	if h.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if h.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case "s3":
		if s.Endpoint == "" {
			return fmt.Errorf("storage.endpoint must be set for the s3 backend")
		}
		if s.AccessKey == "" || s.SecretKey == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key must be set for the s3 backend")
		}
	case "gcs", "memory":
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	if s.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set")
	}
	if s.PresignTTL <= 0 || s.PresignTTL > 7*24*time.Hour {
		return fmt.Errorf("storage.presign_ttl must be between 1s and 168h")
	}
	return nil
}

func (d DBConfig) validate() error {
	switch d.Driver {
	case "postgres", "sqlite":
		if d.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the %s driver", d.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("db.driver %q is not supported", d.Driver)
	}
	if d.PersistTimeout <= 0 {
		return fmt.Errorf("db.persist_timeout must be > 0")
	}
	return nil
}

func (e EventsConfig) validate() error {
	switch e.Provider {
	case "", "none", "memory":
	case "pubsub":
		if e.ProjectID == "" || e.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("events.provider %q is not supported", e.Provider)
	}
	return nil
}

func validateSources(sources []SourceConfig) error {
	seen := make(map[string]struct{}, len(sources))
	for i, s := range sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name must be set", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		switch s.Kind {
		case KindRSS, KindAPI:
			if s.FeedURL == "" {
				return fmt.Errorf("sources[%d].feed_url must be set for kind %s", i, s.Kind)
			}
		case KindHTML:
			if s.ListingURL == "" || s.LinkSelector == "" {
				return fmt.Errorf("sources[%d].listing_url and link_selector must be set for kind html", i)
			}
		default:
			return fmt.Errorf("sources[%d].kind %q is not supported", i, s.Kind)
		}
		if s.Interval < 0 {
			return fmt.Errorf("sources[%d].interval must be >= 0", i)
		}
		if s.Auth.Type != "" && s.Auth.Type != "bearer" {
			return fmt.Errorf("sources[%d].auth.type %q is not supported", i, s.Auth.Type)
		}
		if s.RateLimit != nil && s.RateLimit.MaxRequestsPerMinute <= 0 {
			return fmt.Errorf("sources[%d].rate_limit.max_requests_per_minute must be > 0", i)
		}
	}
	return nil
}

// SourceInterval returns the poll interval for s, falling back to the worker default.
func (c Config) SourceInterval(s SourceConfig) time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return c.Worker.DefaultInterval
}
