// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Search sources.
const (
	SourceAPI     = "api"
	SourceBrowser = "browser"
)

// Config captures every knob the commands read.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Search    SearchConfig    `mapstructure:"search"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Regions   RegionsConfig   `mapstructure:"regions"`
}

// LogConfig toggles zap development features.
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SearchConfig describes the directory, the query and the crawl loop.
type SearchConfig struct {
	Source            string        `mapstructure:"source"`
	BaseURL           string        `mapstructure:"base_url"`
	Endpoint          string        `mapstructure:"endpoint"`
	Keyword           string        `mapstructure:"keyword"`
	Country           string        `mapstructure:"country"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxPages          int           `mapstructure:"max_pages"`
	PageDelay         time.Duration `mapstructure:"page_delay"`
	ContinueOnBlocked bool          `mapstructure:"continue_on_blocked"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	Session           SessionConfig `mapstructure:"session"`
}

// SessionConfig controls the bootstrap request and its retries.
type SessionConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// HeadlessConfig applies when search.source is "browser".
type HeadlessConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// NormalizeConfig holds record defaults.
type NormalizeConfig struct {
	DefaultSpecialty     string `mapstructure:"default_specialty"`
	DefaultSpecialtySlug string `mapstructure:"default_specialty_slug"`
	ProfileBaseURL       string `mapstructure:"profile_base_url"`
}

// ArchiveConfig selects where raw search pages are kept.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig enables the run summary notification when TopicID is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Enabled reports whether a topic is configured.
func (c PubSubConfig) Enabled() bool {
	return c.TopicID != ""
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RegionsConfig points at descriptor files and optionally narrows a crawl.
type RegionsConfig struct {
	Dir     string   `mapstructure:"dir"`
	Include []string `mapstructure:"include"`
}

// Load builds a Config from disk/environment. Environment variables use the
// PROVIDERS_ prefix with dots replaced by underscores, e.g.
// PROVIDERS_DATABASE_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROVIDERS")
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
	v.SetDefault("log.development", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("search.source", SourceAPI)
	v.SetDefault("search.base_url", "https://www.doctolib.fr")
	v.SetDefault("search.endpoint", "/phs_proxy/raw")
	v.SetDefault("search.keyword", "medecin-generaliste")
	v.SetDefault("search.country", "fr")
	v.SetDefault("search.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("search.request_timeout", "30s")
	v.SetDefault("search.max_pages", 100)
	v.SetDefault("search.page_delay", "3s")
	v.SetDefault("search.continue_on_blocked", false)
	v.SetDefault("search.rate_limit_rps", 0)
	v.SetDefault("search.rate_limit_burst", 1)
	v.SetDefault("search.session.timeout", "10s")
	v.SetDefault("search.session.attempts", 3)
	v.SetDefault("search.session.backoff", "5s")
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("normalize.default_specialty", "Generalist")
	v.SetDefault("normalize.default_specialty_slug", "generalist")
	v.SetDefault("normalize.profile_base_url", "https://www.doctolib.fr")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.dir", "data/pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("regions.dir", "regions")
	v.SetDefault("regions.include", []string{})
}

// Validate enforces required values and reasonable limits. The database DSN
// is checked by the commands that open a pool.
func (c Config) Validate() error {
	switch c.Search.Source {
	case SourceAPI, SourceBrowser:
	default:
		return fmt.Errorf("search.source must be %q or %q, got %q", SourceAPI, SourceBrowser, c.Search.Source)
	}
	if strings.TrimSpace(c.Search.BaseURL) == "" {
		return errors.New("search.base_url is required")
	}
	if !strings.HasPrefix(c.Search.Endpoint, "/") {
		return errors.New("search.endpoint must start with /")
	}
	if strings.TrimSpace(c.Search.Keyword) == "" {
		return errors.New("search.keyword is required")
	}
	if c.Search.MaxPages <= 0 {
		return errors.New("search.max_pages must be > 0")
	}
	if c.Search.PageDelay < 0 {
		return errors.New("search.page_delay must be >= 0")
	}
	if c.Search.Session.Attempts <= 0 {
		return errors.New("search.session.attempts must be > 0")
	}
	if c.Search.RateLimitRPS < 0 {
		return errors.New("search.rate_limit_rps must be >= 0")
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return errors.New("archive.dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.Enabled() && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_id is set")
	}
	return nil
}

// RequireDatabase fails when no DSN is configured.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required (set PROVIDERS_DATABASE_DSN)")
	}
	return nil
}

// EffectivePageDelay maps the configured delay onto the orchestrator convention where
// a negative value disables pausing.
func (c SearchConfig) EffectivePageDelay() time.Duration {
	if c.PageDelay == 0 {
		return -1
	}
	return c.PageDelay
}
