// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/places-scraper/internal/output"
	"github.com/JakeFAU/places-scraper/internal/progress"
	"github.com/JakeFAU/places-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/places-scraper/internal/storage/badgerdb"
	"github.com/JakeFAU/places-scraper/internal/storage/file"
	"github.com/JakeFAU/places-scraper/internal/storage/gcs"
	"github.com/JakeFAU/places-scraper/internal/storage/local"
	"github.com/JakeFAU/places-scraper/internal/storage/postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Jobs     JobsConfig      `mapstructure:"jobs"`
	State    StateConfig     `mapstructure:"state"`
	Output   output.Config   `mapstructure:"output"`
	Browser  BrowserConfig   `mapstructure:"browser"`
	Archive  ArchiveConfig   `mapstructure:"archive"`
	PubSub   PubSubConfig    `mapstructure:"pubsub"`
	Progress progress.Config `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// JobsConfig governs scheduling.
type JobsConfig struct {
	// MaxConcurrent bounds running jobs; 0 means one worker per job.
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueryDelay    time.Duration `mapstructure:"query_delay"`
}

// State store backends.
const (
	StateFile     = "file"
	StateBadger   = "badger"
	StatePostgres = "postgres"
	StateMemory   = "memory"
)

// StateConfig selects and configures the durable job store.
type StateConfig struct {
	Backend  string          `mapstructure:"backend"`
	File     file.Config     `mapstructure:"file"`
	Badger   badgerdb.Config `mapstructure:"badger"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// BrowserConfig bounds the headless Chrome sessions.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	MaxPages          int           `mapstructure:"max_pages"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout"`
	NextTimeout       time.Duration `mapstructure:"next_timeout"`
	PanelWait         time.Duration `mapstructure:"panel_wait"`
	PageSettle        time.Duration `mapstructure:"page_settle"`
	ListingPauseMin   time.Duration `mapstructure:"listing_pause_min"`
	ListingPauseMax   time.Duration `mapstructure:"listing_pause_max"`
	PageQPS           float64       `mapstructure:"page_qps"`
}

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// ArchiveConfig controls copying finished outputs to blob storage.
type ArchiveConfig struct {
	Backend     string       `mapstructure:"backend"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
	Local       local.Config `mapstructure:"local"`
	GCS         gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig holds the terminal job notification topic.
type PubSubConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("jobs.max_concurrent", 0)
	v.SetDefault("jobs.query_delay", 2*time.Second)
	v.SetDefault("state.backend", StateFile)
	v.SetDefault("state.file.dir", ".")
	v.SetDefault("state.badger.path", "data/state")
	v.SetDefault("state.badger.in_memory", false)
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("state.postgres.jobs_table", "scrape_jobs")
	v.SetDefault("state.postgres.state_table", "scrape_state")
	v.SetDefault("state.postgres.max_conns", 4)
	v.SetDefault("state.postgres.min_conns", 0)
	v.SetDefault("state.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("output.dir", "output")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.max_pages", 100)
	v.SetDefault("browser.launch_timeout", 30*time.Second)
	v.SetDefault("browser.navigation_timeout", 10*time.Second)
	v.SetDefault("browser.element_timeout", 15*time.Second)
	v.SetDefault("browser.next_timeout", 5*time.Second)
	v.SetDefault("browser.panel_wait", 3*time.Second)
	v.SetDefault("browser.page_settle", 4*time.Second)
	v.SetDefault("browser.listing_pause_min", 2*time.Second)
	v.SetDefault("browser.listing_pause_max", 4*time.Second)
	v.SetDefault("browser.page_qps", 0.5)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "scrapes")
	v.SetDefault("archive.content_type", "text/csv; charset=utf-8")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "scrape-jobs")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("jobs.max_concurrent must be >= 0")
	}
	if c.Jobs.QueryDelay < 0 {
		return fmt.Errorf("jobs.query_delay must be >= 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch c.State.Backend {
	case StateFile:
		if c.State.File.Dir == "" {
			return fmt.Errorf("state.file.dir is required for the file backend")
		}
	case StateBadger:
		if c.State.Badger.Path == "" && !c.State.Badger.InMemory {
			return fmt.Errorf("state.badger.path is required unless state.badger.in_memory is set")
		}
	case StatePostgres:
		if c.State.Postgres.DSN == "" {
			return fmt.Errorf("state.postgres.dsn is required for the postgres backend")
		}
	case StateMemory:
	default:
		return fmt.Errorf("state.backend %q is not one of file, badger, postgres, memory", c.State.Backend)
	}
	if err := c.Browser.validate(); err != nil {
		return err
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, local, gcs, memory", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	if slices.Contains(c.Server.CORSOrigins, "") {
		return fmt.Errorf("server.cors_origins must not contain empty entries")
	}
	return nil
}

func (b BrowserConfig) validate() error {
	if b.MaxPages <= 0 {
		return fmt.Errorf("browser.max_pages must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"launch_timeout":     b.LaunchTimeout,
		"navigation_timeout": b.NavigationTimeout,
		"element_timeout":    b.ElementTimeout,
		"next_timeout":       b.NextTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("browser.%s must be > 0", name)
		}
	}
	if b.ListingPauseMax < b.ListingPauseMin {
		return fmt.Errorf("browser.listing_pause_max must be >= browser.listing_pause_min")
	}
	if b.PageQPS < 0 {
		return fmt.Errorf("browser.page_qps must be >= 0")
	}
	return nil
}
