package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if cfg.State.Backend != StateFile || cfg.State.File.Dir != "." {
		t.Fatalf("expected file state backend in cwd, got %+v", cfg.State)
	}
	if cfg.Jobs.QueryDelay != 2*time.Second || cfg.Jobs.MaxConcurrent != 0 {
		t.Fatalf("unexpected jobs defaults: %+v", cfg.Jobs)
	}
	if cfg.Browser.MaxPages != 100 || cfg.Browser.ElementTimeout != 15*time.Second {
		t.Fatalf("unexpected browser defaults: %+v", cfg.Browser)
	}
	if cfg.Output.Dir != "output" {
		t.Fatalf("expected output dir default, got %q", cfg.Output.Dir)
	}
	if cfg.Progress.BufferSize != 1024 {
		t.Fatalf("expected progress buffer default, got %d", cfg.Progress.BufferSize)
	}
	if cfg.PubSub.TopicName != "scrape-jobs" || cfg.PubSub.Enabled {
		t.Fatalf("unexpected pubsub defaults: %+v", cfg.PubSub)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_origins: ["https://ops.example.com"]
auth:
  enabled: true
  api_key: secret
logging:
  development: false
jobs:
  max_concurrent: 2
  query_delay: 500ms
state:
  backend: postgres
  postgres:
    dsn: postgres://scraper@localhost/scraper
    max_conns: 8
output:
  dir: /var/lib/scraper/output
browser:
  headless: false
  max_pages: 3
  element_timeout: 5s
archive:
  backend: gcs
  prefix: exports
  gcs:
    bucket: scrapes-bucket
pubsub:
  enabled: true
  project_id: proj
  topic_name: done
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Addr() != ":9090" {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://ops.example.com" {
		t.Fatalf("expected cors override, got %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Jobs.MaxConcurrent != 2 || cfg.Jobs.QueryDelay != 500*time.Millisecond {
		t.Fatalf("expected jobs overrides, got %+v", cfg.Jobs)
	}
	if cfg.State.Backend != StatePostgres || cfg.State.Postgres.MaxConns != 8 {
		t.Fatalf("expected postgres state, got %+v", cfg.State)
	}
	if cfg.State.Postgres.JobsTable != "scrape_jobs" {
		t.Fatalf("expected default jobs table to survive, got %q", cfg.State.Postgres.JobsTable)
	}
	if cfg.Browser.Headless || cfg.Browser.MaxPages != 3 || cfg.Browser.ElementTimeout != 5*time.Second {
		t.Fatalf("expected browser overrides, got %+v", cfg.Browser)
	}
	if cfg.Archive.Backend != ArchiveGCS || cfg.Archive.GCS.Bucket != "scrapes-bucket" {
		t.Fatalf("expected gcs archive, got %+v", cfg.Archive)
	}
	if !cfg.PubSub.Enabled || cfg.PubSub.ProjectID != "proj" || cfg.PubSub.TopicName != "done" {
		t.Fatalf("expected pubsub overrides, got %+v", cfg.PubSub)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_SERVER_PORT", "7070")
	t.Setenv("SCRAPER_STATE_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.State.Backend != StateMemory {
		t.Fatalf("expected memory backend, got %q", cfg.State.Backend)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"negative concurrency", func(c *Config) { c.Jobs.MaxConcurrent = -1 }, "jobs.max_concurrent"},
		{"negative delay", func(c *Config) { c.Jobs.QueryDelay = -time.Second }, "jobs.query_delay"},
		{"missing output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"unknown state backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"postgres without dsn", func(c *Config) { c.State.Backend = StatePostgres }, "state.postgres.dsn"},
		{"badger without path", func(c *Config) {
			c.State.Backend = StateBadger
			c.State.Badger.Path = ""
		}, "state.badger.path"},
		{"zero max pages", func(c *Config) { c.Browser.MaxPages = 0 }, "browser.max_pages"},
		{"zero launch timeout", func(c *Config) { c.Browser.LaunchTimeout = 0 }, "browser.launch_timeout"},
		{"inverted pauses", func(c *Config) { c.Browser.ListingPauseMax = time.Millisecond }, "listing_pause_max"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.gcs.bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
		{"empty cors origin", func(c *Config) { c.Server.CORSOrigins = []string{""} }, "cors_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Server.CORSOrigins = append([]string(nil), base.Server.CORSOrigins...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
