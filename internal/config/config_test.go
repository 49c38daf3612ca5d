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
	if cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.MaxAttempts != 3 || cfg.Fetch.RetryDelay != time.Minute {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Fetch.MaxBodyBytes != 50<<20 {
		t.Fatalf("expected 50MiB body cap, got %d", cfg.Fetch.MaxBodyBytes)
	}
	if cfg.Checker.MaxDepth != 5 {
		t.Fatalf("expected max depth 5, got %d", cfg.Checker.MaxDepth)
	}
	if cfg.Jobs.SoftTimeout != 540*time.Second || cfg.Jobs.HardTimeout != 600*time.Second || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Store.Backend != "memory" || cfg.Archive.Backend != "none" {
		t.Fatalf("expected in-memory store and no archive, got %q/%q", cfg.Store.Backend, cfg.Archive.Backend)
	}
	if cfg.SMTP.Port != 587 || !cfg.SMTP.UseTLS {
		t.Fatalf("unexpected smtp defaults: %+v", cfg.SMTP)
	}
	if cfg.Retention.SnapshotDays != 90 || cfg.Retention.NotificationLogDays != 30 {
		t.Fatalf("unexpected retention defaults: %+v", cfg.Retention)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
fetch:
  timeout: 10s
  max_attempts: 5
  user_agent: test-agent
checker:
  max_depth: 3
scheduler:
  workers: 8
store:
  backend: sqlite
  sqlite_path: /tmp/monitor.db
archive:
  backend: local
  base_dir: /tmp/archive
smtp:
  host: smtp.example.com
  from: alerts@example.com
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Fetch.Timeout != 10*time.Second || cfg.Fetch.MaxAttempts != 5 || cfg.Fetch.UserAgent != "test-agent" {
		t.Fatalf("expected fetch overrides, got %+v", cfg.Fetch)
	}
	if cfg.Checker.MaxDepth != 3 || cfg.Scheduler.Workers != 8 {
		t.Fatalf("expected checker and scheduler overrides")
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLitePath != "/tmp/monitor.db" {
		t.Fatalf("expected sqlite store, got %+v", cfg.Store)
	}
	if cfg.Archive.BaseDir != "/tmp/archive" {
		t.Fatalf("expected archive base dir, got %q", cfg.Archive.BaseDir)
	}
	if cfg.SMTP.From != "alerts@example.com" {
		t.Fatalf("expected smtp from, got %q", cfg.SMTP.From)
	}
	// Untouched keys keep defaults.
	if cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("expected default retries, got %d", cfg.Jobs.MaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITEMON_SERVER_PORT", "7070")
	t.Setenv("SITEMON_STORE_BACKEND", "postgres")
	t.Setenv("SITEMON_STORE_DSN", "postgres://localhost/monitor")
	t.Setenv("SITEMON_EVENTS_PROJECT_ID", "proj")
	t.Setenv("SITEMON_EVENTS_TOPIC", "changes")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "postgres" || cfg.Store.DSN != "postgres://localhost/monitor" {
		t.Fatalf("expected postgres env overrides, got %+v", cfg.Store)
	}
	if cfg.Events.Topic != "changes" || cfg.Events.ProjectID != "proj" {
		t.Fatalf("expected events env overrides, got %+v", cfg.Events)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "fetch.max_attempts"},
		{"zero depth", func(c *Config) { c.Checker.MaxDepth = 0 }, "checker.max_depth"},
		{"no workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"soft after hard", func(c *Config) { c.Jobs.SoftTimeout = time.Hour }, "soft_timeout"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "Backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres"; c.Store.DSN = "" }, "DSN"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "Bucket"},
		{"topic without project", func(c *Config) { c.Events.Topic = "changes" }, "ProjectID"},
		{"bad from address", func(c *Config) { c.SMTP.From = "not-an-email" }, "From"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
