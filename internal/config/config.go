// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SITEMON_STORE_DSN.
const EnvPrefix = "SITEMON"

// Config captures all service configuration knobs loaded via Viper. It is
// built once by Load and passed by value.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Events    EventsConfig    `mapstructure:"events"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port" validate:"min=1,max=65535"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the optional file sink.
type LoggingConfig struct {
	Development bool          `mapstructure:"development"`
	Level       string        `mapstructure:"level" validate:"oneof=debug info warn error"`
	File        LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures lumberjack rotation. An empty Path disables the file sink.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// FetchConfig configures document retrieval.
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	UserAgent    string        `mapstructure:"user_agent" validate:"required"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes" validate:"min=0"`
	RatePerHost  float64       `mapstructure:"rate_per_host" validate:"min=0"`
	Burst        int           `mapstructure:"burst" validate:"min=0"`
}

// CheckerConfig bounds index expansion.
type CheckerConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// SchedulerConfig controls dispatch ticks and the worker pool.
type SchedulerConfig struct {
	Tick       time.Duration `mapstructure:"tick"`
	QueueDepth int           `mapstructure:"queue_depth"`
	Workers    int           `mapstructure:"workers"`
}

// JobsConfig controls per-job budgets and whole-job retries.
type JobsConfig struct {
	SoftTimeout time.Duration `mapstructure:"soft_timeout"`
	HardTimeout time.Duration `mapstructure:"hard_timeout"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=memory postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"min=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"min=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
}

// ArchiveConfig selects where snapshot documents are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=none memory local gcs"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Backend gcs"`
	BaseDir string `mapstructure:"base_dir" validate:"required_if=Backend local"`
	Prefix  string `mapstructure:"prefix"`
}

// EventsConfig holds Pub/Sub settings for change events. An empty Topic keeps
// events in memory.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id" validate:"required_with=Topic"`
	Topic     string `mapstructure:"topic"`
}

// SMTPConfig configures the email channel transport.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port" validate:"min=1,max=65535"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from" validate:"omitempty,email"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig configures the webhook channel transport.
type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetentionConfig is carried for the retention sweep run by collaborators.
type RetentionConfig struct {
	SnapshotDays        int `mapstructure:"snapshot_days" validate:"min=1"`
	NotificationLogDays int `mapstructure:"notification_log_days" validate:"min=1"`
}

// Load builds a Config from defaults, an optional file, and the environment.
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

// setDefaults also registers every key, so AutomaticEnv can override keys
// that have no file value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.retry_delay", "60s")
	v.SetDefault("fetch.user_agent", "SitemapMonitor/1.0")
	v.SetDefault("fetch.max_body_bytes", 50<<20)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.burst", 2)

	v.SetDefault("checker.max_depth", 5)

	v.SetDefault("scheduler.tick", "60s")
	v.SetDefault("scheduler.queue_depth", 256)
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("jobs.soft_timeout", "540s")
	v.SetDefault("jobs.hard_timeout", "600s")
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.retry_delay", "60s")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "1h")
	v.SetDefault("store.sqlite_path", "data/sitemon.db")

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.base_dir", "data/archive")
	v.SetDefault("archive.prefix", "snapshots")

	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.use_tls", true)
	v.SetDefault("smtp.timeout", "30s")

	v.SetDefault("webhook.timeout", "30s")

	v.SetDefault("retention.snapshot_days", 90)
	v.SetDefault("retention.notification_log_days", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be >= 1")
	}
	if c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.retry_delay must be >= 0")
	}
	if c.Checker.MaxDepth < 1 {
		return fmt.Errorf("checker.max_depth must be >= 1")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	}
	if c.Jobs.SoftTimeout <= 0 || c.Jobs.HardTimeout <= 0 {
		return fmt.Errorf("jobs.soft_timeout and jobs.hard_timeout must be > 0")
	}
	if c.Jobs.SoftTimeout > c.Jobs.HardTimeout {
		return fmt.Errorf("jobs.soft_timeout must not exceed jobs.hard_timeout")
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		return fmt.Errorf("store.min_conns must not exceed store.max_conns")
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address for the ops server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
