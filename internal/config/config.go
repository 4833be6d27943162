// Package config loads and validates session service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Web       WebConfig       `mapstructure:"web"`
	File      FileConfig      `mapstructure:"file"`
	List      ListConfig      `mapstructure:"list"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
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

// StorageConfig selects where session definitions and run history live.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Table                  string `mapstructure:"table"`
}

// RedisConfig controls the go-redis client.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SQLiteConfig points at the sqlite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig selects where run snapshots are archived.
type ArchiveConfig struct {
	// Backend is one of "", "memory", "local" or "gcs"; empty disables archiving.
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig holds lifecycle notification settings.
type PublisherConfig struct {
	// Backend is one of "", "memory", "pubsub" or "kafka"; empty disables publishing.
	Backend      string   `mapstructure:"backend"`
	Topic        string   `mapstructure:"topic"`
	ProjectID    string   `mapstructure:"project_id"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize    int `mapstructure:"buffer_size"`
	BatchSize     int `mapstructure:"batch_size"`
	FlushMillis   int `mapstructure:"flush_interval_ms"`
	SinkTimeoutMs int `mapstructure:"sink_timeout_ms"`
}

// RunnerConfig bounds session runs.
type RunnerConfig struct {
	MaxRunSeconds int `mapstructure:"max_run_seconds"`
}

// WebConfig holds defaults for web sessions.
type WebConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	MaxDepth       int     `mapstructure:"max_depth"`
	MaxURLNumber   int     `mapstructure:"max_url_number"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RatePerHost    float64 `mapstructure:"rate_per_host"`
	BurstPerHost   int     `mapstructure:"burst_per_host"`
}

// FileConfig holds defaults for file sessions.
type FileConfig struct {
	Root          string `mapstructure:"root"`
	MaxDepth      int    `mapstructure:"max_depth"`
	MaxFileNumber int    `mapstructure:"max_file_number"`
}

// ListConfig controls list paging.
type ListConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SESSIOND")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.postgres.table", "session_definitions")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "sessiond")
	v.SetDefault("storage.sqlite.path", "sessiond.db")
	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.local_dir", "snapshots")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("publisher.backend", "")
	v.SetDefault("publisher.topic", "session-events")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_size", 256)
	v.SetDefault("progress.flush_interval_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 2000)
	v.SetDefault("runner.max_run_seconds", 0)
	v.SetDefault("web.user_agent", "sessiond/0.1")
	v.SetDefault("web.max_depth", 2)
	v.SetDefault("web.max_url_number", 100)
	v.SetDefault("web.timeout_seconds", 15)
	v.SetDefault("web.respect_robots", true)
	v.SetDefault("web.rate_per_host", 2.0)
	v.SetDefault("web.burst_per_host", 1)
	v.SetDefault("file.max_depth", 10)
	v.SetDefault("file.max_file_number", 10000)
	v.SetDefault("list.default_limit", 20)
	v.SetDefault("list.max_limit", 1000)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "sessiond")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case "", "memory", "local":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Publisher.Backend {
	case "", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id must be set for pubsub")
		}
	case "kafka":
		if len(c.Publisher.KafkaBrokers) == 0 {
			return fmt.Errorf("publisher.kafka_brokers must be set for kafka")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	if c.Publisher.Backend != "" && c.Publisher.Topic == "" {
		return fmt.Errorf("publisher.topic must be set when publishing is enabled")
	}
	if c.Runner.MaxRunSeconds < 0 {
		return fmt.Errorf("runner.max_run_seconds must be >= 0")
	}
	if c.List.DefaultLimit <= 0 || c.List.MaxLimit < c.List.DefaultLimit {
		return fmt.Errorf("list.default_limit must be > 0 and <= list.max_limit")
	}
	if c.Progress.BufferSize <= 0 || c.Progress.BatchSize <= 0 {
		return fmt.Errorf("progress.buffer_size and progress.batch_size must be > 0")
	}
	return nil
}

// MaxRunTime converts runner.max_run_seconds into a duration; zero means unbounded.
func (c Config) MaxRunTime() time.Duration {
	return time.Duration(c.Runner.MaxRunSeconds) * time.Second
}

// RequestTimeout is the per-request HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
