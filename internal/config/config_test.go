package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 5
auth:
  enabled: true
  api_key: secret
logging:
  development: false
storage:
  backend: postgres
  postgres:
    dsn: postgres://localhost/sessiond
    max_conns: 4
archive:
  backend: gcs
  gcs_bucket: snapshots-bucket
publisher:
  backend: kafka
  topic: lifecycle
  kafka_brokers: ["k1:9092", "k2:9092"]
runner:
  max_run_seconds: 600
web:
  user_agent: test-agent
  max_depth: 4
  rate_per_host: 0.5
file:
  root: /srv/share
list:
  default_limit: 50
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 5*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.Postgres.MaxConns != 4 {
		t.Fatalf("expected postgres storage overrides, got %+v", cfg.Storage)
	}
	if cfg.Storage.Postgres.Table != "session_definitions" {
		t.Fatalf("expected default table, got %q", cfg.Storage.Postgres.Table)
	}
	if len(cfg.Publisher.KafkaBrokers) != 2 || cfg.Publisher.Topic != "lifecycle" {
		t.Fatalf("expected kafka publisher settings, got %+v", cfg.Publisher)
	}
	if got := cfg.MaxRunTime(); got != 10*time.Minute {
		t.Fatalf("expected max run time 10m, got %v", got)
	}
	if cfg.Web.UserAgent != "test-agent" || cfg.Web.MaxDepth != 4 || cfg.Web.RatePerHost != 0.5 {
		t.Fatalf("expected web overrides, got %+v", cfg.Web)
	}
	if cfg.Web.MaxURLNumber != 100 {
		t.Fatalf("expected default max url number, got %d", cfg.Web.MaxURLNumber)
	}
	if cfg.File.Root != "/srv/share" || cfg.File.MaxFileNumber != 10000 {
		t.Fatalf("expected file settings, got %+v", cfg.File)
	}
	if cfg.List.DefaultLimit != 50 || cfg.List.MaxLimit != 1000 {
		t.Fatalf("expected list settings, got %+v", cfg.List)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Archive.Backend != "" || cfg.Publisher.Backend != "" {
		t.Fatalf("expected archive and publisher disabled by default")
	}
	if cfg.MaxRunTime() != 0 {
		t.Fatalf("expected unbounded runs by default")
	}
	if cfg.ShutdownTimeout() != 15*time.Second {
		t.Fatalf("expected 15s shutdown timeout, got %v", cfg.ShutdownTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Storage:  StorageConfig{Backend: BackendMemory},
		List:     ListConfig{DefaultLimit: 20, MaxLimit: 1000},
		Progress: ProgressConfig{BufferSize: 16, BatchSize: 4},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "storage.postgres.dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = BackendRedis }, "storage.redis.addr"},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = BackendSQLite }, "storage.sqlite.path"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "archive.gcs_bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"pubsub without project", func(c *Config) {
			c.Publisher.Backend = "pubsub"
			c.Publisher.Topic = "t"
		}, "publisher.project_id"},
		{"kafka without brokers", func(c *Config) {
			c.Publisher.Backend = "kafka"
			c.Publisher.Topic = "t"
		}, "publisher.kafka_brokers"},
		{"publisher without topic", func(c *Config) { c.Publisher.Backend = "memory" }, "publisher.topic"},
		{"negative run time", func(c *Config) { c.Runner.MaxRunSeconds = -1 }, "runner.max_run_seconds"},
		{"list limits", func(c *Config) { c.List.MaxLimit = 5 }, "list.default_limit"},
		{"progress buffer", func(c *Config) { c.Progress.BufferSize = 0 }, "progress.buffer_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
