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

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Queue.Provider != "memory" || cfg.Queue.Depth != 64 {
		t.Fatalf("expected memory queue defaults, got %+v", cfg.Queue)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffSeconds != 60 {
		t.Fatalf("expected retry defaults, got %+v", cfg.Retry)
	}
	if cfg.Limits.MaxLinks != 100 || cfg.Limits.MaxImages != 50 {
		t.Fatalf("expected extraction cap defaults, got %+v", cfg.Limits)
	}
	if cfg.Limits.HTMLSnapshotBytes != 100000 {
		t.Fatalf("expected 100000 snapshot bytes, got %d", cfg.Limits.HTMLSnapshotBytes)
	}
	if len(cfg.Fetcher.UserAgents) == 0 {
		t.Fatal("expected a default user agent pool")
	}
	if got := cfg.FetchTimeout(); got != 30*time.Second {
		t.Fatalf("expected fetch timeout 30s, got %v", got)
	}
	if got := cfg.SoftLimit(); got != 240*time.Second {
		t.Fatalf("expected soft limit 240s, got %v", got)
	}
	if got := cfg.HardLimit(); got != 300*time.Second {
		t.Fatalf("expected hard limit 300s, got %v", got)
	}
	if got := cfg.ResultRetention(); got != 24*time.Hour {
		t.Fatalf("expected retention 24h, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
db:
  dsn: postgres://localhost/metascrape
  max_conns: 16
queue:
  provider: pubsub
  project_id: test-project
  topic: scrape-tasks
  subscription: scrape-workers
worker:
  concurrency: 8
fetcher:
  timeout_seconds: 15
  min_delay_ms: 10
  max_delay_ms: 20
  user_agents: ["test-agent"]
retry:
  max_attempts: 5
  backoff_seconds: 30
limits:
  soft_seconds: 60
  hard_seconds: 90
  max_links: 10
  max_images: 5
  html_snapshot_bytes: 2048
results:
  retention_hours: 48
reaper:
  interval_seconds: 15
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.DB.DSN != "postgres://localhost/metascrape" || cfg.DB.MaxConns != 16 {
		t.Fatalf("expected db overrides to apply, got %+v", cfg.DB)
	}
	if cfg.Queue.Provider != "pubsub" || cfg.Queue.ProjectID != "test-project" {
		t.Fatalf("expected pubsub queue config, got %+v", cfg.Queue)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if len(cfg.Fetcher.UserAgents) != 1 || cfg.Fetcher.UserAgents[0] != "test-agent" {
		t.Fatalf("expected user agent override, got %+v", cfg.Fetcher.UserAgents)
	}
	if got := cfg.RetryBackoff(); got != 30*time.Second {
		t.Fatalf("expected backoff 30s, got %v", got)
	}
	if got := cfg.SoftLimit(); got != 60*time.Second {
		t.Fatalf("expected soft limit 60s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Queue:   QueueConfig{Provider: "memory", Depth: 64},
		Worker:  WorkerConfig{Concurrency: 4},
		Fetcher: FetcherConfig{TimeoutSeconds: 30, MinDelayMs: 100, MaxDelayMs: 200, UserAgents: []string{"ua"}},
		Retry:   RetryConfig{MaxAttempts: 3, BackoffSeconds: 60},
		Limits:  LimitsConfig{SoftSeconds: 240, HardSeconds: 300},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Worker.Concurrency = 0
				return c
			}(),
			want: "worker.concurrency",
		},
		{
			name: "invalid fetch timeout",
			cfg: func() Config {
				c := base
				c.Fetcher.TimeoutSeconds = 0
				return c
			}(),
			want: "fetcher.timeout_seconds",
		},
		{
			name: "delay bounds inverted",
			cfg: func() Config {
				c := base
				c.Fetcher.MinDelayMs = 500
				c.Fetcher.MaxDelayMs = 100
				return c
			}(),
			want: "fetcher.max_delay_ms",
		},
		{
			name: "empty user agent pool",
			cfg: func() Config {
				c := base
				c.Fetcher.UserAgents = nil
				return c
			}(),
			want: "fetcher.user_agents",
		},
		{
			name: "zero retry attempts",
			cfg: func() Config {
				c := base
				c.Retry.MaxAttempts = 0
				return c
			}(),
			want: "retry.max_attempts",
		},
		{
			name: "hard limit below soft limit",
			cfg: func() Config {
				c := base
				c.Limits.HardSeconds = 120
				return c
			}(),
			want: "limits.hard_seconds",
		},
		{
			name: "pubsub missing wiring",
			cfg: func() Config {
				c := base
				c.Queue.Provider = "pubsub"
				return c
			}(),
			want: "queue.project_id",
		},
		{
			name: "unknown provider",
			cfg: func() Config {
				c := base
				c.Queue.Provider = "kafka"
				return c
			}(),
			want: "unknown queue provider",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
