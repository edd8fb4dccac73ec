// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Results ResultsConfig `mapstructure:"results"`
	Reaper  ReaperConfig  `mapstructure:"reaper"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig selects and configures the task delivery broker.
type QueueConfig struct {
	Provider     string `mapstructure:"provider"`
	Depth        int    `mapstructure:"depth"`
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// WorkerConfig governs runner fan-out.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// FetcherConfig configures the HTTP fetch behavior.
type FetcherConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MinDelayMs     int      `mapstructure:"min_delay_ms"`
	MaxDelayMs     int      `mapstructure:"max_delay_ms"`
	UserAgents     []string `mapstructure:"user_agents"`
}

// RetryConfig governs transient-failure retry scheduling.
type RetryConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffSeconds int `mapstructure:"backoff_seconds"`
}

// LimitsConfig bounds task execution and extraction output.
type LimitsConfig struct {
	SoftSeconds       int `mapstructure:"soft_seconds"`
	HardSeconds       int `mapstructure:"hard_seconds"`
	MaxLinks          int `mapstructure:"max_links"`
	MaxImages         int `mapstructure:"max_images"`
	HTMLSnapshotBytes int `mapstructure:"html_snapshot_bytes"`
}

// ResultsConfig controls result retention.
type ResultsConfig struct {
	RetentionHours int `mapstructure:"retention_hours"`
}

// ReaperConfig controls the stuck-task sweeper.
type ReaperConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METASCRAPE")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.min_delay_ms", 1000)
	v.SetDefault("fetcher.max_delay_ms", 3000)
	v.SetDefault("fetcher.user_agents", defaultUserAgents())
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_seconds", 60)
	v.SetDefault("limits.soft_seconds", 240)
	v.SetDefault("limits.hard_seconds", 300)
	v.SetDefault("limits.max_links", 100)
	v.SetDefault("limits.max_images", 50)
	v.SetDefault("limits.html_snapshot_bytes", 100000)
	v.SetDefault("results.retention_hours", 24)
	v.SetDefault("reaper.interval_seconds", 60)
	v.SetDefault("logging.development", true)
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxDelayMs < c.Fetcher.MinDelayMs {
		return fmt.Errorf("fetcher.max_delay_ms must be >= fetcher.min_delay_ms")
	}
	if len(c.Fetcher.UserAgents) == 0 {
		return fmt.Errorf("fetcher.user_agents must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Limits.HardSeconds < c.Limits.SoftSeconds {
		return fmt.Errorf("limits.hard_seconds must be >= limits.soft_seconds")
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown queue provider: %s", c.Queue.Provider)
	}
	return nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the delay applied before a transient retry.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffSeconds) * time.Second
}

// SoftLimit returns the soft per-task execution budget.
func (c Config) SoftLimit() time.Duration {
	return time.Duration(c.Limits.SoftSeconds) * time.Second
}

// HardLimit returns the hard per-task execution budget.
func (c Config) HardLimit() time.Duration {
	return time.Duration(c.Limits.HardSeconds) * time.Second
}

// ResultRetention returns how long results are kept before purging.
func (c Config) ResultRetention() time.Duration {
	return time.Duration(c.Results.RetentionHours) * time.Hour
}
