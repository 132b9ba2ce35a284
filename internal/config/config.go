// Package config loads and validates pipeline configuration.
//
// Defaults are applied by viper, overridden by an optional YAML file, then by
// VEILPIPE_* environment variables. The resulting structs are validated once
// at load time and treated as immutable afterwards.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Quality    QualityConfig    `mapstructure:"quality"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type SourceConfig struct {
	// Mode selects the adapter: "cdc", "bulk" or "synthetic".
	Mode            string        `mapstructure:"mode"`
	Label           string        `mapstructure:"label"`
	DSN             string        `mapstructure:"dsn"`
	ChangeTable     string        `mapstructure:"change_table"`
	ExtractTable    string        `mapstructure:"extract_table"`
	WatermarkColumn string        `mapstructure:"watermark_column"`
	SchemaTag       string        `mapstructure:"schema_tag"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollBatch    int           `mapstructure:"max_poll_batch"`
	InitialPosition int64         `mapstructure:"initial_position"`
	FilterRulesPath string        `mapstructure:"filter_rules_path"`
}

type BufferConfig struct {
	// Capacity is the hard queue bound. BackpressureThreshold is where new
	// submissions start blocking or being rejected; retries and replays may
	// use the headroom between the two.
	Capacity              int           `mapstructure:"capacity"`
	BackpressureThreshold int           `mapstructure:"backpressure_threshold"`
	DedupWindow           time.Duration `mapstructure:"dedup_window"`
	SubmitTimeout         time.Duration `mapstructure:"submit_timeout"`
}

type SchedulerConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type ExecutorConfig struct {
	ConcurrencyLimit int           `mapstructure:"concurrency_limit"`
	RecordTimeout    time.Duration `mapstructure:"record_timeout"`
}

type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
}

type QualityConfig struct {
	MinScore float64 `mapstructure:"min_score"`
}

type ComplianceConfig struct {
	Regulations []string `mapstructure:"regulations"`
}

type DLQConfig struct {
	Backend  string `mapstructure:"backend"` // "file", "jetstream" or "postgres"
	BasePath string `mapstructure:"base_path"`
	NatsURL  string `mapstructure:"nats_url"`
	DSN      string `mapstructure:"dsn"`
}

type CheckpointConfig struct {
	Backend    string        `mapstructure:"backend"` // "file", "redis" or "postgres"
	Path       string        `mapstructure:"path"`
	RedisURL   string        `mapstructure:"redis_url"`
	DSN        string        `mapstructure:"dsn"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

type SinkConfig struct {
	Backend       string `mapstructure:"backend"` // "opensearch" or "log"
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix   string `mapstructure:"index_prefix"`
}

type NotifierConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NatsURL string `mapstructure:"nats_url"`
}

type MonitorConfig struct {
	Window       time.Duration `mapstructure:"window"`
	MaxErrorRate float64       `mapstructure:"max_error_rate"`
	MaxLatency   time.Duration `mapstructure:"max_latency"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("source.mode", "cdc")
	v.SetDefault("source.label", "primary")
	v.SetDefault("source.change_table", "change_log")
	v.SetDefault("source.watermark_column", "updated_at")
	v.SetDefault("source.schema_tag", "v1")
	v.SetDefault("source.poll_interval", "1s")
	v.SetDefault("source.max_poll_batch", 500)
	v.SetDefault("source.initial_position", 0)
	v.SetDefault("buffer.capacity", 10000)
	v.SetDefault("buffer.backpressure_threshold", 8000)
	v.SetDefault("buffer.dedup_window", "5m")
	v.SetDefault("buffer.submit_timeout", "5s")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.max_wait", "5s")
	v.SetDefault("scheduler.check_interval", "250ms")
	v.SetDefault("executor.concurrency_limit", 8)
	v.SetDefault("executor.record_timeout", "30s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "500ms")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("quality.min_score", 0.7)
	v.SetDefault("compliance.regulations", []string{"gdpr"})
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "/var/lib/veilpipe/dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.path", "/var/lib/veilpipe/checkpoints")
	v.SetDefault("checkpoint.redis_url", "redis://localhost:6379/0")
	v.SetDefault("checkpoint.interval", "10s")
	v.SetDefault("checkpoint.max_history", 10)
	v.SetDefault("sink.backend", "log")
	v.SetDefault("sink.url", "https://localhost:9200")
	v.SetDefault("sink.username", "admin")
	v.SetDefault("sink.tls_skip_verify", true)
	v.SetDefault("sink.index_prefix", "veilpipe-records")
	v.SetDefault("notifier.enabled", false)
	v.SetDefault("notifier.nats_url", "nats://localhost:4222")
	v.SetDefault("monitor.window", "1m")
	v.SetDefault("monitor.max_error_rate", 0.1)
	v.SetDefault("monitor.max_latency", "10s")
	v.SetDefault("server.port", 8098)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/veilpipe")
	}

	// Environment variables override
	v.SetEnvPrefix("VEILPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints. A validation failure is a
// ConfigurationError: fatal, the service must not start.
func (c *Config) Validate() error {
	switch c.Source.Mode {
	case "cdc", "bulk", "synthetic":
	default:
		return fmt.Errorf("source.mode must be cdc, bulk or synthetic, got %q", c.Source.Mode)
	}
	if c.Source.MaxPollBatch <= 0 {
		return fmt.Errorf("source.max_poll_batch must be positive")
	}
	if c.Buffer.Capacity <= 0 {
		return fmt.Errorf("buffer.capacity must be positive")
	}
	if c.Buffer.BackpressureThreshold <= 0 || c.Buffer.BackpressureThreshold > c.Buffer.Capacity {
		return fmt.Errorf("buffer.backpressure_threshold must be in (0, capacity]")
	}
	if c.Buffer.DedupWindow <= 0 {
		return fmt.Errorf("buffer.dedup_window must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Scheduler.MaxWait <= 0 {
		return fmt.Errorf("scheduler.max_wait must be positive")
	}
	if c.Executor.ConcurrencyLimit <= 0 {
		return fmt.Errorf("executor.concurrency_limit must be positive")
	}
	if c.Executor.RecordTimeout <= 0 {
		return fmt.Errorf("executor.record_timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay")
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 1 {
		return fmt.Errorf("quality.min_score must be in [0, 1]")
	}
	if c.Checkpoint.MaxHistory <= 0 {
		return fmt.Errorf("checkpoint.max_history must be positive")
	}
	return nil
}
