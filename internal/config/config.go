package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir is the root directory of the persisted output tree.
	DataDir string `yaml:"data_dir"`

	// LogsDir holds side-channel output (the unknown-message log).
	LogsDir string `yaml:"logs_dir"`

	// ManifestFile is the subscription manifest path.
	ManifestFile string `yaml:"manifest_file"`

	// Channels maps channel groups to endpoint URLs. Groups absent here
	// fall back to DefaultChannelURLs.
	Channels map[string]string `yaml:"channels"`

	// Ingestion configures the per-topic buffering writers.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Stream configures connection supervision.
	Stream StreamConfig `yaml:"stream"`

	// Compaction configures background compression of rotated files.
	Compaction CompactionConfig `yaml:"compaction"`

	// Retention configures the byte budget enforcement.
	Retention RetentionConfig `yaml:"retention"`

	// Sink configures the persistence format.
	Sink SinkConfig `yaml:"sink"`

	// Telemetry configures metrics and stats reporting.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// IngestionConfig configures the per-topic buffering writers.
type IngestionConfig struct {
	// BatchSize triggers an immediate flush when pending reaches it.
	BatchSize int `yaml:"batch_size"`

	// WriteInterval flushes a non-empty pending buffer after this long
	// without a new record.
	WriteInterval time.Duration `yaml:"write_interval"`

	// QueueSize is the per-topic inbound queue capacity.
	QueueSize int `yaml:"queue_size"`

	// MaxPending caps the pending buffer during persistent write failures.
	MaxPending int `yaml:"max_pending"`

	// LogEvery throttles write-progress logging.
	LogEvery int `yaml:"log_every"`
}

// StreamConfig configures connection supervision.
type StreamConfig struct {
	// PingInterval is the keepalive cadence.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PingTimeout bounds a single keepalive write.
	PingTimeout time.Duration `yaml:"ping_timeout"`

	// SubscribeTimeout bounds the wait for a subscription acknowledgement.
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`

	// BackoffFloor is the first reconnect delay.
	BackoffFloor time.Duration `yaml:"backoff_floor"`

	// BackoffCeiling caps the doubling reconnect delay.
	BackoffCeiling time.Duration `yaml:"backoff_ceiling"`
}

// CompactionConfig configures background compression of rotated files.
type CompactionConfig struct {
	// Interval is the pass period.
	Interval time.Duration `yaml:"interval"`

	// Workers is the number of files compressed in parallel.
	Workers int `yaml:"workers"`
}

// RetentionConfig configures the byte budget enforcement.
type RetentionConfig struct {
	// MaxBytes is the output tree byte budget.
	MaxBytes int64 `yaml:"max_bytes"`

	// CheckInterval is the enforcement pass period.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// SinkConfig configures the persistence format.
type SinkConfig struct {
	// Format selects the sink: "csv" (line-delimited, gzip-compacted)
	// or "parquet" (columnar part files, compressed at write time).
	Format string `yaml:"format"`
}

// TelemetryConfig configures metrics and stats reporting.
type TelemetryConfig struct {
	// Listen, when non-empty, serves Prometheus metrics on this address.
	Listen string `yaml:"listen"`

	// StatsInterval is how often a stats summary is logged.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      DefaultDataDir,
		LogsDir:      DefaultLogsDir,
		ManifestFile: "manifest.yaml",
		Ingestion: IngestionConfig{
			BatchSize:     DefaultBatchSize,
			WriteInterval: DefaultWriteInterval,
			QueueSize:     DefaultQueueSize,
			MaxPending:    DefaultMaxPending,
			LogEvery:      DefaultLogEvery,
		},
		Stream: StreamConfig{
			PingInterval:     DefaultPingInterval,
			PingTimeout:      DefaultPingTimeout,
			SubscribeTimeout: DefaultSubscribeTimeout,
			BackoffFloor:     DefaultBackoffFloor,
			BackoffCeiling:   DefaultBackoffCeiling,
		},
		Compaction: CompactionConfig{
			Interval: DefaultCompactionInterval,
			Workers:  DefaultCompactionWorkers,
		},
		Retention: RetentionConfig{
			MaxBytes:      DefaultMaxBytes,
			CheckInterval: DefaultRetentionCheckInterval,
		},
		Sink: SinkConfig{
			Format: "csv",
		},
		Telemetry: TelemetryConfig{
			StatsInterval: DefaultStatsInterval,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive, got %d", c.Ingestion.BatchSize)
	}
	if c.Ingestion.WriteInterval <= 0 {
		return fmt.Errorf("ingestion.write_interval must be positive, got %s", c.Ingestion.WriteInterval)
	}
	if c.Ingestion.QueueSize <= 0 {
		return fmt.Errorf("ingestion.queue_size must be positive, got %d", c.Ingestion.QueueSize)
	}
	if c.Ingestion.MaxPending < c.Ingestion.BatchSize {
		return fmt.Errorf("ingestion.max_pending (%d) must be at least batch_size (%d)",
			c.Ingestion.MaxPending, c.Ingestion.BatchSize)
	}
	if c.Stream.BackoffFloor <= 0 {
		return fmt.Errorf("stream.backoff_floor must be positive, got %s", c.Stream.BackoffFloor)
	}
	if c.Stream.BackoffCeiling < c.Stream.BackoffFloor {
		return fmt.Errorf("stream.backoff_ceiling (%s) must be at least backoff_floor (%s)",
			c.Stream.BackoffCeiling, c.Stream.BackoffFloor)
	}
	if c.Compaction.Workers <= 0 {
		return fmt.Errorf("compaction.workers must be positive, got %d", c.Compaction.Workers)
	}
	if c.Retention.MaxBytes <= 0 {
		return fmt.Errorf("retention.max_bytes must be positive, got %d", c.Retention.MaxBytes)
	}
	if c.Retention.CheckInterval <= 0 {
		return fmt.Errorf("retention.check_interval must be positive, got %s", c.Retention.CheckInterval)
	}
	switch c.Sink.Format {
	case "", "csv", "parquet":
	default:
		return fmt.Errorf("sink.format must be csv or parquet, got %q", c.Sink.Format)
	}
	return nil
}

// ChannelURL returns the endpoint URL for a channel group, falling back to
// the built-in defaults. Returns "" for an unknown group.
func (c *Config) ChannelURL(group string) string {
	if url, ok := c.Channels[group]; ok {
		return url
	}
	return DefaultChannelURLs[group]
}
