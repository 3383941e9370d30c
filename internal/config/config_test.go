package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
	if cfg.Ingestion.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.Ingestion.BatchSize, DefaultBatchSize)
	}
	if cfg.Retention.MaxBytes != DefaultMaxBytes {
		t.Errorf("MaxBytes = %d, want %d", cfg.Retention.MaxBytes, DefaultMaxBytes)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/ticks
ingestion:
  batch_size: 50
  write_interval: 2s
stream:
  ping_interval: 5s
channels:
  linear: wss://example.test/linear
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataDir != "/tmp/ticks" {
		t.Errorf("DataDir = %q, want /tmp/ticks", cfg.DataDir)
	}
	if cfg.Ingestion.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Ingestion.BatchSize)
	}
	if cfg.Ingestion.WriteInterval != 2*time.Second {
		t.Errorf("WriteInterval = %v, want 2s", cfg.Ingestion.WriteInterval)
	}
	// Untouched fields keep defaults.
	if cfg.Ingestion.QueueSize != DefaultQueueSize {
		t.Errorf("QueueSize = %d, want default %d", cfg.Ingestion.QueueSize, DefaultQueueSize)
	}
	if cfg.Stream.PingTimeout != DefaultPingTimeout {
		t.Errorf("PingTimeout = %v, want default %v", cfg.Stream.PingTimeout, DefaultPingTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want read error")
	}
	// The daemon falls back to defaults on a missing file; the sentinel
	// must survive Load's wrapping for that branch to fire.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist in chain", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data_dir", func(c *Config) { c.DataDir = "" }},
		{"zero batch_size", func(c *Config) { c.Ingestion.BatchSize = 0 }},
		{"zero write_interval", func(c *Config) { c.Ingestion.WriteInterval = 0 }},
		{"zero queue_size", func(c *Config) { c.Ingestion.QueueSize = 0 }},
		{"max_pending below batch_size", func(c *Config) { c.Ingestion.MaxPending = c.Ingestion.BatchSize - 1 }},
		{"zero backoff_floor", func(c *Config) { c.Stream.BackoffFloor = 0 }},
		{"ceiling below floor", func(c *Config) { c.Stream.BackoffCeiling = c.Stream.BackoffFloor - 1 }},
		{"zero compaction workers", func(c *Config) { c.Compaction.Workers = 0 }},
		{"zero max_bytes", func(c *Config) { c.Retention.MaxBytes = 0 }},
		{"zero check_interval", func(c *Config) { c.Retention.CheckInterval = 0 }},
		{"unknown sink format", func(c *Config) { c.Sink.Format = "orc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestChannelURL_Fallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = map[string]string{"linear": "wss://example.test/linear"}

	if got := cfg.ChannelURL("linear"); got != "wss://example.test/linear" {
		t.Errorf("ChannelURL(linear) = %q, want override", got)
	}
	if got := cfg.ChannelURL("spot"); got != DefaultChannelURLs["spot"] {
		t.Errorf("ChannelURL(spot) = %q, want built-in default", got)
	}
	if got := cfg.ChannelURL("bogus"); got != "" {
		t.Errorf("ChannelURL(bogus) = %q, want empty", got)
	}
}
