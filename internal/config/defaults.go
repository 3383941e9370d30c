// Package config provides the tickvault daemon configuration.
//
// This file defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory of the persisted output tree.
	// Override via config: data_dir
	DefaultDataDir = "stream_data"

	// DefaultLogsDir holds the unknown-message log.
	// Override via config: logs_dir
	DefaultLogsDir = "logs"

	// DefaultMaxBytes is the byte budget for the output tree. When exceeded,
	// the retention enforcer deletes oldest files first.
	// Override via config: retention.max_bytes
	DefaultMaxBytes = 15 * 1024 * 1024 * 1024 // 15 GiB

	// DefaultRetentionCheckInterval is how often the byte budget is checked.
	// Override via config: retention.check_interval
	DefaultRetentionCheckInterval = 10 * time.Minute

	// DefaultCompactionInterval is how often rotated files are compressed.
	// A pass also runs once at startup to catch leftovers from a crash.
	// Override via config: compaction.interval
	DefaultCompactionInterval = 24 * time.Hour

	// DefaultCompactionWorkers is the number of files compressed in parallel
	// during a compaction pass.
	// Override via config: compaction.workers
	DefaultCompactionWorkers = 4
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultBatchSize is the pending-record count that triggers an
	// immediate flush.
	// Override via config: ingestion.batch_size
	DefaultBatchSize = 100

	// DefaultWriteInterval bounds latency-to-disk under low traffic: a
	// non-empty pending buffer is flushed after this long without a new
	// record.
	// Override via config: ingestion.write_interval
	DefaultWriteInterval = time.Second

	// DefaultQueueSize is the capacity of a topic buffer's inbound queue.
	// Enqueue never blocks the network path; when the queue is full the
	// record is dropped and counted.
	// Override via config: ingestion.queue_size
	DefaultQueueSize = 1024

	// DefaultMaxPending caps the pending buffer during persistent write
	// failures. Oldest records are dropped past this point, trading data
	// loss for bounded memory.
	// Override via config: ingestion.max_pending
	DefaultMaxPending = 10000

	// DefaultLogEvery throttles write-progress logging to once per this
	// many records.
	// Override via config: ingestion.log_every
	DefaultLogEvery = 100
)

// =============================================================================
// Stream Defaults
// =============================================================================

const (
	// DefaultPingInterval is the keepalive cadence on an open connection.
	// Override via config: stream.ping_interval
	DefaultPingInterval = 20 * time.Second

	// DefaultPingTimeout bounds a single keepalive write. A ping that cannot
	// be written within this window is treated as connection death.
	// Override via config: stream.ping_timeout
	DefaultPingTimeout = 10 * time.Second

	// DefaultSubscribeTimeout bounds the wait for a subscription
	// acknowledgement. Missing the window is logged but non-fatal.
	// Override via config: stream.subscribe_timeout
	DefaultSubscribeTimeout = 10 * time.Second

	// DefaultBackoffFloor is the first reconnect delay after a failure.
	// Override via config: stream.backoff_floor
	DefaultBackoffFloor = time.Second

	// DefaultBackoffCeiling caps the doubling reconnect delay.
	// Override via config: stream.backoff_ceiling
	DefaultBackoffCeiling = 60 * time.Second
)

// =============================================================================
// Telemetry Defaults
// =============================================================================

const (
	// DefaultStatsInterval is how often the recorder logs a stats summary.
	// Override via config: telemetry.stats_interval
	DefaultStatsInterval = time.Minute
)

// DefaultChannelURLs maps each channel group to its upstream endpoint.
// Override per group via config: channels.<group>
var DefaultChannelURLs = map[string]string{
	"linear":  "wss://stream.bybit.com/v5/public/linear",
	"spot":    "wss://stream.bybit.com/v5/public/spot",
	"options": "wss://stream.bybit.com/v5/public/option",
	"inverse": "wss://stream.bybit.com/v5/public/inverse",
}
