// Package buffer implements the per-topic queue and batching writer.
//
// Each topic buffer owns a dedicated goroutine that drains a bounded
// queue, accumulates serialized records, and flushes them to the sink
// when the batch threshold is reached or the write interval elapses,
// whichever comes first. When the UTC calendar date changes mid-stream,
// the pending buffer is flushed to the old date's file before any record
// is buffered under the new date.
package buffer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tickvault/internal/clock"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/retention"
	"github.com/xtxerr/tickvault/internal/sink"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// Config holds topic buffer tuning knobs.
type Config struct {
	// BatchSize triggers an immediate flush when pending reaches it.
	BatchSize int

	// WriteInterval flushes a non-empty pending buffer after this long
	// without a new record.
	WriteInterval time.Duration

	// QueueSize is the inbound queue capacity. Enqueue never blocks; a
	// full queue drops the record.
	QueueSize int

	// MaxPending caps the pending buffer during persistent write
	// failures. Oldest records are dropped past this point.
	MaxPending int

	// LogEvery throttles write-progress logging.
	LogEvery int

	// FailurePause is how long the loop pauses after an unexpected
	// error, so a poison pill cannot wedge the buffer in a tight loop.
	// Defaults to one second.
	FailurePause time.Duration
}

// DefaultConfig returns the default buffer tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		WriteInterval: time.Second,
		QueueSize:     1024,
		MaxPending:    10000,
		LogEvery:      100,
		FailurePause:  time.Second,
	}
}

// Stats holds topic buffer statistics.
type Stats struct {
	Enqueued        atomic.Int64
	QueueDropped    atomic.Int64
	PendingDropped  atomic.Int64
	RecordsFlushed  atomic.Int64
	FlushesComplete atomic.Int64
	FlushFailures   atomic.Int64
	BytesWritten    atomic.Int64
	Rotations       atomic.Int64
}

// TopicBuffer accumulates records for one (channel group, topic) key and
// writes them to the sink in arrival order.
type TopicBuffer struct {
	group string
	topic string

	cfg     Config
	sink    sink.Sink
	ledger  *retention.Ledger
	clock   clock.Clock
	metrics *telemetry.Metrics
	log     *slog.Logger

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	stopped atomic.Bool

	// Loop-owned state; touched only by the run goroutine. carry holds
	// records received after a date boundary whose rollover flush has
	// not completed yet; they must never join pending under the old
	// date.
	pending    [][]byte
	carry      [][]byte
	activeDate string
	logCounter int

	stats Stats
}

// New creates a topic buffer. Start must be called before records flow.
func New(group, topic string, s sink.Sink, ledger *retention.Ledger, clk clock.Clock, metrics *telemetry.Metrics, cfg Config) *TopicBuffer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.WriteInterval <= 0 {
		cfg.WriteInterval = DefaultConfig().WriteInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = DefaultConfig().MaxPending
	}
	if cfg.FailurePause <= 0 {
		cfg.FailurePause = DefaultConfig().FailurePause
	}

	return &TopicBuffer{
		group:   group,
		topic:   topic,
		cfg:     cfg,
		sink:    s,
		ledger:  ledger,
		clock:   clk,
		metrics: metrics,
		log:     logging.Component("buffer").With("group", group, "topic", topic),
		queue:   make(chan []byte, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the processing loop.
func (b *TopicBuffer) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop drains the queue, performs a final flush of any non-empty pending
// buffer, and waits for the loop to exit.
func (b *TopicBuffer) Stop() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	close(b.done)
	b.wg.Wait()
}

// Enqueue hands a serialized record to the buffer. It never blocks: when
// the queue is full the record is dropped and counted, keeping the
// network-receive path decoupled from disk I/O.
func (b *TopicBuffer) Enqueue(payload []byte) bool {
	if b.stopped.Load() {
		return false
	}

	select {
	case b.queue <- payload:
		b.stats.Enqueued.Add(1)
		return true
	default:
		b.stats.QueueDropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordsDropped.WithLabelValues(b.group).Inc()
		}
		return false
	}
}

func (b *TopicBuffer) run() {
	defer b.wg.Done()

	b.activeDate = clock.UTCDate(b.clock.Now())

loop:
	for {
		// Rotation check comes before any append so the rollover flush
		// and the date advance are atomic with respect to new records.
		if !b.rotateIfNeeded() {
			// Rollover flush failed; hold the old date and retry after
			// a pause rather than writing records under the wrong day.
			if !b.pause(b.cfg.FailurePause) {
				break loop
			}
			continue
		}

		// Records held back during a failed rollover join pending only
		// once the date has advanced.
		if len(b.carry) > 0 {
			for _, payload := range b.carry {
				b.append(payload)
			}
			b.carry = b.carry[:0]
			if len(b.pending) >= b.cfg.BatchSize {
				if b.flush() != nil && !b.pause(b.cfg.FailurePause) {
					break loop
				}
			}
		}

		timeout := time.NewTimer(b.cfg.WriteInterval)

		select {
		case <-b.done:
			timeout.Stop()
			break loop

		case payload := <-b.queue:
			timeout.Stop()
			// A record received after a day change belongs to the new
			// date; rotate before appending it. When the rollover flush
			// fails the record is held aside so it can never join
			// pending, and the previous day's file, under the old date.
			if !b.rotateIfNeeded() {
				b.carry = append(b.carry, payload)
				if !b.pause(b.cfg.FailurePause) {
					break loop
				}
				continue
			}
			b.append(payload)
			if len(b.pending) >= b.cfg.BatchSize {
				if b.flush() != nil && !b.pause(b.cfg.FailurePause) {
					break loop
				}
			}

		case <-timeout.C:
			if len(b.pending) > 0 {
				if b.flush() != nil && !b.pause(b.cfg.FailurePause) {
					break loop
				}
			}
		}
	}

	// Final flush: the old day's pending first, then carried records
	// under the advanced date. Carried records are dropped, not
	// misfiled, when the rollover still cannot complete.
	b.flush()
	if len(b.carry) > 0 {
		if b.rotateIfNeeded() {
			for _, payload := range b.carry {
				b.append(payload)
			}
		} else {
			b.stats.PendingDropped.Add(int64(len(b.carry)))
			b.log.Warn("dropping records held across an incomplete rollover",
				"count", len(b.carry))
		}
		b.carry = nil
	}
	b.drain()
	b.flush()
}

// rotateIfNeeded flushes pending records to the previous date's file and
// advances the active date when the UTC day has changed. Returns false if
// the rollover flush failed and the date must not advance yet.
func (b *TopicBuffer) rotateIfNeeded() bool {
	date := clock.UTCDate(b.clock.Now())
	if date == b.activeDate {
		return true
	}

	if len(b.pending) > 0 {
		if err := b.flush(); err != nil {
			return false
		}
	}

	b.log.Info("date changed, rotating output file", "from", b.activeDate, "to", date)
	b.activeDate = date
	b.stats.Rotations.Add(1)
	return true
}

func (b *TopicBuffer) append(payload []byte) {
	b.pending = append(b.pending, payload)

	// Bounded-memory tradeoff: under persistent flush failure, drop the
	// oldest records rather than grow without limit.
	if len(b.pending) > b.cfg.MaxPending {
		over := len(b.pending) - b.cfg.MaxPending
		b.pending = b.pending[over:]
		b.stats.PendingDropped.Add(int64(over))
		if b.metrics != nil {
			b.metrics.RecordsDropped.WithLabelValues(b.group).Add(float64(over))
		}
		b.log.Warn("pending buffer over cap, dropped oldest records", "dropped", over)
	}
}

// flush appends all pending records to the active date's output file and
// clears pending on success. On failure the records are retained for the
// next cycle.
func (b *TopicBuffer) flush() error {
	if len(b.pending) == 0 {
		return nil
	}

	start := time.Now()
	n, err := b.sink.Append(b.group, b.topic, b.activeDate, b.pending)
	if err != nil {
		b.stats.FlushFailures.Add(1)
		if b.metrics != nil {
			b.metrics.FlushFailures.Inc()
		}
		b.log.Error("flush failed, retaining records", "error", err,
			"pending", len(b.pending))
		return err
	}

	flushed := len(b.pending)
	b.pending = b.pending[:0]

	if b.ledger != nil {
		b.ledger.Add(n)
	}
	b.stats.RecordsFlushed.Add(int64(flushed))
	b.stats.FlushesComplete.Add(1)
	b.stats.BytesWritten.Add(n)
	if b.metrics != nil {
		b.metrics.Flushes.Inc()
		b.metrics.BytesWritten.Add(float64(n))
		b.metrics.ObserveFlushLatency(time.Since(start))
	}

	b.logCounter += flushed
	if b.cfg.LogEvery > 0 && b.logCounter >= b.cfg.LogEvery {
		b.log.Info("written records", "count", b.logCounter, "date", b.activeDate)
		b.logCounter = 0
	}

	return nil
}

// drain moves any queued records into pending without blocking.
func (b *TopicBuffer) drain() {
	for {
		select {
		case payload := <-b.queue:
			b.append(payload)
		default:
			return
		}
	}
}

// pause sleeps for d unless the buffer is stopped first. Returns false
// when the buffer is stopping.
func (b *TopicBuffer) pause(d time.Duration) bool {
	select {
	case <-b.done:
		return false
	case <-time.After(d):
		return true
	}
}

// Stats returns a snapshot of buffer statistics.
func (b *TopicBuffer) Stats() BufferStats {
	return BufferStats{
		Enqueued:        b.stats.Enqueued.Load(),
		QueueDropped:    b.stats.QueueDropped.Load(),
		PendingDropped:  b.stats.PendingDropped.Load(),
		RecordsFlushed:  b.stats.RecordsFlushed.Load(),
		FlushesComplete: b.stats.FlushesComplete.Load(),
		FlushFailures:   b.stats.FlushFailures.Load(),
		BytesWritten:    b.stats.BytesWritten.Load(),
		Rotations:       b.stats.Rotations.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Enqueued        int64
	QueueDropped    int64
	PendingDropped  int64
	RecordsFlushed  int64
	FlushesComplete int64
	FlushFailures   int64
	BytesWritten    int64
	Rotations       int64
}
