// Package telemetry provides process metrics for the recorder.
//
// Counters are registered on a private Prometheus registry so tests can
// create independent instances. When a listen address is configured, the
// registry is served via promhttp; otherwise the counters still back the
// periodic stats summary logged by the recorder. Flush latency is tracked
// in a DDSketch for cheap percentile reporting.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sketchAccuracy is the DDSketch relative accuracy (1% error).
const sketchAccuracy = 0.01

// Metrics holds all recorder counters.
type Metrics struct {
	registry *prometheus.Registry

	RecordsReceived *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	UnknownMessages prometheus.Counter
	DecodeFailures  *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec

	Flushes       prometheus.Counter
	FlushFailures prometheus.Counter
	BytesWritten  prometheus.Counter

	FilesCompacted prometheus.Counter
	FilesEvicted   prometheus.Counter
	BytesEvicted   prometheus.Counter

	mu          sync.Mutex
	flushSketch *ddsketch.DDSketch
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RecordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_records_received_total",
			Help: "Records received from the upstream stream, per channel group",
		}, []string{"group"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_records_dropped_total",
			Help: "Records dropped due to queue or pending overflow, per channel group",
		}, []string{"group"}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_unknown_messages_total",
			Help: "Structurally valid frames lacking a routable topic",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_decode_failures_total",
			Help: "Inbound frames dropped because they failed to parse, per channel group",
		}, []string{"group"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickvault_reconnects_total",
			Help: "Reconnect attempts after a transport fault, per channel group",
		}, []string{"group"}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_flushes_total",
			Help: "Completed buffer flushes",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_flush_failures_total",
			Help: "Buffer flushes that failed and were retained for retry",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_bytes_written_total",
			Help: "Bytes appended to the output tree",
		}),
		FilesCompacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_files_compacted_total",
			Help: "Rotated files compressed by the compactor",
		}),
		FilesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_files_evicted_total",
			Help: "Files deleted by the retention enforcer",
		}),
		BytesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickvault_bytes_evicted_total",
			Help: "Bytes freed by the retention enforcer",
		}),
	}

	reg.MustRegister(
		m.RecordsReceived, m.RecordsDropped, m.UnknownMessages,
		m.DecodeFailures, m.Reconnects,
		m.Flushes, m.FlushFailures, m.BytesWritten,
		m.FilesCompacted, m.FilesEvicted, m.BytesEvicted,
	)

	if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
		m.flushSketch = sketch
	}

	return m
}

// ObserveFlushLatency records one flush duration in the latency sketch.
func (m *Metrics) ObserveFlushLatency(d time.Duration) {
	if m.flushSketch == nil {
		return
	}
	m.mu.Lock()
	m.flushSketch.Add(d.Seconds())
	m.mu.Unlock()
}

// FlushLatency returns the p50 and p99 flush latency in seconds.
// ok is false when no flushes have been observed yet.
func (m *Metrics) FlushLatency() (p50, p99 float64, ok bool) {
	if m.flushSketch == nil {
		return 0, 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flushSketch.GetCount() == 0 {
		return 0, 0, false
	}
	p50, err1 := m.flushSketch.GetValueAtQuantile(0.50)
	p99, err2 := m.flushSketch.GetValueAtQuantile(0.99)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return p50, p99, true
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
