// Package recorder wires the streaming, routing, persistence, compaction
// and retention components into one runnable service.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tickvault/internal/buffer"
	"github.com/xtxerr/tickvault/internal/clock"
	"github.com/xtxerr/tickvault/internal/compact"
	"github.com/xtxerr/tickvault/internal/config"
	apperrors "github.com/xtxerr/tickvault/internal/errors"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/manifest"
	"github.com/xtxerr/tickvault/internal/retention"
	"github.com/xtxerr/tickvault/internal/router"
	"github.com/xtxerr/tickvault/internal/sink"
	"github.com/xtxerr/tickvault/internal/stream"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// Service orchestrates one recording session: a supervisor per channel
// group feeding a shared router, plus the background compaction and
// retention loops over the output tree.
type Service struct {
	cfg      *config.Config
	manifest manifest.Manifest

	clock   clock.Clock
	ledger  *retention.Ledger
	metrics *telemetry.Metrics
	sink    sink.Sink
	unknown *router.UnknownLog
	router  *router.Router

	compactor   *compact.Compactor
	enforcer    *retention.Enforcer
	supervisors []*stream.Supervisor

	httpServer *http.Server

	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	log *slog.Logger
}

// New builds a service from validated configuration and a validated
// subscription manifest. Every channel group in the manifest must resolve
// to an endpoint URL.
func New(cfg *config.Config, m manifest.Manifest) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	clk := clock.System{}
	ledger := &retention.Ledger{}
	metrics := telemetry.New()

	var snk sink.Sink
	switch cfg.Sink.Format {
	case "parquet":
		snk = sink.NewParquetSink(cfg.DataDir)
	default:
		snk = sink.NewLineSink(cfg.DataDir)
	}

	unknown, err := router.OpenUnknownLog(filepath.Join(cfg.LogsDir, "unknown.log"))
	if err != nil {
		return nil, fmt.Errorf("open unknown-message log: %w", err)
	}

	bufCfg := buffer.Config{
		BatchSize:     cfg.Ingestion.BatchSize,
		WriteInterval: cfg.Ingestion.WriteInterval,
		QueueSize:     cfg.Ingestion.QueueSize,
		MaxPending:    cfg.Ingestion.MaxPending,
		LogEvery:      cfg.Ingestion.LogEvery,
	}
	newBuffer := func(group, topic string) *buffer.TopicBuffer {
		return buffer.New(group, topic, snk, ledger, clk, metrics, bufCfg)
	}
	rt := router.New(newBuffer, unknown, metrics)

	svc := &Service{
		cfg:      cfg,
		manifest: m,
		clock:    clk,
		ledger:   ledger,
		metrics:  metrics,
		sink:     snk,
		unknown:  unknown,
		router:   rt,
		compactor: compact.New(cfg.DataDir, snk.Ext(), cfg.Compaction.Interval,
			cfg.Compaction.Workers, ledger, clk, metrics),
		enforcer: retention.New(cfg.DataDir, cfg.Retention.MaxBytes,
			cfg.Retention.CheckInterval, ledger, clk, metrics),
		log: logging.Component("recorder"),
	}

	for _, group := range m.Groups() {
		url := cfg.ChannelURL(group)
		if url == "" {
			unknown.Close()
			return nil, fmt.Errorf("channel group %q: %w", group, apperrors.ErrChannelURL)
		}
		sup := stream.New(stream.Config{
			Group:            group,
			URL:              url,
			Args:             m.Args(group),
			PingInterval:     cfg.Stream.PingInterval,
			PingTimeout:      cfg.Stream.PingTimeout,
			SubscribeTimeout: cfg.Stream.SubscribeTimeout,
			Backoff: stream.Backoff{
				Floor:   cfg.Stream.BackoffFloor,
				Ceiling: cfg.Stream.BackoffCeiling,
			},
		}, rt.Route, metrics)
		svc.supervisors = append(svc.supervisors, sup)
	}

	return svc, nil
}

// Start brings the service up: the ledger is seeded from disk, background
// loops launch, and one supervisor per channel group begins connecting.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("service already running")
	}
	s.startTime = s.clock.Now()

	total, err := s.ledger.Reconcile(s.cfg.DataDir)
	if err != nil {
		s.log.Warn("initial ledger reconcile incomplete", "error", err)
	}
	s.log.Info("starting", "groups", len(s.supervisors),
		"data_dir", s.cfg.DataDir, "disk_bytes", total,
		"sink", s.cfg.Sink.Format)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.compactor.Start()
	s.enforcer.Start()

	for _, sup := range s.supervisors {
		sup := sup
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sup.Run(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statsLoop(ctx)
	}()

	if s.cfg.Telemetry.Listen != "" {
		s.serveMetrics()
	}

	return nil
}

// Stop shuts the service down in dependency order: supervisors first so
// no new records arrive, then the router so every buffer takes a final
// flush, then the background loops.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("stopping")

	s.cancel()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	s.wg.Wait()

	s.router.Stop()
	s.compactor.Stop()
	s.enforcer.Stop()

	s.log.Info("stopped", "uptime", s.clock.Now().Sub(s.startTime).Round(time.Second))
}

// Router exposes the record router, mainly for tests that inject frames
// without a live upstream.
func (s *Service) Router() *router.Router {
	return s.router
}

// serveMetrics starts the Prometheus endpoint. A listen failure is logged
// and the service keeps running without it.
func (s *Service) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.cfg.Telemetry.Listen,
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("metrics endpoint listening", "addr", s.cfg.Telemetry.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics endpoint failed", "error", err)
		}
	}()
}

// statsLoop logs a periodic activity summary.
func (s *Service) statsLoop(ctx context.Context) {
	interval := s.cfg.Telemetry.StatsInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	var routed, dropped int64
	for _, b := range s.router.Buffers() {
		st := b.Stats()
		routed += st.Enqueued
		dropped += st.QueueDropped + st.PendingDropped
	}

	attrs := []any{
		"uptime", s.clock.Now().Sub(s.startTime).Round(time.Second),
		"buffers", len(s.router.Buffers()),
		"records_buffered", routed,
		"records_dropped", dropped,
		"disk_bytes", s.ledger.Total(),
	}
	if p50, p99, ok := s.metrics.FlushLatency(); ok {
		attrs = append(attrs, "flush_p50_ms", fmt.Sprintf("%.2f", p50*1000),
			"flush_p99_ms", fmt.Sprintf("%.2f", p99*1000))
	}
	for _, sup := range s.supervisors {
		st := sup.Stats()
		attrs = append(attrs,
			"state_"+sup.Group(), sup.State().String(),
			"routed_"+sup.Group(), st.MessagesRouted)
	}

	s.log.Info("activity", attrs...)
}
