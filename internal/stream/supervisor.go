// Package stream maintains indefinitely-retried live subscriptions to the
// upstream websocket feed, one supervisor per channel group.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/router"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// State is the connection lifecycle phase of a supervisor.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// maxFrameSize bounds a single inbound frame. Orderbook snapshots on the
// deepest levels stay well under this.
const maxFrameSize = 1 << 22 // 4 MiB

// Config holds one supervisor's parameters.
type Config struct {
	// Group is the channel group this supervisor serves.
	Group string

	// URL is the upstream endpoint.
	URL string

	// Args is the fixed list of subscription topic strings.
	Args []string

	// PingInterval is the keepalive cadence.
	PingInterval time.Duration

	// PingTimeout bounds a single keepalive write.
	PingTimeout time.Duration

	// SubscribeTimeout bounds the wait for a subscription acknowledgement.
	SubscribeTimeout time.Duration

	// Backoff is the reconnect delay policy.
	Backoff Backoff
}

// request is the upstream operation envelope for subscribe and ping.
type request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// envelope is the minimal shape extracted from every inbound frame.
type envelope struct {
	Topic string `json:"topic"`
}

// Supervisor owns one logical subscription: it connects, subscribes,
// keeps the connection alive, and feeds inbound messages to the router.
// Transport faults are never fatal; the supervisor reconnects with
// exponential backoff until its context is cancelled.
type Supervisor struct {
	cfg     Config
	route   func(router.Record)
	metrics *telemetry.Metrics
	log     *slog.Logger

	state atomic.Int32

	stats SupervisorStats
}

// SupervisorStats holds supervisor counters.
type SupervisorStats struct {
	Connects        atomic.Int64
	Reconnects      atomic.Int64
	MessagesRouted  atomic.Int64
	DecodeFailures  atomic.Int64
	PingsSent       atomic.Int64
	TransportFaults atomic.Int64
}

// New creates a supervisor. route receives every routable inbound record;
// records without a topic carry an empty Topic and are diverted by the
// router to the unknown-message log.
func New(cfg Config, route func(router.Record), metrics *telemetry.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		route:   route,
		metrics: metrics,
		log:     logging.Component("stream").With("group", cfg.Group),
	}
}

// Group returns the channel group this supervisor serves.
func (s *Supervisor) Group() string {
	return s.cfg.Group
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// Run maintains the subscription until ctx is cancelled. It never returns
// an error: every transport fault is retried after a backoff delay.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.cfg.Backoff

	for ctx.Err() == nil {
		err := s.connectAndListen(ctx, &backoff)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}

		s.stats.TransportFaults.Add(1)
		s.stats.Reconnects.Add(1)
		if s.metrics != nil {
			s.metrics.Reconnects.WithLabelValues(s.cfg.Group).Inc()
		}

		delay := backoff.Next()
		s.log.Warn("connection lost, reconnecting", "error", err, "backoff", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndListen runs one connection lifetime: dial, subscribe, pump
// messages. It returns when the connection dies or ctx is cancelled.
func (s *Supervisor) connectAndListen(ctx context.Context, backoff *Backoff) error {
	s.setState(StateConnecting)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.Dial(connCtx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxFrameSize)
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	s.stats.Connects.Add(1)
	s.log.Info("connected", "url", s.cfg.URL)

	if err := s.subscribe(connCtx, conn); err != nil {
		return err
	}
	s.setState(StateSubscribed)

	// The acknowledgement wait is bounded but non-fatal: a timer logs
	// the miss without interrupting the read loop, because cancelling a
	// read context would close the connection while the stream may still
	// flow.
	acked := make(chan struct{})
	ackTimer := time.AfterFunc(s.cfg.SubscribeTimeout, func() {
		select {
		case <-acked:
		default:
			s.log.Warn("no subscription acknowledgement within timeout")
		}
	})
	defer ackTimer.Stop()

	// Keepalive runs beside the read loop; a failed ping cancels connCtx
	// which unblocks the read and tears the connection down.
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.keepalive(connCtx, cancel, conn)
	}()
	defer func() { cancel(); <-pingDone }()

	streaming := false
	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}

		if !streaming {
			// First successful read is the streaming transition; only
			// here does the backoff reset to its floor.
			streaming = true
			close(acked)
			ackTimer.Stop()
			s.setState(StateStreaming)
			backoff.Reset()

			// The first frame is usually the subscription response; it
			// carries no topic and is diverted by handleFrame's routing.
			var env envelope
			if json.Unmarshal(data, &env) == nil && env.Topic == "" {
				s.log.Info("subscription response", "response", string(data))
				continue
			}
		}

		s.handleFrame(data)
	}
}

// subscribe sends the subscription request listing all topics for the
// group.
func (s *Supervisor) subscribe(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(request{Op: "subscribe", Args: s.cfg.Args})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return err
	}
	s.log.Info("subscribe request sent", "topics", len(s.cfg.Args))
	return nil
}

// keepalive sends a ping every PingInterval. A write failure is treated
// as connection death: the connection context is cancelled.
func (s *Supervisor) keepalive(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	payload, _ := json.Marshal(request{Op: "ping"})

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeCtx, done := context.WithTimeout(ctx, s.cfg.PingTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			done()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("keepalive failed, tearing connection down", "error", err)
				}
				cancel()
				return
			}
			s.stats.PingsSent.Add(1)
			s.log.Debug("keepalive sent")
		}
	}
}

// handleFrame parses one inbound frame and routes it. A parse failure
// drops the single message and does not affect stream health.
func (s *Supervisor) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.stats.DecodeFailures.Add(1)
		if s.metrics != nil {
			s.metrics.DecodeFailures.WithLabelValues(s.cfg.Group).Inc()
		}
		s.log.Warn("dropping unparseable frame", "error", err, "bytes", len(data))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordsReceived.WithLabelValues(s.cfg.Group).Inc()
	}
	s.stats.MessagesRouted.Add(1)

	// The payload buffer is owned by the receiving topic buffer from here.
	s.route(router.Record{Group: s.cfg.Group, Topic: env.Topic, Payload: data})
}

// Stats returns a snapshot of supervisor counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		State:           s.State().String(),
		Connects:        s.stats.Connects.Load(),
		Reconnects:      s.stats.Reconnects.Load(),
		MessagesRouted:  s.stats.MessagesRouted.Load(),
		DecodeFailures:  s.stats.DecodeFailures.Load(),
		PingsSent:       s.stats.PingsSent.Load(),
		TransportFaults: s.stats.TransportFaults.Load(),
	}
}

// Stats holds a supervisor counter snapshot.
type Stats struct {
	State           string
	Connects        int64
	Reconnects      int64
	MessagesRouted  int64
	DecodeFailures  int64
	PingsSent       int64
	TransportFaults int64
}
