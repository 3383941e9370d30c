package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/xtxerr/tickvault/internal/router"
)

// recordCollector gathers routed records for assertions.
type recordCollector struct {
	mu   sync.Mutex
	recs []router.Record
}

func (c *recordCollector) route(rec router.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func (c *recordCollector) snapshot() []router.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]router.Record, len(c.recs))
	copy(out, c.recs)
	return out
}

func (c *recordCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

// upstream is a scripted server: it accepts, reads the subscribe request,
// sends an acknowledgement, then sends frames, then closes.
type upstream struct {
	t        *testing.T
	frames   []string
	connects atomic.Int64

	mu   sync.Mutex
	subs []string
}

func (u *upstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		u.connects.Add(1)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := json.Unmarshal(data, &req); err != nil || req.Op != "subscribe" {
			u.t.Errorf("first client frame = %s, want subscribe request", data)
			conn.Close(websocket.StatusPolicyViolation, "expected subscribe")
			return
		}
		u.mu.Lock()
		u.subs = append(u.subs, req.Args...)
		u.mu.Unlock()

		ack := `{"success":true,"op":"subscribe","conn_id":"test"}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(ack)); err != nil {
			return
		}

		for _, frame := range u.frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}

		conn.Close(websocket.StatusNormalClosure, "done")
	}
}

func (u *upstream) subscriptions() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.subs))
	copy(out, u.subs)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func testConfig(url string) Config {
	return Config{
		Group:            "linear",
		URL:              url,
		Args:             []string{"publicTrade.BTCUSDT", "orderbook.1.BTCUSDT"},
		PingInterval:     time.Hour,
		PingTimeout:      time.Second,
		SubscribeTimeout: time.Second,
		Backoff:          Backoff{Floor: 10 * time.Millisecond, Ceiling: 50 * time.Millisecond},
	}
}

func TestSupervisor_SubscribesAndRoutes(t *testing.T) {
	up := &upstream{t: t, frames: []string{
		`{"topic":"publicTrade.BTCUSDT","data":[{"p":"50000"}]}`,
		`{"topic":"orderbook.1.BTCUSDT","data":{"b":[],"a":[]}}`,
	}}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	col := &recordCollector{}
	sup := New(testConfig(srv.URL), col.route, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool { return col.count() >= 2 })
	cancel()
	<-done

	subs := up.subscriptions()
	if len(subs) < 2 {
		t.Fatalf("subscriptions = %v, want both topics", subs)
	}
	if subs[0] != "publicTrade.BTCUSDT" || subs[1] != "orderbook.1.BTCUSDT" {
		t.Errorf("subscriptions = %v, want declared order", subs[:2])
	}

	recs := col.snapshot()
	if recs[0].Topic != "publicTrade.BTCUSDT" {
		t.Errorf("first record topic = %q, want publicTrade.BTCUSDT", recs[0].Topic)
	}
	if recs[0].Group != "linear" {
		t.Errorf("first record group = %q, want linear", recs[0].Group)
	}
	if recs[1].Topic != "orderbook.1.BTCUSDT" {
		t.Errorf("second record topic = %q, want orderbook.1.BTCUSDT", recs[1].Topic)
	}
}

func TestSupervisor_TopicLessFrameRouted(t *testing.T) {
	// A frame with no topic after the subscription response still reaches
	// the router, which diverts it to the unknown-message log.
	up := &upstream{t: t, frames: []string{
		`{"topic":"tickers.BTCUSDT","data":{}}`,
		`{"op":"pong","success":true}`,
	}}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	col := &recordCollector{}
	sup := New(testConfig(srv.URL), col.route, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool { return col.count() >= 2 })
	cancel()
	<-done

	recs := col.snapshot()
	if recs[1].Topic != "" {
		t.Errorf("topic-less record Topic = %q, want empty", recs[1].Topic)
	}
}

func TestSupervisor_ReconnectsAfterClose(t *testing.T) {
	up := &upstream{t: t, frames: []string{
		`{"topic":"tickers.BTCUSDT","data":{}}`,
	}}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	col := &recordCollector{}
	sup := New(testConfig(srv.URL), col.route, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	// The scripted server closes after each session; the supervisor must
	// come back for more.
	waitFor(t, 5*time.Second, func() bool { return up.connects.Load() >= 2 })
	cancel()
	<-done

	if got := sup.Stats().Reconnects; got < 1 {
		t.Errorf("Reconnects = %d, want at least 1", got)
	}
	if got := sup.Stats().Connects; got < 2 {
		t.Errorf("Connects = %d, want at least 2", got)
	}
}

func TestSupervisor_UnreachableEndpointKeepsRetrying(t *testing.T) {
	col := &recordCollector{}
	cfg := testConfig("ws://127.0.0.1:1/nowhere")
	sup := New(cfg, col.route, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool { return sup.Stats().Reconnects >= 3 })
	cancel()
	<-done

	if got := sup.State(); got != StateDisconnected {
		t.Errorf("State() after shutdown = %v, want %v", got, StateDisconnected)
	}
}
