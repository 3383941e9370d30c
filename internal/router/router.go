// Package router classifies inbound stream messages by topic and hands
// them to per-topic buffers, creating each buffer on first sight.
package router

import (
	"log/slog"
	"sync"

	"github.com/xtxerr/tickvault/internal/buffer"
	"github.com/xtxerr/tickvault/internal/logging"
	"github.com/xtxerr/tickvault/internal/telemetry"
)

// UnknownTopic is the sentinel value upstream uses for frames without a
// routable topic.
const UnknownTopic = "unknown"

// Record is one inbound message: the verbatim frame text plus the routing
// key extracted from it. The payload is owned by the receiving topic
// buffer once routed.
type Record struct {
	Group   string
	Topic   string
	Payload []byte
}

// Key uniquely identifies a topic buffer for the process lifetime.
type Key struct {
	Group string
	Topic string
}

// Router owns the registry mapping topic keys to buffers. Buffer creation
// is lazy and race-safe: at most one buffer exists per key no matter how
// many goroutines deliver its first message concurrently.
type Router struct {
	mu      sync.Mutex
	buffers map[Key]*buffer.TopicBuffer

	newBuffer func(group, topic string) *buffer.TopicBuffer
	unknown   *UnknownLog
	metrics   *telemetry.Metrics
	log       *slog.Logger
}

// New creates a router. newBuffer constructs a topic buffer for a key on
// first arrival; the router starts it. unknown receives unroutable frames.
func New(newBuffer func(group, topic string) *buffer.TopicBuffer, unknown *UnknownLog, metrics *telemetry.Metrics) *Router {
	return &Router{
		buffers:   make(map[Key]*buffer.TopicBuffer),
		newBuffer: newBuffer,
		unknown:   unknown,
		metrics:   metrics,
		log:       logging.Component("router"),
	}
}

// Route delivers one record to its topic buffer, creating the buffer on
// first sight. Records without a usable topic go to the unknown-message
// log instead.
func (r *Router) Route(rec Record) {
	if rec.Topic == "" || rec.Topic == UnknownTopic {
		if r.metrics != nil {
			r.metrics.UnknownMessages.Inc()
		}
		if r.unknown != nil {
			if err := r.unknown.Write(rec.Payload); err != nil {
				r.log.Warn("unknown-message log write failed", "error", err)
			}
		}
		return
	}

	r.buffer(rec.Group, rec.Topic).Enqueue(rec.Payload)
}

// buffer returns the topic buffer for a key, creating and starting it
// under the registry lock on first arrival.
func (r *Router) buffer(group, topic string) *buffer.TopicBuffer {
	key := Key{Group: group, Topic: topic}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buffers[key]; ok {
		return b
	}

	b := r.newBuffer(group, topic)
	b.Start()
	r.buffers[key] = b
	r.log.Info("topic buffer created", "group", group, "topic", topic)
	return b
}

// Buffers returns a snapshot of all live topic buffers.
func (r *Router) Buffers() []*buffer.TopicBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*buffer.TopicBuffer, 0, len(r.buffers))
	for _, b := range r.buffers {
		out = append(out, b)
	}
	return out
}

// Stop stops all topic buffers (each performs a final flush) and closes
// the unknown-message log.
func (r *Router) Stop() {
	r.mu.Lock()
	buffers := make([]*buffer.TopicBuffer, 0, len(r.buffers))
	for _, b := range r.buffers {
		buffers = append(buffers, b)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range buffers {
		wg.Add(1)
		go func(b *buffer.TopicBuffer) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()

	if r.unknown != nil {
		r.unknown.Close()
	}
}
