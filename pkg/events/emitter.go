// Package events multiplexes agent events to memory, the durable store, and
// connected SSE clients, in that order.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

// clientQueueCapacity bounds each SSE client's frame queue. A client that
// cannot keep up overflows its queue and is dropped from the fan-out set.
const clientQueueCapacity = 200

// frameCounter is the process-wide monotonic SSE frame id sequence. A single
// sequence (not per-workspace) lets clients dedupe with a bounded set of
// plain ids.
var frameCounter atomic.Int64

// NextFrameID returns the next process-wide SSE frame id.
func NextFrameID() int64 { return frameCounter.Add(1) }

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debugdash_events_emitted_total",
		Help: "Agent events emitted, by event type.",
	}, []string{"type"})
	clientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debugdash_sse_clients_dropped_total",
		Help: "SSE clients dropped because their queue overflowed.",
	})
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "debugdash_sse_clients",
		Help: "Currently connected SSE clients.",
	})
)

// Frame is one outbound SSE frame: a monotonic id plus the pre-marshaled
// wire event.
type Frame struct {
	ID      int64
	Payload []byte
}

// Client is one registered SSE consumer. Frames delivers until the client is
// dropped or unregistered, after which the channel is closed.
type Client struct {
	frames chan Frame
}

// Frames returns the client's receive channel.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Recorder is the in-memory layer the emitter records into (agent.Memory).
type Recorder interface {
	RecordEvent(agent.Event)
}

// Emitter fans one workspace's events out to memory, the durable store, and
// every connected SSE client. The worker goroutine is the only caller of
// Emit; client registration happens on HTTP request goroutines under the
// mutex.
type Emitter struct {
	workspaceID string
	memory      Recorder
	store       *storage.Store

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewEmitter creates an emitter for a workspace.
func NewEmitter(workspaceID string, memory Recorder, store *storage.Store) *Emitter {
	return &Emitter{
		workspaceID: workspaceID,
		memory:      memory,
		store:       store,
		clients:     make(map[*Client]struct{}),
	}
}

// Emit delivers an event to memory → store → SSE clients, in that order.
// Store failures are logged and do not stop delivery. Every persisted event
// gets exactly one durable row; each live client receives at most one copy.
func (e *Emitter) Emit(ev agent.Event) {
	eventsEmitted.WithLabelValues(string(ev.Type)).Inc()

	e.memory.RecordEvent(ev)

	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		slog.Warn("Failed to marshal event data", "type", ev.Type, "error", err)
		dataJSON = []byte("{}")
	}
	if _, err := e.store.SaveEvent(context.Background(), string(ev.Type), ev.Source, string(dataJSON), ev.WorkspaceID); err != nil {
		slog.Warn("Failed to persist event", "type", ev.Type, "error", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for client := range e.clients {
		frame := Frame{ID: NextFrameID(), Payload: payload}
		select {
		case client.frames <- frame:
		default:
			// Queue full: the slowest client is dropped, not the event.
			delete(e.clients, client)
			close(client.frames)
			clientsDropped.Inc()
			clientsConnected.Dec()
			slog.Warn("Dropped slow SSE client", "workspace_id", e.workspaceID)
		}
	}
}

// Register adds a new SSE client with a fresh bounded queue.
func (e *Emitter) Register() *Client {
	client := &Client{frames: make(chan Frame, clientQueueCapacity)}
	e.mu.Lock()
	e.clients[client] = struct{}{}
	e.mu.Unlock()
	clientsConnected.Inc()
	return client
}

// Unregister removes a client from the fan-out set. Safe to call for a
// client that was already dropped.
func (e *Emitter) Unregister(client *Client) {
	e.mu.Lock()
	_, present := e.clients[client]
	if present {
		delete(e.clients, client)
		close(client.frames)
	}
	e.mu.Unlock()
	if present {
		clientsConnected.Dec()
	}
}

// ClientCount returns the number of connected SSE clients.
func (e *Emitter) ClientCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}
