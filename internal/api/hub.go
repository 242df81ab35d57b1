package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/scenario"
)

const (
	// clientBuffer is the number of events queued per client before it is
	// dropped as too slow.
	clientBuffer = 32

	// writeTimeout bounds a single websocket frame write.
	writeTimeout = 5 * time.Second
)

type client struct {
	send chan []byte
}

// Hub fans scenario events out to websocket clients. It implements
// [scenario.Notifier]; Publish never blocks.
type Hub struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var _ scenario.Notifier = (*Hub)(nil)

// NewHub returns an empty hub. A nil m uses [observe.DefaultMetrics].
func NewHub(m *observe.Metrics) *Hub {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Hub{metrics: m, clients: make(map[*client]struct{})}
}

// Publish encodes e once and queues it for every client. Clients whose
// queue is full are disconnected.
func (h *Hub) Publish(e scenario.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		observe.Logger(context.Background()).Error("api: encode event", "kind", e.Kind, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) join() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{send: make(chan []byte, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away, falls behind or the hub closes. Client messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	c, ok := h.join()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.leave(c)

	h.metrics.WebsocketClients.Add(r.Context(), 1)
	defer h.metrics.WebsocketClients.Add(context.WithoutCancel(r.Context()), -1)
	log.Debug("event client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "disconnected")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("event client write failed", "err", err)
				return
			}
		}
	}
}
