package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/gymbuddy/internal/log"
)

const (
	liveWriteTimeout = 2 * time.Second
	// liveBuffer is how many frames a subscriber may fall behind before
	// frames are dropped for it.
	liveBuffer = 16
)

// subscriber is one /api/live viewer. Only its writer goroutine touches
// the connection for writes.
type subscriber struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Uint64
}

// Hub broadcasts frame telemetry to every /api/live subscriber. Publish
// never blocks: a subscriber whose buffer is full misses frames instead of
// holding up the coaching session that published them.
type Hub struct {
	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logger:      log.With("component", "server.live"),
	}
}

// ServeHTTP handles WebSocket upgrade requests from subscribers.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, liveBuffer),
	}
	h.add(sub)

	done := make(chan struct{})
	go h.writeLoop(sub, done)

	// Subscribers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
	close(done)

	if n := sub.dropped.Load(); n > 0 {
		h.logger.Debug("live subscriber left", "dropped", n)
	}
}

// writeLoop drains sub.send onto the connection. A failed write closes the
// connection, which ends the read loop in ServeHTTP.
func (h *Hub) writeLoop(sub *subscriber, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("dropping live subscriber", "error", err)
				sub.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many frames were skipped for subscribers that fell
// behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish queues v as JSON for every subscriber without waiting on any of
// them.
func (h *Hub) Publish(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.subscribers) == 0 {
		return
	}

	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to encode telemetry", "error", err)
		return
	}

	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}
