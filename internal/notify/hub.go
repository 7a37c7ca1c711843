// Package notify pushes commit notices to peers over websockets.
//
// Notices are hints: a peer that receives one starts a pull, a peer that
// misses one catches up on its next periodic pull. Nothing here is relied on
// for correctness.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/rowsync/internal/ir"
)

// connBuffer is the per-connection backlog; notices beyond it are dropped.
const connBuffer = 8

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans notices out to every connected websocket.
type Hub struct {
	log *slog.Logger

	mu     sync.Mutex
	conns  map[chan ir.Notice]struct{}
	closed bool
}

// NewHub creates an empty hub. A nil logger uses slog.Default().
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, conns: make(map[chan ir.Notice]struct{})}
}

// Broadcast queues n for every connection without blocking. Connections
// whose backlog is full miss it.
func (h *Hub) Broadcast(n ir.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.conns {
		select {
		case ch <- n:
		default:
			h.log.Debug("notice dropped for slow listener", "db_version", n.DBVersion)
		}
	}
}

// Forward broadcasts every notice from src until ctx ends or src closes.
func (h *Hub) Forward(ctx context.Context, src <-chan ir.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-src:
			if !ok {
				return
			}
			h.Broadcast(n)
		}
	}
}

// Listeners returns the number of connected websockets.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every listener and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.conns {
		close(ch)
		delete(h.conns, ch)
	}
}

func (h *Hub) register() (chan ir.Notice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan ir.Notice, connBuffer)
	h.conns[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unregister(ch chan ir.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[ch]; ok {
		delete(h.conns, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request and streams notices as JSON text messages
// until the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.register()
	if !ok {
		http.Error(w, "notifications closed", http.StatusServiceUnavailable)
		return
	}
	defer h.unregister(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Drain client frames so close and ping control messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Debug("listener connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
				return
			}
			msg, err := json.Marshal(n)
			if err != nil {
				h.log.Error("encode notice", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
