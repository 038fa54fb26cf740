package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/frontdesk/internal/escalation"
)

const (
	clientBufferSize = 32
	wsWriteTimeout   = 5 * time.Second
	wsPingInterval   = 30 * time.Second
	wsReadLimit      = 1024
)

// Hub fans help-request lifecycle events out to websocket subscribers.
// Publish never blocks: a subscriber whose buffer is full is disconnected.
type Hub struct {
	mu       sync.Mutex
	clients  map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. A nil logger uses slog.Default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		// The zero CheckOrigin refuses browser handshakes from other hosts;
		// clients without an Origin header are let through.
		upgrader: websocket.Upgrader{},
		logger:   logger,
	}
}

// Publish implements escalation.EventPublisher.
func (h *Hub) Publish(ev escalation.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event", "type", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		select {
		case s.send <- b:
		default:
			h.logger.Warn("dropping slow event subscriber", "remote", s.conn.RemoteAddr().String())
			h.removeLocked(s)
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		httpError(w, http.StatusServiceUnavailable, "unavailable_error", "event stream is shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("event stream handshake rejected", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	s := &subscriber{conn: conn, send: make(chan []byte, clientBufferSize)}
	if !h.add(s) {
		conn.Close()
		return
	}

	go s.writeLoop()

	// Subscribers only listen; reads exist to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(s)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.clients {
		h.removeLocked(s)
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.clients[s]; !ok {
		return
	}
	delete(h.clients, s)
	close(s.send)
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case b, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
