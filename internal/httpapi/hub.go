package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"neural/internal/adaptive"
)

// eventBuffer is the subscription buffer between the adaptive system and the
// hub pump.
const eventBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans lifecycle events out to WebSocket clients. Clients that fail a
// write are dropped.
type Hub struct {
	system *adaptive.System
	log    *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a Hub streaming events from the adaptive system.
func NewHub(system *adaptive.System, log *slog.Logger) *Hub {
	return &Hub{
		system:  system,
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run subscribes to the adaptive system and pumps events to all connected
// clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	subID, events := h.system.Subscribe(eventBuffer)
	defer h.system.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.log.Error("marshalling event", "error", err)
				continue
			}
			h.broadcast(payload)
		}
	}
}

// HandleWS upgrades the request and registers the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Drain the client so close frames are processed; we never expect
	// inbound messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
}
