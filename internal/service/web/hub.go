package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rotaproxy/internal/shared/logger"
)

// Message is the envelope for every websocket push.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of connected dashboard clients and broadcasts
// status snapshots to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
}

// NewHub creates an empty hub. Run must be called for it to do anything.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run processes client registration and broadcasts until the process exits.
func (h *Hub) Run() {
	l := logger.WithComponent("WebSocketHub")
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Dashboard client connected.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Dashboard client disconnected.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					l.Warn().Err(err).Msg("Error writing to dashboard client.")
					// The read pump unregisters the dead client.
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastStatus pushes a status snapshot to all connected clients. Slow
// consumers drop updates rather than blocking the caller.
func (h *Hub) BroadcastStatus(report StatusReport) {
	msg := Message{Type: "status_update", Data: report}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		l := logger.WithComponent("WebSocketHub")
		l.Error().Err(err).Msg("Failed to marshal status report.")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
	}
}

// PushLoop broadcasts a fresh snapshot on a fixed interval.
func (h *Hub) PushLoop(handler *Handler, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.BroadcastStatus(handler.Report())
		case <-stop:
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades a dashboard connection and attaches it to the hub.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	l := logger.WithComponent("WebSocketHub")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("Failed to upgrade websocket.")
		return
	}
	hub.register <- conn

	// Read pump, needed to detect when the client closes the connection.
	go func() {
		defer func() {
			hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					l.Warn().Err(err).Msg("Unexpected websocket close.")
				}
				break
			}
		}
	}()
}
