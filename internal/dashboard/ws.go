package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsHub tracks connected observers and fans out snapshots to all of
// them, the same per-connection-map shape as the teacher's
// registry.Cell.sessions, generalized from per-user multiplexing to a
// broadcast-everyone feed since there is no per-observer identity here.
type wsHub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*websocket.Conn
}

func newWSHub() *wsHub {
	return &wsHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*websocket.Conn),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("dashboard ws upgrade failed", "error", err)
		return
	}

	id := uuid.New()
	s.hub.add(id, conn)
	defer s.hub.remove(id)

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}

	// Observers never send anything meaningful; ReadMessage just
	// detects the client going away so we can release its slot.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHub) add(id uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = conn
}

func (h *wsHub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.conns[id]; ok {
		conn.Close()
		delete(h.conns, id)
	}
}

func (h *wsHub) broadcast(snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.conns, id)
		}
	}
}
