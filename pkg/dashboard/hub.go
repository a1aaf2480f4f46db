package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
)

// EventType is the kind of message pushed to spectators.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventUpdate   EventType = "update"
)

// Event is sent to spectators as a JSON text message.
type Event struct {
	Type   EventType        `json:"type"`
	View   *campaign.View   `json:"view,omitempty"`
	Update *campaign.Update `json:"update,omitempty"`
	Kind   string           `json:"kind,omitempty"`
}

const spectatorWriteTimeout = 5 * time.Second

type spectator struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *spectator) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(spectatorWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans applied updates out to read-only websocket spectators.
type Hub struct {
	clients  map[*spectator]struct{}
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// NewHub creates a hub. Any origin may connect.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*spectator]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request, sends the current view and keeps the
// connection until the spectator goes away. Anything the spectator sends is
// discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, view campaign.View) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &spectator{conn: conn}

	data, err := json.Marshal(Event{Type: EventSnapshot, View: &view})
	if err != nil || s.write(data) != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(s)
}

// Publish sends u to every spectator. Spectators whose write fails are
// disconnected.
func (h *Hub) Publish(u campaign.Update) {
	h.broadcast(Event{Type: EventUpdate, Update: &u, Kind: u.Kind.String()})
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*spectator, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.mu.RUnlock()

	for _, s := range clients {
		if err := s.write(data); err != nil {
			h.remove(s)
		}
	}
}

func (h *Hub) remove(s *spectator) {
	h.mu.Lock()
	delete(h.clients, s)
	h.mu.Unlock()
	s.conn.Close()
}

// ClientCount returns the number of connected spectators.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every spectator.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.clients {
		s.conn.Close()
		delete(h.clients, s)
	}
}
