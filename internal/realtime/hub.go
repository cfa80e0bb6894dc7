// Package realtime fans agent events out to websocket subscribers. Each
// session is a room named session:<id>; delivery is best-effort.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// EventName is the frame name used for forwarded agent events
const EventName = "codex.event"

// Frame is one server-to-client message
type Frame struct {
	Event   string `json:"event"`
	Room    string `json:"room"`
	Payload any    `json:"payload"`
}

// RoomFor returns the room name of a session
func RoomFor(sessionID string) string {
	return "session:" + sessionID
}

// Hub tracks clients and their room memberships
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.Info("realtime hub stopped", "clients", len(clients))
	return nil
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// Join adds a client to a session room
func (h *Hub) Join(c *Client, sessionID string) {
	room := RoomFor(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes a client from a session room
func (h *Hub) Leave(c *Client, sessionID string) {
	room := RoomFor(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize returns the number of clients in a session room
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomFor(sessionID)])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish forwards an agent event to the session room. It never blocks:
// a client whose buffer is full misses the frame.
func (h *Hub) Publish(sessionID string, evt protocol.SinkEvent) {
	room := RoomFor(sessionID)
	data, err := json.Marshal(Frame{Event: EventName, Room: room, Payload: evt})
	if err != nil {
		h.logger.Warn("failed to encode realtime frame", "session_id", sessionID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if err := c.enqueue(data); err != nil {
			h.logger.Debug("dropped realtime frame", "session_id", sessionID, "client_id", c.ID, "error", err)
		}
	}
}

// NoopSink discards every event
type NoopSink struct{}

// Publish implements the event sink
func (NoopSink) Publish(string, protocol.SinkEvent) {}
