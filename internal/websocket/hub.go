package websocket

import (
	"sync"

	"github.com/google/uuid"
)

// Hub fans session events out to every connection streaming an attempt.
// A student may have more than one tab open on the same attempt.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*Client]struct{})}
}

// Register adds c to its attempt's audience.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.attemptID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.attemptID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and closes it.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.attemptID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.attemptID)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// Broadcast queues an event for every connection on attemptID.
func (h *Hub) Broadcast(attemptID uuid.UUID, event Event, data any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[attemptID]))
	for c := range h.clients[attemptID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Send(event, data)
	}
}

// Count returns the number of connections on attemptID.
func (h *Hub) Count(attemptID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[attemptID])
}

// CloseAll closes every connection; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[uuid.UUID]map[*Client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.Close()
		}
	}
}
