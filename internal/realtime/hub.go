package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// conn is the write side of one client connection: a buffered channel the
// websocket writer drains.
type conn struct {
	id     string
	events chan Event
}

// Hub is the process-local connection directory: at most one live
// connection per user id, last registration wins. It is not persisted and
// is rebuilt empty on restart; delivery through it is purely best-effort.
// A multi-instance deployment would need an external pub/sub in front of
// this, which is out of scope here.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*conn
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]*conn),
	}
}

// Register installs a connection for userID and returns the channel events
// will be queued on, plus a connection id to pass to Remove. Any previous
// connection for the same user is closed and replaced.
func (h *Hub) Register(userID uuid.UUID) (<-chan Event, string) {
	c := &conn{
		id:     "conn_" + uuid.New().String(),
		events: make(chan Event, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.conns[userID]; ok {
		close(prev.events)
	}
	h.conns[userID] = c

	return c.events, c.id
}

// Remove drops the directory entry for userID, but only if it still refers
// to connID; a newer registration is left alone.
func (h *Hub) Remove(userID uuid.UUID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[userID]
	if !ok || c.id != connID {
		return
	}
	close(c.events)
	delete(h.conns, userID)
}

// Publish queues an event for userID's live connection, if any. Returns
// whether the event was handed to a connection. There is no backlog: a
// user with no connection, or one whose buffer is full, simply misses the
// push and catches up on their next fetch.
func (h *Hub) Publish(userID uuid.UUID, event Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[userID]
	if !ok {
		return false
	}

	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

// ActiveConnections reports the number of live directory entries.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
