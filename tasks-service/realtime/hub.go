package realtime

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("realtime: hub closed")

// JoinCheck decides whether a connection may join a project's room.
type JoinCheck func(ctx context.Context, userID, projectID uuid.UUID) error

// Hub owns the room registry. Membership lives in memory only and is lost
// on restart; clients rejoin after reconnecting.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[*Conn]struct{}
	conns  map[*Conn]struct{}
	closed bool

	// CanJoin, when set, is consulted on every join.
	CanJoin JoinCheck
	// SendBuffer is the outbound queue length of new connections.
	SendBuffer int
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Conn]struct{}),
		conns:      make(map[*Conn]struct{}),
		SendBuffer: 64,
	}
}

func (h *Hub) register(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.conns[c] = struct{}{}
	return nil
}

// Unregister removes the connection from every room.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for projectID := range c.rooms {
		h.leaveLocked(c, projectID)
	}
	delete(h.conns, c)
}

// Join adds the connection to the project's room. It reports whether the
// connection was not already a member; joining twice is harmless.
func (h *Hub) Join(c *Conn, projectID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return false
	}
	room := h.rooms[projectID]
	if room == nil {
		room = make(map[*Conn]struct{})
		h.rooms[projectID] = room
	}
	if _, ok := room[c]; ok {
		return false
	}
	room[c] = struct{}{}
	c.rooms[projectID] = struct{}{}
	return true
}

// Leave removes the connection from the room. Leaving a room the
// connection is not in is harmless.
func (h *Hub) Leave(c *Conn, projectID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, projectID)
}

func (h *Hub) leaveLocked(c *Conn, projectID uuid.UUID) bool {
	room, ok := h.rooms[projectID]
	if !ok {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	delete(c.rooms, projectID)
	if len(room) == 0 {
		delete(h.rooms, projectID)
	}
	return true
}

func (h *Hub) Joined(c *Conn, projectID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[projectID][c]
	return ok
}

func (h *Hub) RoomSize(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish sends the event to every connection in the project's room except
// the one whose socket id equals exceptSocketID. It returns the number of
// connections the event was queued for. Delivery failures are not
// reported.
func (h *Hub) Publish(projectID uuid.UUID, event string, payload any, exceptSocketID string) int {
	msg, err := encode(event, projectID, payload)
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.rooms[projectID] {
		if exceptSocketID != "" && c.ID.String() == exceptSocketID {
			continue
		}
		if c.enqueue(msg) {
			sent++
		}
	}
	return sent
}

// Close disconnects every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
