package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	joinTimeout    = 5 * time.Second
)

// Conn is one client connection. All writes go through a single goroutine
// fed by a bounded queue, so every recipient sees events in the order they
// were published. A connection whose queue fills up is closed; the client
// reconnects and re-fetches.
type Conn struct {
	ID     uuid.UUID
	UserID uuid.UUID

	ws        *websocket.Conn
	hub       *Hub
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	rooms map[uuid.UUID]struct{} // guarded by hub.mu
}

// Serve runs the connection until the client goes away or the hub is
// closed. It blocks.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, userID uuid.UUID) {
	c := &Conn{
		ID:     uuid.New(),
		UserID: userID,
		ws:     ws,
		hub:    h,
		send:   make(chan []byte, max(h.SendBuffer, 1)),
		done:   make(chan struct{}),
		rooms:  make(map[uuid.UUID]struct{}),
	}
	if err := h.register(c); err != nil {
		ws.Close()
		return
	}
	defer func() {
		h.Unregister(c)
		c.Close()
		log.Printf("WebSocket %s disconnected", c.ID)
	}()

	go c.writePump()
	c.sendFrame(EventConnected, uuid.Nil, ConnectedPayload{SocketID: c.ID, UserID: userID})
	log.Printf("WebSocket %s connected for user %s", c.ID, userID)
	c.readPump(ctx)
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Printf("WebSocket %s send queue full, closing", c.ID)
		c.Close()
		return false
	}
}

func (c *Conn) sendFrame(event string, projectID uuid.UUID, payload any) {
	msg, err := encode(event, projectID, payload)
	if err != nil {
		log.Printf("Failed to marshal %s frame: %v", event, err)
		return
	}
	c.enqueue(msg)
}

func (c *Conn) sendError(projectID uuid.UUID, message string) {
	c.sendFrame(EventError, projectID, ErrorPayload{Message: message})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("Failed to send WebSocket message: %v", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(uuid.Nil, "malformed message")
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Conn) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Action {
	case ActionJoin:
		if msg.ProjectID == uuid.Nil {
			c.sendError(uuid.Nil, "projectId is required")
			return
		}
		if check := c.hub.CanJoin; check != nil {
			checkCtx, cancel := context.WithTimeout(ctx, joinTimeout)
			err := check(checkCtx, c.UserID, msg.ProjectID)
			cancel()
			if err != nil {
				c.sendError(msg.ProjectID, err.Error())
				return
			}
		}
		if c.hub.Join(c, msg.ProjectID) {
			log.Printf("WebSocket %s joined %s", c.ID, RoomName(msg.ProjectID))
		}
		c.sendFrame(EventJoined, msg.ProjectID, nil)

	case ActionLeave:
		if c.hub.Leave(c, msg.ProjectID) {
			log.Printf("WebSocket %s left %s", c.ID, RoomName(msg.ProjectID))
		}
		c.sendFrame(EventLeft, msg.ProjectID, nil)

	case ActionEmit:
		if !IsClientEvent(msg.Event) {
			c.sendError(msg.ProjectID, "event "+msg.Event+" cannot be emitted by clients")
			return
		}
		projectID, payload, err := scopePayload(msg.ProjectID, msg.Payload)
		if err != nil {
			c.sendError(msg.ProjectID, err.Error())
			return
		}
		if !c.hub.Joined(c, projectID) {
			c.sendError(projectID, "not joined to "+RoomName(projectID))
			return
		}
		c.hub.Publish(projectID, msg.Event, payload, c.ID.String())

	default:
		c.sendError(msg.ProjectID, "unknown action "+msg.Action)
	}
}
