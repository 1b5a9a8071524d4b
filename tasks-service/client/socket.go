package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chepyr/go-task-tracker/tasks-service/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventHandler receives relay frames. Handlers run one at a time in the
// order frames arrive.
type EventHandler func(env realtime.Envelope)

// Socket is a reconnecting connection to the relay. Rooms passed to Join
// are remembered and joined again after every reconnect, since the server
// forgets them with the old connection.
type Socket struct {
	url    string
	dialer *websocket.Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	socketID    string
	rooms       map[uuid.UUID]struct{}
	joined      map[uuid.UUID]struct{}
	nextSub     uint64
	handlers    map[string][]subscription[EventHandler]
	onReconnect []subscription[func()]
	stateCh     chan struct{}

	writeMu sync.Mutex
}

// NewSocket builds a socket for the service at baseURL (http or https).
func NewSocket(baseURL, token string) *Socket {
	u := strings.TrimRight(baseURL, "/")
	u = "ws" + strings.TrimPrefix(strings.TrimPrefix(u, "http"), "ws")
	return &Socket{
		url:        u + "/ws?token=" + url.QueryEscape(token),
		dialer:     websocket.DefaultDialer,
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
		rooms:      make(map[uuid.UUID]struct{}),
		joined:     make(map[uuid.UUID]struct{}),
		handlers:   make(map[string][]subscription[EventHandler]),
		stateCh:    make(chan struct{}),
	}
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SocketID is the server-assigned id of the current connection, empty
// while disconnected.
func (s *Socket) SocketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketID
}

// Joined returns the rooms the server has confirmed on this connection.
func (s *Socket) Joined() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	return ids
}

func (s *Socket) IsJoined(projectID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[projectID]
	return ok
}

type subscription[T any] struct {
	id uint64
	fn T
}

func unsubscribe[T any](subs []subscription[T], id uint64) []subscription[T] {
	for i, sub := range subs {
		if sub.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// On registers a handler for an event name. The returned func removes it.
func (s *Socket) On(event string, h EventHandler) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.handlers[event] = append(s.handlers[event], subscription[EventHandler]{id: id, fn: h})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers[event] = unsubscribe(s.handlers[event], id)
		if len(s.handlers[event]) == 0 {
			delete(s.handlers, event)
		}
	}
}

// OnReconnect registers fn to run after every connection but the first,
// once the rooms have been requested again. The returned func removes it.
func (s *Socket) OnReconnect(fn func()) (off func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.onReconnect = append(s.onReconnect, subscription[func()]{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.onReconnect = unsubscribe(s.onReconnect, id)
	}
}

// Join asks for the project's room now if connected and after every
// reconnect. Joining twice is harmless.
func (s *Socket) Join(projectID uuid.UUID) {
	s.mu.Lock()
	s.rooms[projectID] = struct{}{}
	connected := s.state == Connected
	s.mu.Unlock()
	if connected {
		s.write(realtime.ClientMessage{Action: realtime.ActionJoin, ProjectID: projectID})
	}
}

func (s *Socket) Leave(projectID uuid.UUID) {
	s.mu.Lock()
	delete(s.rooms, projectID)
	connected := s.state == Connected
	s.mu.Unlock()
	if connected {
		s.write(realtime.ClientMessage{Action: realtime.ActionLeave, ProjectID: projectID})
	}
}

// Emit relays an event to the other members of the room. It is fire and
// forget: nothing is sent while disconnected.
func (s *Socket) Emit(projectID uuid.UUID, event string, payload any) bool {
	if s.State() != Connected {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return s.write(realtime.ClientMessage{Action: realtime.ActionEmit, ProjectID: projectID, Event: event, Payload: raw}) == nil
}

// WaitConnected blocks until the socket is connected or ctx ends.
func (s *Socket) WaitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		state, ch := s.state, s.stateCh
		s.mu.Unlock()
		if state == Connected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Socket) write(msg realtime.ClientMessage) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (s *Socket) setState(state State, conn *websocket.Conn, socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.conn = conn
	s.socketID = socketID
	if state != Connected {
		s.joined = make(map[uuid.UUID]struct{})
	}
	close(s.stateCh)
	s.stateCh = make(chan struct{})
}

// Run connects and keeps reconnecting with backoff until ctx ends.
func (s *Socket) Run(ctx context.Context) error {
	backoff := s.MinBackoff
	connections := 0
	for {
		s.setState(Connecting, nil, "")
		err := s.session(ctx, connections > 0, func() {
			connections++
			backoff = s.MinBackoff
		})
		s.setState(Disconnected, nil, "")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Socket disconnected: %v; retrying in %s", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.MaxBackoff)
	}
}

// session runs one connection until it fails.
func (s *Socket) session(ctx context.Context, reconnect bool, connected func()) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var hello realtime.Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return err
	}
	var p realtime.ConnectedPayload
	if hello.Event != realtime.EventConnected || json.Unmarshal(hello.Payload, &p) != nil {
		return fmt.Errorf("unexpected first frame %q", hello.Event)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetPingHandler(func(data string) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	s.setState(Connected, conn, p.SocketID.String())
	connected()

	s.mu.Lock()
	rooms := make([]uuid.UUID, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	hooks := append([]subscription[func()](nil), s.onReconnect...)
	s.mu.Unlock()
	for _, id := range rooms {
		if err := s.write(realtime.ClientMessage{Action: realtime.ActionJoin, ProjectID: id}); err != nil {
			return err
		}
	}
	if reconnect {
		for _, hook := range hooks {
			hook.fn()
		}
	}

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env realtime.Envelope) {
	s.mu.Lock()
	switch env.Event {
	case realtime.EventJoined:
		s.joined[env.ProjectID] = struct{}{}
	case realtime.EventLeft:
		delete(s.joined, env.ProjectID)
	}
	handlers := append([]subscription[EventHandler](nil), s.handlers[env.Event]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h.fn(env)
	}
}
