package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type testClient struct {
	t        *testing.T
	ws       *websocket.Conn
	socketID uuid.UUID
}

func startHub(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), ws, uuid.New())
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	c := &testClient{t: t, ws: ws}
	env := c.next()
	if env.Event != EventConnected {
		t.Fatalf("Expected connected frame first, got %q", env.Event)
	}
	var p ConnectedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode connected payload: %v", err)
	}
	c.socketID = p.SocketID
	return c
}

func (c *testClient) write(msg ClientMessage) {
	c.t.Helper()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) next() Envelope {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return env
}

func (c *testClient) expect(event string) Envelope {
	c.t.Helper()
	env := c.next()
	if env.Event != event {
		c.t.Fatalf("Expected %q, got %q (%s)", event, env.Event, env.Payload)
	}
	return env
}

func (c *testClient) join(projectID uuid.UUID) {
	c.t.Helper()
	c.write(ClientMessage{Action: ActionJoin, ProjectID: projectID})
	c.expect(EventJoined)
}

// sync proves nothing else is queued for the client: the ack of a join to
// a throwaway room must be the next frame.
func (c *testClient) sync() {
	c.t.Helper()
	c.join(uuid.New())
}

func TestHub_PublishIsScopedToRoom(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p, q := uuid.New(), uuid.New()

	a, b, other, idle := dial(t, srv), dial(t, srv), dial(t, srv), dial(t, srv)
	a.join(p)
	b.join(p)
	other.join(q)

	payload := TaskDeletedEvent{ProjectID: p, TaskID: uuid.New()}
	if n := hub.Publish(p, EventTaskDeleted, payload, ""); n != 2 {
		t.Fatalf("Expected 2 recipients, got %d", n)
	}

	for _, c := range []*testClient{a, b} {
		env := c.expect(EventTaskDeleted)
		if env.ProjectID != p {
			t.Errorf("Expected projectId %v, got %v", p, env.ProjectID)
		}
		var got TaskDeletedEvent
		if err := json.Unmarshal(env.Payload, &got); err != nil || got != payload {
			t.Errorf("Payload mismatch: %+v (%v)", got, err)
		}
	}
	other.sync()
	idle.sync()
}

func TestHub_PublishExcludesSender(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a, b := dial(t, srv), dial(t, srv)
	a.join(p)
	b.join(p)

	hub.Publish(p, EventTaskCreated, TaskEvent{ProjectID: p, TaskID: uuid.New()}, a.socketID.String())
	b.expect(EventTaskCreated)
	a.sync()
}

func TestHub_EmitRelaysToOthersInOrder(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a, b := dial(t, srv), dial(t, srv)
	a.join(p)
	b.join(p)

	for i := 0; i < 20; i++ {
		payload, _ := json.Marshal(TypingEvent{ProjectID: p, TaskID: uuid.New(), UserName: fmt.Sprint(i), Typing: true})
		a.write(ClientMessage{Action: ActionEmit, Event: EventUserTyping, Payload: payload})
	}
	for i := 0; i < 20; i++ {
		env := b.expect(EventUserTyping)
		var got TypingEvent
		if err := json.Unmarshal(env.Payload, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.UserName != fmt.Sprint(i) {
			t.Fatalf("Event %d arrived out of order: %q", i, got.UserName)
		}
	}
	a.sync()
}

func TestHub_EmitRequiresJoinAndKnownEvent(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a, b := dial(t, srv), dial(t, srv)
	b.join(p)

	a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: EventUserTyping})
	a.expect(EventError)

	a.join(p)
	a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: "drop-database"})
	a.expect(EventError)

	a.write(ClientMessage{Action: "subscribe", ProjectID: p})
	a.expect(EventError)

	b.sync()
}

func TestHub_EmitRejectsServerEvents(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a, b := dial(t, srv), dial(t, srv)
	a.join(p)
	b.join(p)

	for _, event := range []string{EventTaskCreated, EventTaskUpdated, EventTaskStatusChanged, EventTaskDeleted, EventCommentAdded} {
		payload, _ := json.Marshal(TaskDeletedEvent{ProjectID: p, TaskID: uuid.New()})
		a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: event, Payload: payload})
		env := a.expect(EventError)
		var e ErrorPayload
		if err := json.Unmarshal(env.Payload, &e); err != nil || !strings.Contains(e.Message, event) {
			t.Errorf("Expected an error naming %s, got %s", event, env.Payload)
		}
	}
	b.sync()
}

func TestHub_EmitScopedToRoom(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p, q := uuid.New(), uuid.New()

	a, b, other := dial(t, srv), dial(t, srv), dial(t, srv)
	a.join(p)
	a.join(q)
	b.join(p)
	other.join(q)

	// payload names a different room than the envelope
	payload, _ := json.Marshal(TypingEvent{ProjectID: q, TaskID: uuid.New(), Typing: true})
	a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: EventUserTyping, Payload: payload})
	a.expect(EventError)

	a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: EventUserTyping, Payload: json.RawMessage(`[1,2]`)})
	a.expect(EventError)

	a.write(ClientMessage{Action: ActionEmit, Event: EventUserTyping, Payload: json.RawMessage(`{"typing":true}`)})
	a.expect(EventError)

	// payload without projectId gets the room's id
	taskID := uuid.New()
	a.write(ClientMessage{Action: ActionEmit, ProjectID: p, Event: EventUserTyping,
		Payload: json.RawMessage(`{"taskId":"` + taskID.String() + `","typing":true}`)})
	env := b.expect(EventUserTyping)
	var got TypingEvent
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ProjectID != p || got.ProjectID != p || got.TaskID != taskID || !got.Typing {
		t.Errorf("Unexpected relay: envelope %v payload %+v", env.ProjectID, got)
	}

	other.sync()
	b.sync()
	a.sync()
}

func TestHub_JoinLeaveIdempotent(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a := dial(t, srv)
	a.join(p)
	a.join(p)
	if n := hub.RoomSize(p); n != 1 {
		t.Fatalf("Expected room size 1 after double join, got %d", n)
	}

	for i := 0; i < 2; i++ {
		a.write(ClientMessage{Action: ActionLeave, ProjectID: p})
		a.expect(EventLeft)
	}
	if n := hub.RoomSize(p); n != 0 {
		t.Fatalf("Expected empty room after leave, got %d", n)
	}
	if n := hub.Publish(p, EventTaskDeleted, TaskDeletedEvent{ProjectID: p}, ""); n != 0 {
		t.Errorf("Expected no recipients after leave, got %d", n)
	}
}

func TestHub_DisconnectLeavesRooms(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	p := uuid.New()

	a := dial(t, srv)
	a.join(p)
	a.ws.Close()

	deadline := time.Now().Add(3 * time.Second)
	for hub.RoomSize(p) != 0 || hub.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still registered: room=%d conns=%d", hub.RoomSize(p), hub.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_JoinCheck(t *testing.T) {
	hub := NewHub()
	allowed := uuid.New()
	hub.CanJoin = func(ctx context.Context, userID, projectID uuid.UUID) error {
		if projectID != allowed {
			return errors.New("project not found")
		}
		return nil
	}
	srv := startHub(t, hub)

	a := dial(t, srv)
	a.write(ClientMessage{Action: ActionJoin, ProjectID: uuid.New()})
	env := a.expect(EventError)
	var p ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message != "project not found" {
		t.Errorf("Unexpected error payload %s", env.Payload)
	}
	a.join(allowed)
	if hub.RoomSize(allowed) != 1 {
		t.Errorf("Expected allowed join to register")
	}
}

func TestHub_ClosedRejectsConnections(t *testing.T) {
	hub := NewHub()
	srv := startHub(t, hub)
	hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed by a closed hub")
	}
}
