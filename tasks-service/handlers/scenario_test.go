package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chepyr/go-task-tracker/internal/db/dbtest"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/chepyr/go-task-tracker/tasks-service/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type liveClient struct {
	t        *testing.T
	srv      *httptest.Server
	token    string
	ws       *websocket.Conn
	socketID string
}

func connect(t *testing.T, srv *httptest.Server, user *models.User) *liveClient {
	t.Helper()
	c := &liveClient{t: t, srv: srv, token: tokenFor(t, user.ID)}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + c.token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	c.ws = ws

	env := c.expect(realtime.EventConnected)
	var p realtime.ConnectedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID != user.ID {
		t.Fatalf("bad connected payload %s", env.Payload)
	}
	c.socketID = p.SocketID.String()
	return c
}

func (c *liveClient) expect(event string) realtime.Envelope {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env realtime.Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	if env.Event != event {
		c.t.Fatalf("expected %q, got %q (%s)", event, env.Event, env.Payload)
	}
	return env
}

func (c *liveClient) join(projectID uuid.UUID) {
	c.t.Helper()
	if err := c.ws.WriteJSON(realtime.ClientMessage{Action: realtime.ActionJoin, ProjectID: projectID}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	c.expect(realtime.EventJoined)
}

// do sends an authenticated request tagged with the client's socket id.
func (c *liveClient) do(method, path string, body, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SocketIDHeader, c.socketID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *liveClient) board(projectID uuid.UUID) map[models.TaskStatus][]models.Task {
	c.t.Helper()
	var resp struct {
		Columns map[models.TaskStatus][]models.Task `json:"columns"`
	}
	if code := c.do(http.MethodGet, "/projects/"+projectID.String()+"/board", nil, &resp); code != http.StatusOK {
		c.t.Fatalf("board: want 200, got %d", code)
	}
	return resp.Columns
}

func TestScenario_DemoProject(t *testing.T) {
	h, dbx := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Hub.Close()
		srv.Close()
	})

	u1 := dbtest.InsertUser(t, dbx, "U1")
	u2 := dbtest.InsertUser(t, dbx, "U2")
	u3 := dbtest.InsertUser(t, dbx, "U3")

	alice := connect(t, srv, u1)
	bob := connect(t, srv, u2)
	carol := connect(t, srv, u3)

	var demo, other models.Project
	if code := alice.do(http.MethodPost, "/projects", map[string]string{"name": "Demo"}, &demo); code != http.StatusCreated {
		t.Fatalf("create project: %d", code)
	}
	if code := carol.do(http.MethodPost, "/projects", map[string]string{"name": "Other"}, &other); code != http.StatusCreated {
		t.Fatalf("create project: %d", code)
	}

	var full models.Project
	alice.do(http.MethodGet, "/projects/"+demo.ID.String(), nil, &full)
	if len(full.Members) != 1 || full.Members[0].UserID != u1.ID || full.Members[0].Role != models.RoleOwner {
		t.Fatalf("U1 should be the owner member, got %+v", full.Members)
	}

	alice.join(demo.ID)
	bob.join(demo.ID)
	carol.join(other.ID)

	// create
	var task models.Task
	code := alice.do(http.MethodPost, "/tasks", map[string]any{
		"projectId": demo.ID, "title": "Write spec", "status": "todo", "reporterId": u1.ID,
	}, &task)
	if code != http.StatusCreated {
		t.Fatalf("create task: %d", code)
	}
	env := bob.expect(realtime.EventTaskCreated)
	var created realtime.TaskEvent
	json.Unmarshal(env.Payload, &created)
	if env.ProjectID != demo.ID || created.TaskID != task.ID || created.Task.Title != "Write spec" {
		t.Fatalf("unexpected task-created %s", env.Payload)
	}
	cols := alice.board(demo.ID)
	if len(cols[models.TaskStatusToDo]) != 1 || cols[models.TaskStatusToDo][0].ID != task.ID || cols[models.TaskStatusToDo][0].Position != 1 {
		t.Fatalf("task should be first in todo with position 1, got %+v", cols[models.TaskStatusToDo])
	}

	// move to in_progress index 0
	if code := alice.do(http.MethodPatch, "/tasks/"+task.ID.String(), map[string]any{"status": "in_progress", "position": 0}, nil); code != http.StatusOK {
		t.Fatalf("move: %d", code)
	}
	env = bob.expect(realtime.EventTaskStatusChanged)
	var moved realtime.StatusChangedEvent
	json.Unmarshal(env.Payload, &moved)
	if moved.TaskID != task.ID || moved.Status != models.TaskStatusInProgress || moved.Position != 0 {
		t.Fatalf("unexpected task-status-changed %+v", moved)
	}
	cols = alice.board(demo.ID)
	if len(cols[models.TaskStatusInProgress]) != 1 || cols[models.TaskStatusInProgress][0].ID != task.ID {
		t.Fatalf("task should be at in_progress[0], got %+v", cols[models.TaskStatusInProgress])
	}
	if len(cols[models.TaskStatusToDo]) != 0 {
		t.Fatalf("todo should be empty, got %+v", cols[models.TaskStatusToDo])
	}

	// comment
	if code := bob.do(http.MethodPost, "/tasks/"+task.ID.String()+"/comments", map[string]string{"content": "on it"}, nil); code != http.StatusCreated {
		t.Fatalf("comment: %d", code)
	}
	alice.expect(realtime.EventCommentAdded)

	// delete
	if code := alice.do(http.MethodDelete, "/tasks/"+task.ID.String(), nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	env = bob.expect(realtime.EventTaskDeleted)
	var deleted realtime.TaskDeletedEvent
	json.Unmarshal(env.Payload, &deleted)
	if deleted.TaskID != task.ID {
		t.Fatalf("unexpected task-deleted %+v", deleted)
	}
	cols = alice.board(demo.ID)
	for status, col := range cols {
		if len(col) != 0 {
			t.Errorf("column %s still holds %+v", status, col)
		}
	}
	if code := alice.do(http.MethodGet, "/tasks/"+task.ID.String(), nil, nil); code != http.StatusNotFound {
		t.Errorf("fetching deleted task: want 404, got %d", code)
	}

	// alice never saw her own events and carol never saw Demo's: the next
	// frame for each is the ack of a repeated join.
	alice.join(demo.ID)
	carol.join(other.ID)
}

func TestWebSocket_RequiresToken(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocket_JoinUnknownProject(t *testing.T) {
	h, dbx := newTestHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Hub.Close()
		srv.Close()
	})

	c := connect(t, srv, dbtest.InsertUser(t, dbx, "U"))
	if err := c.ws.WriteJSON(realtime.ClientMessage{Action: realtime.ActionJoin, ProjectID: uuid.New()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.expect(realtime.EventError)
}
