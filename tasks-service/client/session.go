package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/chepyr/go-task-tracker/tasks-service/board"
	"github.com/chepyr/go-task-tracker/tasks-service/realtime"
	"github.com/google/uuid"
)

const refetchTimeout = 10 * time.Second

type Options struct {
	UserID   uuid.UUID
	UserName string
	// OnTyping receives user-typing events from other clients.
	OnTyping func(realtime.TypingEvent)
	// OnChange runs after the board changed because of a remote event or
	// a re-fetch.
	OnChange func()
}

// Session keeps a board for one project in sync: it loads the board over
// REST, applies the project's relay events to it and re-fetches after a
// reconnect since events missed while offline are never replayed.
type Session struct {
	api       *API
	socket    *Socket
	projectID uuid.UUID
	opts      Options

	Board *board.Board
	Drag  board.DragState

	mu     sync.Mutex
	closed bool
	offs   []func()
}

// Open joins the project's room and loads its tasks.
func Open(ctx context.Context, api *API, socket *Socket, projectID uuid.UUID, opts Options) (*Session, error) {
	s := &Session{
		api:       api,
		socket:    socket,
		projectID: projectID,
		opts:      opts,
		Board:     board.New(projectID, nil),
	}

	s.offs = []func(){
		socket.On(realtime.EventTaskCreated, s.onTask),
		socket.On(realtime.EventTaskUpdated, s.onTask),
		socket.On(realtime.EventTaskStatusChanged, s.onStatusChanged),
		socket.On(realtime.EventTaskDeleted, s.onDeleted),
		socket.On(realtime.EventCommentAdded, s.onComment),
		socket.On(realtime.EventUserTyping, s.onTyping),
		socket.OnReconnect(func() {
			if s.isClosed() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
			defer cancel()
			if err := s.Refetch(ctx); err != nil {
				log.Printf("Refetch of project %s after reconnect failed: %v", projectID, err)
			}
		}),
	}

	socket.Join(projectID)
	if err := s.Refetch(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) ProjectID() uuid.UUID { return s.projectID }

// Refetch replaces the board with the server's state.
func (s *Session) Refetch(ctx context.Context) error {
	tasks, err := s.api.ListTasks(ctx, s.projectID)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return nil
	}
	s.Board.Replace(tasks)
	s.changed()
	return nil
}

// Drop applies a drag result. The board is updated before the request is
// sent and rolled back if the request fails. Dropping a card where it
// started sends nothing and reports false.
func (s *Session) Drop(ctx context.Context, src models.TaskStatus, srcIdx int, dst models.TaskStatus, dstIdx int, taskID uuid.UUID) (bool, error) {
	s.Drag.End()
	move, ok := board.InterpretDrop(src, srcIdx, dst, dstIdx, taskID)
	if !ok {
		return false, nil
	}

	snap := s.Board.Snapshot()
	s.Board.Move(move.TaskID, move.Status, move.Position)

	task, err := s.api.UpdateTask(ctx, move.TaskID, move.Patch())
	if err != nil {
		s.Board.Restore(snap)
		return false, err
	}
	s.Board.Upsert(task)
	return true, nil
}

// Typing tells the other viewers of the project that the user started or
// stopped typing on a task.
func (s *Session) Typing(taskID uuid.UUID, typing bool) bool {
	return s.socket.Emit(s.projectID, realtime.EventUserTyping, realtime.TypingEvent{
		ProjectID: s.projectID,
		TaskID:    taskID,
		UserID:    s.opts.UserID,
		UserName:  s.opts.UserName,
		Typing:    typing,
	})
}

// Close stops applying events, removes the session's socket handlers and
// leaves the room.
func (s *Session) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()
	if already {
		return
	}
	for _, off := range offs {
		off()
	}
	s.socket.Leave(s.projectID)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// decodeFor unmarshals the payload of an event addressed to this project.
func (s *Session) decodeFor(env realtime.Envelope, v any) bool {
	if env.ProjectID != s.projectID || s.isClosed() {
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		log.Printf("Dropping malformed %s event: %v", env.Event, err)
		return false
	}
	return true
}

func (s *Session) onTask(env realtime.Envelope) {
	var ev realtime.TaskEvent
	if !s.decodeFor(env, &ev) || ev.Task == nil {
		return
	}
	if s.Board.Upsert(ev.Task) {
		s.changed()
	}
}

func (s *Session) onStatusChanged(env realtime.Envelope) {
	var ev realtime.StatusChangedEvent
	if !s.decodeFor(env, &ev) {
		return
	}
	if s.Board.Move(ev.TaskID, ev.Status, ev.Position) {
		s.changed()
	}
}

func (s *Session) onDeleted(env realtime.Envelope) {
	var ev realtime.TaskDeletedEvent
	if !s.decodeFor(env, &ev) {
		return
	}
	if s.Board.Remove(ev.TaskID) {
		s.changed()
	}
}

func (s *Session) onComment(env realtime.Envelope) {
	var ev realtime.CommentAddedEvent
	if !s.decodeFor(env, &ev) || ev.Comment == nil {
		return
	}
	task, ok := s.Board.Task(ev.TaskID)
	if !ok {
		return
	}
	for _, c := range task.Comments {
		if c.ID == ev.Comment.ID {
			return
		}
	}
	task.Comments = append(task.Comments, *ev.Comment)
	s.Board.Upsert(task)
	s.changed()
}

func (s *Session) onTyping(env realtime.Envelope) {
	var ev realtime.TypingEvent
	if !s.decodeFor(env, &ev) || s.opts.OnTyping == nil {
		return
	}
	s.opts.OnTyping(ev)
}
