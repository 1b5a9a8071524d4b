// Package realtime relays task mutation events between the clients that
// view the same project. Nothing is persisted or replayed: an event reaches
// only the connections joined to the project's room when it is published.
package realtime

import (
	"encoding/json"
	"errors"

	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

// Events relayed to project rooms.
const (
	EventTaskCreated       = "task-created"
	EventTaskUpdated       = "task-updated"
	EventTaskStatusChanged = "task-status-changed"
	EventTaskDeleted       = "task-deleted"
	EventCommentAdded      = "comment-added"
	EventUserTyping        = "user-typing"
)

// Control frames sent by the server to a single connection.
const (
	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventError     = "error"
)

// Client actions.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
	ActionEmit  = "emit"
)

var broadcastEvents = map[string]bool{
	EventTaskCreated:       true,
	EventTaskUpdated:       true,
	EventTaskStatusChanged: true,
	EventTaskDeleted:       true,
	EventCommentAdded:      true,
	EventUserTyping:        true,
}

// Task and comment events are published by the server after the write
// commits. Clients may only relay ephemeral events.
var clientEvents = map[string]bool{
	EventUserTyping: true,
}

// IsBroadcastEvent reports whether the event belongs to the room taxonomy.
func IsBroadcastEvent(event string) bool {
	return broadcastEvents[event]
}

// IsClientEvent reports whether clients may relay the event to a room.
func IsClientEvent(event string) bool {
	return clientEvents[event]
}

// scopePayload resolves the room of a client emit and makes sure the
// payload names it. The payload must be a JSON object; a projectId in it
// that disagrees with the envelope is rejected.
func scopePayload(projectID uuid.UUID, payload json.RawMessage) (uuid.UUID, json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
			return uuid.Nil, nil, errors.New("payload must be a JSON object")
		}
	}
	if raw, ok := fields["projectId"]; ok {
		var inPayload uuid.UUID
		if err := json.Unmarshal(raw, &inPayload); err != nil {
			return uuid.Nil, nil, errors.New("invalid payload projectId")
		}
		switch {
		case projectID == uuid.Nil:
			projectID = inPayload
		case inPayload != projectID:
			return uuid.Nil, nil, errors.New("payload projectId does not match the room")
		}
	}
	if projectID == uuid.Nil {
		return uuid.Nil, nil, errors.New("projectId is required")
	}

	raw, err := json.Marshal(projectID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	fields["projectId"] = raw
	scoped, err := json.Marshal(fields)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return projectID, scoped, nil
}

// RoomName is the display name of a project's room.
func RoomName(projectID uuid.UUID) string {
	return "project-" + projectID.String()
}

// Envelope is every frame the server writes.
type Envelope struct {
	Event     string          `json:"event"`
	ProjectID uuid.UUID       `json:"projectId,omitzero"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is every frame a client writes.
type ClientMessage struct {
	Action    string          `json:"action"`
	ProjectID uuid.UUID       `json:"projectId,omitzero"`
	Event     string          `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	SocketID uuid.UUID `json:"socketId"`
	UserID   uuid.UUID `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// TaskEvent is the payload of task-created and task-updated.
type TaskEvent struct {
	ProjectID uuid.UUID    `json:"projectId"`
	TaskID    uuid.UUID    `json:"taskId"`
	Task      *models.Task `json:"task"`
}

// StatusChangedEvent carries a move. Position is the index in the
// destination column.
type StatusChangedEvent struct {
	ProjectID uuid.UUID         `json:"projectId"`
	TaskID    uuid.UUID         `json:"taskId"`
	Status    models.TaskStatus `json:"status"`
	Position  int               `json:"position"`
}

type TaskDeletedEvent struct {
	ProjectID uuid.UUID `json:"projectId"`
	TaskID    uuid.UUID `json:"taskId"`
}

type CommentAddedEvent struct {
	ProjectID uuid.UUID       `json:"projectId"`
	TaskID    uuid.UUID       `json:"taskId"`
	Comment   *models.Comment `json:"comment"`
}

// TypingEvent is ephemeral and never stored.
type TypingEvent struct {
	ProjectID uuid.UUID `json:"projectId"`
	TaskID    uuid.UUID `json:"taskId"`
	UserID    uuid.UUID `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Typing    bool      `json:"typing"`
}

func encode(event string, projectID uuid.UUID, payload any) ([]byte, error) {
	env := Envelope{Event: event, ProjectID: projectID}
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			var err error
			if raw, err = json.Marshal(payload); err != nil {
				return nil, err
			}
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
