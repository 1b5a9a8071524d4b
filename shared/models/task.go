package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusToDo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusInReview   TaskStatus = "in_review"
	TaskStatusDone       TaskStatus = "done"
)

// TaskStatuses lists the board columns in display order.
var TaskStatuses = []TaskStatus{
	TaskStatusToDo,
	TaskStatusInProgress,
	TaskStatusInReview,
	TaskStatusDone,
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusToDo, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone:
		return true
	}
	return false
}

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

type Task struct {
	ID             uuid.UUID    `json:"id"`
	ProjectID      uuid.UUID    `json:"projectId"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	Position       int          `json:"position"`
	AssigneeID     *uuid.UUID   `json:"assigneeId,omitempty"`
	ReporterID     uuid.UUID    `json:"reporterId"`
	DueDate        *time.Time   `json:"dueDate,omitempty"`
	EstimatedHours *float64     `json:"estimatedHours,omitempty"`
	ActualHours    *float64     `json:"actualHours,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`

	Assignee *User     `json:"assignee,omitempty"`
	Reporter *User     `json:"reporter,omitempty"`
	Comments []Comment `json:"comments"`
	Labels   []Label   `json:"labels"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.AssigneeID != nil {
		id := *t.AssigneeID
		c.AssigneeID = &id
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedHours != nil {
		h := *t.EstimatedHours
		c.EstimatedHours = &h
	}
	if t.ActualHours != nil {
		h := *t.ActualHours
		c.ActualHours = &h
	}
	c.Comments = append([]Comment(nil), t.Comments...)
	c.Labels = append([]Label(nil), t.Labels...)
	return &c
}

// NewTask is the input of a task creation.
type NewTask struct {
	ProjectID      uuid.UUID    `json:"projectId"`
	ReporterID     uuid.UUID    `json:"reporterId"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Status         TaskStatus   `json:"status,omitempty"`
	Priority       TaskPriority `json:"priority,omitempty"`
	AssigneeID     *uuid.UUID   `json:"assigneeId,omitempty"`
	DueDate        *time.Time   `json:"dueDate,omitempty"`
	EstimatedHours *float64     `json:"estimatedHours,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
// Position is the index the task should occupy in its destination column,
// not a raw position value.
type TaskPatch struct {
	Title          *string       `json:"title,omitempty"`
	Description    *string       `json:"description,omitempty"`
	Status         *TaskStatus   `json:"status,omitempty"`
	Priority       *TaskPriority `json:"priority,omitempty"`
	Position       *int          `json:"position,omitempty"`
	AssigneeID     *uuid.UUID    `json:"assigneeId,omitempty"`
	ClearAssignee  bool          `json:"clearAssignee,omitempty"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	ClearDueDate   bool          `json:"clearDueDate,omitempty"`
	EstimatedHours *float64      `json:"estimatedHours,omitempty"`
	ActualHours    *float64      `json:"actualHours,omitempty"`
}

// IsMove reports whether the patch changes the task's column or order.
func (p TaskPatch) IsMove() bool {
	return p.Status != nil || p.Position != nil
}
