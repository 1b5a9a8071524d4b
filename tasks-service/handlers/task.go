package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/chepyr/go-task-tracker/tasks-service/db"
	"github.com/chepyr/go-task-tracker/tasks-service/realtime"
	"github.com/google/uuid"
)

/*
handles routes:
- GET /tasks?projectId={id} - list tasks of a project
- POST /tasks - create a new task
*/
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		methodNotAllowed(w)
	}
}

/*
handles routes under /tasks/{id}:
GET|PUT|PATCH|DELETE /tasks/{id}
GET|POST /tasks/{id}/comments
POST /tasks/{id}/labels, DELETE /tasks/{id}/labels/{labelId}
*/
func (h *Handler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/tasks/")
	if len(parts) == 0 {
		shared.SendError(w, "Task ID is required", http.StatusBadRequest)
		return
	}
	taskID, ok := parseID(w, parts[0], "task ID")
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getTask(w, r, taskID)
		case http.MethodPut, http.MethodPatch:
			h.updateTask(w, r, taskID)
		case http.MethodDelete:
			h.deleteTask(w, r, taskID)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "comments":
		switch r.Method {
		case http.MethodGet:
			h.listComments(w, r, taskID)
		case http.MethodPost:
			h.addComment(w, r, taskID)
		default:
			methodNotAllowed(w)
		}

	case parts[1] == "labels" && len(parts) <= 3:
		h.handleTaskLabels(w, r, taskID, parts[2:])

	default:
		shared.SendError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("projectId"))
	if err != nil {
		shared.SendError(w, "projectId is required (uuid)", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.canJoin(ctx, uuid.Nil, projectID); err != nil {
		shared.SendErrorFor(w, err, "Failed to list tasks")
		return
	}
	tasks, err := h.TaskRepo.ListByProject(ctx, projectID)
	if err != nil {
		log.Printf("Failed to list tasks of %s: %v", projectID, err)
		shared.SendErrorFor(w, err, "Failed to list tasks")
		return
	}
	shared.SendJSON(w, http.StatusOK, tasks)
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input models.NewTask
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.ReporterID == uuid.Nil {
		input.ReporterID = userID
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.Create(ctx, input)
	if err != nil {
		log.Printf("Failed to create task: %v", err)
		shared.SendErrorFor(w, err, "Failed to create task")
		return
	}
	h.publish(r, task.ProjectID, realtime.EventTaskCreated,
		realtime.TaskEvent{ProjectID: task.ProjectID, TaskID: task.ID, Task: task})

	w.Header().Set("Location", "/tasks/"+task.ID.String())
	shared.SendJSON(w, http.StatusCreated, task)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.GetByID(ctx, taskID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch task")
		return
	}
	shared.SendJSON(w, http.StatusOK, task)
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	var patch models.TaskPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, move, err := h.TaskRepo.Update(ctx, taskID, patch)
	if err != nil {
		log.Printf("Failed to update task %s: %v", taskID, err)
		shared.SendErrorFor(w, err, "Failed to update task")
		return
	}
	h.announceUpdate(r, task, move, patch)
	shared.SendJSON(w, http.StatusOK, task)
}

// announceUpdate publishes a status change for a move and a full task
// update when other fields changed.
func (h *Handler) announceUpdate(r *http.Request, task *models.Task, move db.MoveResult, patch models.TaskPatch) {
	if move.Moved {
		h.publish(r, task.ProjectID, realtime.EventTaskStatusChanged, realtime.StatusChangedEvent{
			ProjectID: task.ProjectID,
			TaskID:    task.ID,
			Status:    task.Status,
			Position:  move.Index,
		})
	}
	if fieldsChanged(patch) {
		h.publish(r, task.ProjectID, realtime.EventTaskUpdated,
			realtime.TaskEvent{ProjectID: task.ProjectID, TaskID: task.ID, Task: task})
	}
}

func fieldsChanged(p models.TaskPatch) bool {
	return p.Title != nil || p.Description != nil || p.Priority != nil ||
		p.AssigneeID != nil || p.ClearAssignee || p.DueDate != nil || p.ClearDueDate ||
		p.EstimatedHours != nil || p.ActualHours != nil
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.Delete(ctx, taskID)
	if err != nil {
		log.Printf("Failed to delete task %s: %v", taskID, err)
		shared.SendErrorFor(w, err, "Failed to delete task")
		return
	}
	h.publish(r, task.ProjectID, realtime.EventTaskDeleted,
		realtime.TaskDeletedEvent{ProjectID: task.ProjectID, TaskID: task.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	comments, err := h.CommentRepo.ListByTask(ctx, taskID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch comments")
		return
	}
	shared.SendJSON(w, http.StatusOK, comments)
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	comment, err := h.CommentRepo.Add(ctx, taskID, userID, input.Content)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to add comment")
		return
	}
	if projectID, err := h.TaskRepo.ProjectOf(ctx, taskID); err == nil {
		h.publish(r, projectID, realtime.EventCommentAdded,
			realtime.CommentAddedEvent{ProjectID: projectID, TaskID: taskID, Comment: comment})
	} else {
		log.Printf("Failed to announce comment on %s: %v", taskID, err)
	}
	shared.SendJSON(w, http.StatusCreated, comment)
}

func (h *Handler) handleTaskLabels(w http.ResponseWriter, r *http.Request, taskID uuid.UUID, rest []string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var err error
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var input struct {
			LabelID uuid.UUID `json:"labelId"`
		}
		if !decodeJSON(w, r, &input) {
			return
		}
		err = h.LabelRepo.Assign(ctx, taskID, input.LabelID)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		labelID, ok := parseID(w, rest[0], "label ID")
		if !ok {
			return
		}
		err = h.LabelRepo.Unassign(ctx, taskID, labelID)

	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to update task labels")
		return
	}

	task, err := h.TaskRepo.GetByID(ctx, taskID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch task")
		return
	}
	h.publish(r, task.ProjectID, realtime.EventTaskUpdated,
		realtime.TaskEvent{ProjectID: task.ProjectID, TaskID: task.ID, Task: task})
	shared.SendJSON(w, http.StatusOK, task)
}
