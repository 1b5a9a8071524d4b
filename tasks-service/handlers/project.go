package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/chepyr/go-task-tracker/tasks-service/board"
	"github.com/google/uuid"
)

/*
handles routes:
GET /projects - projects the user is a member of
POST /projects - create project, the creator becomes its owner
*/
func (h *Handler) HandleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listProjects(w, r)
	case http.MethodPost:
		h.createProject(w, r)
	default:
		methodNotAllowed(w)
	}
}

/*
handles routes under /projects/{id}:
GET|PUT|PATCH|DELETE /projects/{id}
GET /projects/{id}/board
GET|POST /projects/{id}/members, DELETE /projects/{id}/members/{userId}
GET|POST /projects/{id}/labels, DELETE /projects/{id}/labels/{labelId}
*/
func (h *Handler) HandleProjectByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/projects/")
	if len(parts) == 0 {
		shared.SendError(w, "Project ID is required", http.StatusBadRequest)
		return
	}
	projectID, ok := parseID(w, parts[0], "project ID")
	if !ok {
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getProject(w, r, projectID)
		case http.MethodPut, http.MethodPatch:
			h.updateProject(w, r, projectID)
		case http.MethodDelete:
			h.deleteProject(w, r, projectID)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "board":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.getBoard(w, r, projectID)

	case parts[1] == "members" && len(parts) <= 3:
		h.handleMembers(w, r, projectID, parts[2:])

	case parts[1] == "labels" && len(parts) <= 3:
		h.handleLabels(w, r, projectID, parts[2:])

	default:
		shared.SendError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	projects, err := h.ProjectRepo.ListByMember(ctx, userID)
	if err != nil {
		log.Printf("Failed to list projects: %v", err)
		shared.SendErrorFor(w, err, "Failed to fetch projects")
		return
	}
	shared.SendJSON(w, http.StatusOK, projects)
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var project models.Project
	if !decodeJSON(w, r, &project) {
		return
	}
	project.ID = uuid.Nil
	project.OwnerID = userID
	project.Members = nil

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.ProjectRepo.Create(ctx, &project); err != nil {
		log.Printf("Failed to create project: %v", err)
		shared.SendErrorFor(w, err, "Failed to create project")
		return
	}
	w.Header().Set("Location", "/projects/"+project.ID.String())
	shared.SendJSON(w, http.StatusCreated, project)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	project, err := h.ProjectRepo.GetByID(ctx, projectID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch project")
		return
	}
	members, err := h.MemberRepo.ListByProject(ctx, projectID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch project")
		return
	}
	project.Members = members
	shared.SendJSON(w, http.StatusOK, project)
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	var patch models.ProjectPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	project, err := h.ProjectRepo.Update(ctx, projectID, patch)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to update project")
		return
	}
	shared.SendJSON(w, http.StatusOK, project)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.ProjectRepo.Delete(ctx, projectID); err != nil {
		log.Printf("Failed to delete project %s: %v", projectID, err)
		shared.SendErrorFor(w, err, "Failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type boardResponse struct {
	ProjectID uuid.UUID     `json:"projectId"`
	Columns   board.Columns `json:"columns"`
}

func (h *Handler) getBoard(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.canJoin(ctx, uuid.Nil, projectID); err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch board")
		return
	}
	tasks, err := h.TaskRepo.ListByProject(ctx, projectID)
	if err != nil {
		shared.SendErrorFor(w, err, "Failed to fetch board")
		return
	}
	shared.SendJSON(w, http.StatusOK, boardResponse{ProjectID: projectID, Columns: board.GroupByStatus(tasks)})
}

func (h *Handler) handleMembers(w http.ResponseWriter, r *http.Request, projectID uuid.UUID, rest []string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		members, err := h.MemberRepo.ListByProject(ctx, projectID)
		if err != nil {
			shared.SendErrorFor(w, err, "Failed to fetch members")
			return
		}
		shared.SendJSON(w, http.StatusOK, members)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var input struct {
			UserID uuid.UUID `json:"userId"`
			Role   string    `json:"role"`
		}
		if !decodeJSON(w, r, &input) {
			return
		}
		member := &models.ProjectMember{ProjectID: projectID, UserID: input.UserID, Role: input.Role}
		if err := h.MemberRepo.Add(ctx, member); err != nil {
			shared.SendErrorFor(w, err, "Failed to add member")
			return
		}
		shared.SendJSON(w, http.StatusCreated, member)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		userID, ok := parseID(w, rest[0], "user ID")
		if !ok {
			return
		}
		if err := h.MemberRepo.Remove(ctx, projectID, userID); err != nil {
			shared.SendErrorFor(w, err, "Failed to remove member")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) handleLabels(w http.ResponseWriter, r *http.Request, projectID uuid.UUID, rest []string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		labels, err := h.LabelRepo.ListByProject(ctx, projectID)
		if err != nil {
			shared.SendErrorFor(w, err, "Failed to fetch labels")
			return
		}
		shared.SendJSON(w, http.StatusOK, labels)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var label models.Label
		if !decodeJSON(w, r, &label) {
			return
		}
		label.ID = uuid.Nil
		label.ProjectID = projectID
		if err := h.LabelRepo.Create(ctx, &label); err != nil {
			shared.SendErrorFor(w, err, "Failed to create label")
			return
		}
		shared.SendJSON(w, http.StatusCreated, label)

	case len(rest) == 1 && r.Method == http.MethodDelete:
		labelID, ok := parseID(w, rest[0], "label ID")
		if !ok {
			return
		}
		if err := h.LabelRepo.Delete(ctx, projectID, labelID); err != nil {
			shared.SendErrorFor(w, err, "Failed to delete label")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}
