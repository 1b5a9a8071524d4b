package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chepyr/go-task-tracker/internal/config"
	"github.com/chepyr/go-task-tracker/internal/ratelimit"
	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/tasks-service/db"
	"github.com/chepyr/go-task-tracker/tasks-service/realtime"
	"github.com/google/uuid"
)

// SocketIDHeader names the websocket connection that issued a request. That
// connection is left out of the resulting broadcast.
const SocketIDHeader = "X-Socket-ID"

const requestTimeout = 5 * time.Second

type Handler struct {
	ProjectRepo *db.ProjectRepository
	MemberRepo  *db.MemberRepository
	LabelRepo   *db.LabelRepository
	TaskRepo    *db.TaskRepository
	CommentRepo *db.CommentRepository
	RateLimiter *ratelimit.RateLimiter
	Hub         *realtime.Hub
	Config      *config.Config
}

func New(dbConn *sql.DB, cfg *config.Config) *Handler {
	h := &Handler{
		ProjectRepo: db.NewProjectRepository(dbConn),
		MemberRepo:  db.NewMemberRepository(dbConn),
		LabelRepo:   db.NewLabelRepository(dbConn),
		TaskRepo:    db.NewTaskRepository(dbConn),
		CommentRepo: db.NewCommentRepository(dbConn),
		RateLimiter: ratelimit.New(cfg.WSRateLimit, cfg.WSRateWindow),
		Hub:         realtime.NewHub(),
		Config:      cfg,
	}
	h.Hub.CanJoin = h.canJoin
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/projects", h.AuthMiddleware(h.HandleProjects))
	mux.HandleFunc("/projects/", h.AuthMiddleware(h.HandleProjectByID))
	mux.HandleFunc("/tasks", h.AuthMiddleware(h.HandleTasks))
	mux.HandleFunc("/tasks/", h.AuthMiddleware(h.HandleTaskByID))
	mux.HandleFunc("/ws", h.AuthMiddleware(h.HandleWebSocket))
}

// Close releases the hub and the rate limiter.
func (h *Handler) Close() {
	h.Hub.Close()
	h.RateLimiter.Stop()
}

func (h *Handler) canJoin(ctx context.Context, _, projectID uuid.UUID) error {
	ok, err := h.ProjectRepo.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NewNotFoundError("project", projectID.String())
	}
	return nil
}

// publish announces a committed write to the project's room.
func (h *Handler) publish(r *http.Request, projectID uuid.UUID, event string, payload any) {
	if h.Hub == nil {
		return
	}
	h.Hub.Publish(projectID, event, payload, r.Header.Get(SocketIDHeader))
}

// pathParts splits what follows prefix into its non-empty segments.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.SendError(w, "Invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(ct), "application/json")
}

// decodeJSON reads a JSON body of at most 1MB into v, writing the error
// response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSONContentType(r) {
		shared.SendError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		shared.SendError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	shared.SendError(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkOrigin accepts requests without an Origin header, which come from
// non-browser clients.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.Config == nil {
		return true
	}
	return h.Config.OriginAllowed(origin)
}
