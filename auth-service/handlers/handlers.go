package handlers

import (
	"net/http"
	"time"

	"github.com/chepyr/go-task-tracker/internal/db"
	"github.com/chepyr/go-task-tracker/internal/ratelimit"
)

const (
	requestTimeout = 5 * time.Second
	tokenTTL       = 24 * time.Hour
)

type Handler struct {
	UserRepo    db.UserRepositoryInterface
	RateLimiter *ratelimit.RateLimiter
	JWTSecret   string
}

// Register mounts the auth routes on mux.
func (handler *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/register", handler.HandleRegister)
	mux.HandleFunc("/login", handler.HandleLogin)
}

// allow applies the per-IP rate limit, if one is configured.
func (handler *Handler) allow(request *http.Request) bool {
	return handler.RateLimiter == nil || handler.RateLimiter.Allow(request.RemoteAddr)
}
