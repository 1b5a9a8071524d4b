package handlers

import (
	"log"
	"net/http"

	"github.com/chepyr/go-task-tracker/shared"
	"github.com/gorilla/websocket"
)

// HandleWebSocket upgrades the request and hands the connection to the
// hub. Rooms are joined afterwards with join frames.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if !h.RateLimiter.Allow(clientIP(r)) {
		shared.SendError(w, "Too many WebSocket connection attempts", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	h.Hub.Serve(r.Context(), conn, userID)
}
