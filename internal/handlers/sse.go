package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sseHeartbeat = 25 * time.Second

// SSEHandler streams ledger events to the browser.
type SSEHandler struct {
	hub *services.SSEHub
}

func NewSSEHandler(hub *services.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// StreamLedgerEvents pushes the caller's balance changes and new ledger
// rows. Admins may pass ?all=true to watch every user.
// GET /api/events/ledger
func (h *SSEHandler) StreamLedgerEvents(c *gin.Context) {
	userID := middleware.GetUserID(c)
	subscribeTo := userID
	if middleware.IsAdmin(c) && c.Query("all") == "true" {
		subscribeTo = 0
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	events := h.hub.Subscribe(clientID, subscribeTo)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Uint("user_id", userID).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}
