package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports database, queue and SSE state.
type HealthHandler struct {
	db    *gorm.DB
	hub   *services.SSEHub
	queue func() services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, hub *services.SSEHub, queue func() services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, hub: hub, queue: queue}
}

// CheckHealth answers 503 when the ledger store is unreachable.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	if err := h.pingDB(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if q := h.queue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	var recentCount int64
	if dbStatus == "ok" {
		h.db.WithContext(c.Request.Context()).Table("credit_transactions").
			Where("created_at >= ?", time.Now().Add(-24*time.Hour)).
			Count(&recentCount)
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "aistory",
		"components": gin.H{
			"database":         dbStatus,
			"queue_mode":       queueMode,
			"sse_clients":      h.hub.ClientCount(),
			"transactions_24h": recentCount,
		},
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
