package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// CostStatsHandler exposes the ledger rollups. Members see their own costs;
// with project_id they see the whole project, including other members'
// spend. Admins may filter by any user_id or none.
type CostStatsHandler struct {
	stats    *services.CostStatsService
	projects *services.ProjectService
}

func NewCostStatsHandler(stats *services.CostStatsService, projects *services.ProjectService) *CostStatsHandler {
	return &CostStatsHandler{stats: stats, projects: projects}
}

func (h *CostStatsHandler) filter(c *gin.Context) (services.CostFilter, bool) {
	var filter services.CostFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, err.Error())
		return filter, false
	}
	if middleware.IsAdmin(c) {
		return filter, true
	}

	userID := middleware.GetUserID(c)
	if filter.ProjectID == nil {
		filter.UserID = userID
		return filter, true
	}
	if _, _, err := h.projects.Access(*filter.ProjectID, userID, false); err != nil {
		writeError(c, err)
		return filter, false
	}
	filter.UserID = 0
	return filter, true
}

// Overview
// GET /api/stats/costs/overview
func (h *CostStatsHandler) Overview(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if middleware.IsAdmin(c) {
		var filter services.CostFilter
		if err := c.ShouldBindQuery(&filter); err == nil && filter.UserID > 0 {
			userID = filter.UserID
		}
	}

	overview, err := h.stats.GetOverview(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, overview)
}

// Projects
// GET /api/stats/costs/projects
func (h *CostStatsHandler) Projects(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	items, err := h.stats.GetProjectCosts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}

// Types
// GET /api/stats/costs/types
func (h *CostStatsHandler) Types(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	items, err := h.stats.GetTypeBreakdown(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}

// Providers
// GET /api/stats/costs/providers
func (h *CostStatsHandler) Providers(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	items, err := h.stats.GetProviderBreakdown(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}

// Regenerations
// GET /api/stats/costs/regenerations
func (h *CostStatsHandler) Regenerations(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	split, err := h.stats.GetRegenerationSplit(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, split)
}

// Trend
// GET /api/stats/costs/trend
func (h *CostStatsHandler) Trend(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	items, err := h.stats.GetDailyTrend(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, items)
}
