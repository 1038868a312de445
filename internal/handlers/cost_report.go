package handlers

import (
	"strconv"

	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type CostReportHandler struct {
	reports *services.CostReportService
}

func NewCostReportHandler(reports *services.CostReportService) *CostReportHandler {
	return &CostReportHandler{reports: reports}
}

type RegenerateReportRequest struct {
	Date string `json:"date" binding:"required"`
}

// List
// GET /api/admin/cost-reports
func (h *CostReportHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "30"))

	reports, total, err := h.reports.List(page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 30
	}
	response.Page(c, reports, total, page, pageSize)
}

// GetByID
// GET /api/admin/cost-reports/:id
func (h *CostReportHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	report, err := h.reports.GetByID(id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// Regenerate rebuilds one day's report
// POST /api/admin/cost-reports/regenerate
func (h *CostReportHandler) Regenerate(c *gin.Context) {
	var req RegenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	report, err := h.reports.Regenerate(c.Request.Context(), req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}
