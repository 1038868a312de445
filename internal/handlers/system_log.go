package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
}

func NewSystemLogHandler(systemLogService *services.SystemLogService) *SystemLogHandler {
	return &SystemLogHandler{systemLogService: systemLogService}
}

func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.systemLogService.List(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}

func (h *SystemLogHandler) GetModules(c *gin.Context) {
	modules, err := h.systemLogService.GetModules()
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"modules": modules})
}

type RetentionRequest struct {
	Days int `json:"days" binding:"required,min=1,max=3650"`
}

func (h *SystemLogHandler) GetRetention(c *gin.Context) {
	response.Success(c, gin.H{"days": h.systemLogService.GetRetentionDays()})
}

func (h *SystemLogHandler) SetRetention(c *gin.Context) {
	var req RetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.systemLogService.SetRetentionDays(req.Days); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"days": req.Days})
}

// Cleanup deletes logs past the retention window now.
func (h *SystemLogHandler) Cleanup(c *gin.Context) {
	deleted, err := h.systemLogService.CleanupOldLogs(h.systemLogService.GetRetentionDays())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}
