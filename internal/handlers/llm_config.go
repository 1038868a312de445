package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type LLMConfigHandler struct {
	llmConfigService *services.LLMConfigService
}

func NewLLMConfigHandler(llmConfigService *services.LLMConfigService) *LLMConfigHandler {
	return &LLMConfigHandler{llmConfigService: llmConfigService}
}

func (h *LLMConfigHandler) List(c *gin.Context) {
	var req services.LLMConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.llmConfigService.List(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}

func (h *LLMConfigHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	config, err := h.llmConfigService.GetByID(id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, config)
}

func (h *LLMConfigHandler) Create(c *gin.Context) {
	var req services.CreateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	config, err := h.llmConfigService.Create(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, config)
}

func (h *LLMConfigHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	config, err := h.llmConfigService.Update(id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, config)
}

func (h *LLMConfigHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.llmConfigService.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "config deleted successfully"})
}

// GetActive lists the configs projects may pick from.
func (h *LLMConfigHandler) GetActive(c *gin.Context) {
	configs, err := h.llmConfigService.GetActive()
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, configs)
}
