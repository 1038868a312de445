package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type GenerationHandler struct {
	generation *services.GenerationService
	projects   *services.ProjectService
}

func NewGenerationHandler(generation *services.GenerationService, projects *services.ProjectService) *GenerationHandler {
	return &GenerationHandler{generation: generation, projects: projects}
}

// EnhancePrompt charges the caller and rewrites the project prompt.
// Readers are refused before any credits move.
// POST /api/projects/:id/prompt/enhance
func (h *GenerationHandler) EnhancePrompt(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.EnhancePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.IdempotencyKey = middleware.GetIdempotencyKey(c)

	userID := middleware.GetUserID(c)
	project, member, err := h.projects.Access(projectID, userID, middleware.IsAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !member.CanGenerate() {
		response.Forbidden(c, "readers cannot run generations")
		return
	}

	result, err := h.generation.EnhancePrompt(c.Request.Context(), userID, project, req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}
