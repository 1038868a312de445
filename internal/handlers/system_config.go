package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// List returns every config row, or one group with ?group=.
func (h *SystemConfigHandler) List(c *gin.Context) {
	var err error
	var configs interface{}
	if group := c.Query("group"); group != "" {
		configs, err = h.configService.GetByGroup(group)
	} else {
		configs, err = h.configService.List()
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, configs)
}

// BatchUpdate sets several keys at once; nothing is written when one value
// fails its type check.
func (h *SystemConfigHandler) BatchUpdate(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if len(values) == 0 {
		response.BadRequest(c, "no fields to update")
		return
	}

	if err := h.configService.BatchUpdate(values); err != nil {
		writeError(c, err)
		return
	}
	h.List(c)
}
