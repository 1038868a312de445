package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/services/costs"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// CostCatalogHandler serves read-only price lookups so clients can show a
// price before a generation is started.
type CostCatalogHandler struct {
	catalog *costs.Catalog
}

func NewCostCatalogHandler(catalog *costs.Catalog) *CostCatalogHandler {
	if catalog == nil {
		catalog = costs.Default()
	}
	return &CostCatalogHandler{catalog: catalog}
}

type EstimateRequest struct {
	Operation  string `form:"operation" binding:"required"`
	Provider   string `form:"provider"`
	Quantity   int    `form:"quantity" binding:"omitempty,min=0,max=1000"`
	Resolution string `form:"resolution"`
	Duration   int    `form:"duration" binding:"omitempty,min=0"`
	Characters int    `form:"characters" binding:"omitempty,min=0"`
}

type EstimateResponse struct {
	costs.CostEstimate
	Credits      int64 `json:"credits"`
	CreditsKnown bool  `json:"credits_known"`
}

// Estimate returns the credit price and real cost of an operation
// GET /api/costs/estimate
func (h *CostCatalogHandler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if _, ok := c.GetQuery("quantity"); !ok {
		req.Quantity = 1
	}

	resp := EstimateResponse{CostEstimate: h.catalog.EstimateCost(req.Operation, req.Provider, req.Quantity)}
	resp.Credits, resp.CreditsKnown = h.creditsFor(req)
	response.Success(c, resp)
}

func (h *CostCatalogHandler) creditsFor(req EstimateRequest) (int64, bool) {
	quantity := int64(req.Quantity)
	switch req.Operation {
	case costs.OperationImage:
		return h.catalog.GetImageCreditCost(req.Resolution) * quantity, true
	case costs.OperationVideo:
		return h.catalog.GetVideoCreditCost(req.Duration) * quantity, true
	case costs.OperationVoiceover:
		return h.catalog.GetVoiceoverCreditCost(req.Characters) * quantity, true
	}
	unit, ok := h.catalog.CreditCost(req.Operation)
	return unit * quantity, ok
}

// ImageCredit prices one image and reports its output size
// GET /api/costs/image-credit?resolution=&aspect_ratio=
func (h *CostCatalogHandler) ImageCredit(c *gin.Context) {
	resolution := c.DefaultQuery("resolution", "2k")
	width, height := costs.ImageDimensions(c.DefaultQuery("aspect_ratio", "16:9"), resolution)
	response.Success(c, gin.H{
		"resolution": resolution,
		"credits":    h.catalog.GetImageCreditCost(resolution),
		"width":      width,
		"height":     height,
	})
}

// Providers lists providers with a known real cost
// GET /api/costs/providers?operation=
func (h *CostCatalogHandler) Providers(c *gin.Context) {
	operation := c.Query("operation")
	if operation == "" {
		response.BadRequest(c, "operation is required")
		return
	}
	response.Success(c, gin.H{
		"operation": operation,
		"providers": h.catalog.Providers(operation),
	})
}
