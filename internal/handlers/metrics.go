package handlers

import (
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics serves the ledger registry in the Prometheus text format.
func Metrics(metrics *services.LedgerMetrics) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}
