package services

import (
	"context"

	"github.com/aistory-app/aistory/backend/pkg/logger"
)

// LedgerNotifier runs the after-commit side effects of a ledger write:
// cache invalidation, SSE push and metrics. Every field may be nil.
type LedgerNotifier struct {
	cache   CostCache
	hub     *SSEHub
	metrics *LedgerMetrics
}

func NewLedgerNotifier(cache CostCache, hub *SSEHub, metrics *LedgerMetrics) *LedgerNotifier {
	return &LedgerNotifier{cache: cache, hub: hub, metrics: metrics}
}

func (n *LedgerNotifier) committed(ctx context.Context, event LedgerEvent) {
	if n == nil {
		return
	}
	n.invalidate(ctx, event.UserID, event.ProjectID)
	if n.hub != nil {
		n.hub.Publish(event)
	}
}

func (n *LedgerNotifier) invalidate(ctx context.Context, userID uint, projectID *uint) {
	if n == nil || n.cache == nil {
		return
	}
	if err := n.cache.Bump(ctx, ledgerScopes(userID, projectID)...); err != nil {
		// summaries keyed on the old version expire with the cache TTL
		logger.Warn().Err(err).Uint("user_id", userID).Msg("cost cache invalidation failed")
	}
}

func (n *LedgerNotifier) ledgerMetrics() *LedgerMetrics {
	if n == nil {
		return nil
	}
	return n.metrics
}
