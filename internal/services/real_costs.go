package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TrackRequest records a real provider cost without moving credits. It is
// also the payload of the cost:track task.
type TrackRequest struct {
	UserID         uint                   `json:"user_id" binding:"required"`
	RealCost       decimal.NullDecimal    `json:"real_cost"`
	Type           string                 `json:"type" binding:"required"`
	Description    string                 `json:"description"`
	ProjectID      *uint                  `json:"project_id"`
	Provider       *string                `json:"provider"`
	Metadata       map[string]interface{} `json:"metadata"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// RealCostService writes track-only ledger rows. It never reads or writes a
// balance, so it cannot fail for lack of credits and does not contend with
// spends.
type RealCostService struct {
	db       *gorm.DB
	notifier *LedgerNotifier
}

func NewRealCostService(db *gorm.DB, notifier *LedgerNotifier) *RealCostService {
	return &RealCostService{db: db, notifier: notifier}
}

// TrackRealCostOnly inserts one amount = 0 row carrying req.RealCost.
func (s *RealCostService) TrackRealCostOnly(ctx context.Context, req TrackRequest) (*models.CreditTransaction, error) {
	if err := validateEntry(req.UserID, req.Type); err != nil {
		return nil, err
	}
	if !req.RealCost.Valid || req.RealCost.Decimal.IsNegative() {
		return nil, ErrInvalidRealCost
	}

	db := s.db.WithContext(ctx)
	if req.IdempotencyKey != "" {
		prior, err := findByIdempotencyKey(db, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	entry := &models.CreditTransaction{
		UserID:         req.UserID,
		Amount:         0,
		RealCost:       req.RealCost,
		Type:           req.Type,
		Provider:       req.Provider,
		Description:    req.Description,
		ProjectID:      req.ProjectID,
		Metadata:       req.Metadata,
		IdempotencyKey: optionalKey(req.IdempotencyKey),
	}
	if err := db.Create(entry).Error; err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			if prior, lookupErr := findByIdempotencyKey(db, req.UserID, req.IdempotencyKey); lookupErr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, fmt.Errorf("track real cost: %w", err)
	}

	metrics := s.notifier.ledgerMetrics()
	metrics.ObserveTrack(req.Type)
	metrics.ObserveRealCost(req.Type, req.Provider, req.RealCost)
	logger.Info().
		Uint("user_id", req.UserID).
		Str("type", req.Type).
		Str("provider", providerLabel(req.Provider)).
		Str("real_cost", req.RealCost.Decimal.String()).
		Msg("real cost tracked")

	s.notifier.committed(ctx, LedgerEvent{
		Kind:          LedgerEventTrack,
		UserID:        req.UserID,
		TransactionID: entry.ID,
		Type:          req.Type,
		Provider:      req.Provider,
		ProjectID:     req.ProjectID,
		RealCost:      realCostPtr(req.RealCost),
	})
	return entry, nil
}

// ProcessTrackTask is the queue processor for cost:track tasks.
func (s *RealCostService) ProcessTrackTask(ctx context.Context, task *TrackRequest) error {
	_, err := s.TrackRealCostOnly(ctx, *task)
	if errors.Is(err, ErrInvalidRealCost) || errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrMissingType) {
		// malformed payloads never succeed on retry
		logger.Error().Err(err).Uint("user_id", task.UserID).Msg("dropping invalid cost:track task")
		return nil
	}
	return err
}

// CostTracker is the fire-and-forget entry point for real-cost tracking.
// Tasks carry an idempotency key so queue retries do not duplicate rows.
type CostTracker struct {
	queue TaskQueue
}

func NewCostTracker(queue TaskQueue) *CostTracker {
	return &CostTracker{queue: queue}
}

// TrackKey derives the cost:track idempotency key from a request key.
func TrackKey(key string) string {
	return "track:" + key
}

// Track enqueues req. Errors are logged and never returned.
func (t *CostTracker) Track(req TrackRequest) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = TrackKey(uuid.NewString())
	}
	if err := t.queue.Enqueue(&req); err != nil {
		logger.Error().
			Err(err).
			Uint("user_id", req.UserID).
			Str("type", req.Type).
			Str("real_cost", formatRealCost(req.RealCost)).
			Msg("failed to enqueue cost:track task")
	}
}
