package services

import (
	"context"
	"errors"
	"strings"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CostMultiplierService resolves the per-user factor applied to real cost
// for display. It never touches credit prices.
type CostMultiplierService struct {
	db          *gorm.DB
	markup      decimal.Decimal
	transparent map[string]bool
}

func NewCostMultiplierService(db *gorm.DB, cfg *config.BillingConfig) *CostMultiplierService {
	transparent := make(map[string]bool, len(cfg.TransparentTiers))
	for _, tier := range cfg.TransparentTiers {
		transparent[strings.ToLower(strings.TrimSpace(tier))] = true
	}
	return &CostMultiplierService{
		db:          db,
		markup:      decimal.NewFromFloat(cfg.MarkupMultiplier),
		transparent: transparent,
	}
}

// Markup is the multiplier for every user without a transparent tier.
func (s *CostMultiplierService) Markup() decimal.Decimal {
	return s.markup
}

// GetUserCostMultiplier returns 1 for admins and transparent tiers, the
// markup otherwise. Missing users and unknown tiers get the markup; on a
// store error the markup is returned alongside the error.
func (s *CostMultiplierService) GetUserCostMultiplier(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var user models.User
	err := s.db.WithContext(ctx).Unscoped().Select("id", "role", "billing_tier").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.markup, nil
	}
	if err != nil {
		return s.markup, err
	}
	return s.multiplierFor(&user), nil
}

func (s *CostMultiplierService) multiplierFor(user *models.User) decimal.Decimal {
	if user.IsAdmin() {
		return decimal.NewFromInt(1)
	}
	if user.BillingTier != nil && s.transparent[strings.ToLower(*user.BillingTier)] {
		return decimal.NewFromInt(1)
	}
	return s.markup
}
