package services

import (
	"context"
	"testing"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type testLedger struct {
	db      *gorm.DB
	cache   *MemoryCostCache
	hub     *SSEHub
	metrics *LedgerMetrics
	credits *CreditService
	costs   *RealCostService
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	db := newTestDB(t)
	cache := NewMemoryCostCache(time.Minute)
	hub := NewSSEHub()
	metrics := NewLedgerMetrics()
	notifier := NewLedgerNotifier(cache, hub, metrics)
	return &testLedger{
		db:      db,
		cache:   cache,
		hub:     hub,
		metrics: metrics,
		credits: NewCreditService(db, notifier),
		costs:   NewRealCostService(db, notifier),
	}
}

func (l *testLedger) createUser(t *testing.T, username, role string, tier *string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Role: role, BillingTier: tier, IsActive: true}
	require.NoError(t, l.db.Create(user).Error)
	return user
}

// fund creates a user holding amount credits from a single grant.
func (l *testLedger) fund(t *testing.T, username string, amount int64) *models.User {
	t.Helper()
	user := l.createUser(t, username, models.RoleUser, nil)
	if amount > 0 {
		_, err := l.credits.AddCredits(context.Background(), GrantRequest{UserID: user.ID, Amount: amount, Description: "test funding"})
		require.NoError(t, err)
	}
	return user
}

func (l *testLedger) balance(t *testing.T, userID uint) *models.CreditBalance {
	t.Helper()
	b, err := l.credits.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (l *testLedger) transactions(t *testing.T, userID uint) []models.CreditTransaction {
	t.Helper()
	var rows []models.CreditTransaction
	require.NoError(t, l.db.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error)
	return rows
}

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }

func realCost(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}
