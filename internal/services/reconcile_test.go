package services

import (
	"context"
	"testing"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReconcile_CleanLedger(t *testing.T) {
	l := newTestLedger(t)
	u := l.fund(t, "clean", 100)
	_, err := l.credits.SpendCredits(context.Background(), SpendRequest{UserID: u.ID, Amount: 27, Type: models.TxTypeImage})
	require.NoError(t, err)

	drifts, err := l.credits.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile_ReportsAndFixesDrift(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	u := l.fund(t, "drifted", 100)
	_, err := l.credits.SpendCredits(ctx, SpendRequest{UserID: u.ID, Amount: 20, Type: models.TxTypeVideo})
	require.NoError(t, err)

	// simulate a write that bypassed the service
	require.NoError(t, l.db.Model(&models.CreditBalance{}).Where("user_id = ?", u.ID).Update("balance", 500).Error)

	drifts, err := l.credits.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, u.ID, drifts[0].UserID)
	assert.Equal(t, int64(500), drifts[0].Balance)
	assert.Equal(t, int64(80), drifts[0].LedgerSum)
	assert.Equal(t, int64(500), l.balance(t, u.ID).Balance, "report-only run must not write")

	_, err = l.credits.Reconcile(ctx, true)
	require.NoError(t, err)

	b := l.balance(t, u.ID)
	assert.Equal(t, int64(80), b.Balance)
	assert.Equal(t, int64(20), b.TotalSpent)
	assert.Equal(t, int64(100), b.TotalEarned)

	drifts, err = l.credits.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile_TrackOnlyRowsNeedNoBalance(t *testing.T) {
	l := newTestLedger(t)
	u := l.createUser(t, "tracked", models.RoleUser, nil)
	_, err := l.costs.TrackRealCostOnly(context.Background(), TrackRequest{
		UserID:   u.ID,
		RealCost: realCost("0.24"),
		Type:     models.TxTypeImage,
	})
	require.NoError(t, err)

	drifts, err := l.credits.Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcile_FixKeepsSpendCommittedMidScan(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	u := l.fund(t, "busy", 100)

	// a 27-credit spend commits after the ledger sums are read and before
	// the balances are, so the scan sees sum 100 against balance 73
	spent := false
	err := l.db.Callback().Query().Before("gorm:query").Register("test:spend_mid_reconcile", func(db *gorm.DB) {
		if spent || db.Statement.Table != "credit_balances" {
			return
		}
		spent = true
		result, err := l.credits.SpendCredits(context.Background(), SpendRequest{UserID: u.ID, Amount: 27, Type: models.TxTypeImage})
		if assert.NoError(t, err) {
			assert.True(t, result.Success)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.db.Callback().Query().Remove("test:spend_mid_reconcile") })

	drifts, err := l.credits.Reconcile(ctx, true)
	require.NoError(t, err)
	require.True(t, spent)
	assert.Empty(t, drifts, "nothing still disagrees once re-read under the lock")

	b := l.balance(t, u.ID)
	assert.Equal(t, int64(73), b.Balance)
	assert.Equal(t, int64(27), b.TotalSpent)
	assert.Equal(t, int64(100), b.TotalEarned)
	assert.Len(t, l.transactions(t, u.ID), 2)

	drifts, err = l.credits.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
