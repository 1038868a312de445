package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var reportDay = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

func newTestCostReports(t *testing.T) (*CostReportService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, models.Seed(db))
	s := NewCostReportService(db, &config.ReportConfig{Enabled: true, Cron: "0 30 1 * * *"})
	s.now = func() time.Time { return reportDay.Add(24*time.Hour + 5*time.Minute) }
	return s, db
}

func insertLedgerRow(t *testing.T, db *gorm.DB, userID uint, amount int64, txType string, provider *string, cost string, at time.Time) {
	t.Helper()
	row := &models.CreditTransaction{UserID: userID, Amount: amount, Type: txType, Provider: provider, CreatedAt: at}
	if cost != "" {
		row.RealCost = realCost(cost)
	}
	require.NoError(t, db.Create(row).Error)
}

func seedReportDay(t *testing.T, db *gorm.DB) {
	t.Helper()
	insertLedgerRow(t, db, 1, 100, models.TxTypeGrant, nil, "", reportDay.Add(8*time.Hour))
	insertLedgerRow(t, db, 1, -27, models.TxTypeImage, strPtr("gemini"), "0.24", reportDay.Add(10*time.Hour))
	insertLedgerRow(t, db, 1, 0, models.TxTypeImage, strPtr("gemini"), "0.24", reportDay.Add(10*time.Hour+time.Second))
	insertLedgerRow(t, db, 2, -20, models.TxTypeVideo, strPtr("kie"), "0.10", reportDay.Add(23*time.Hour+59*time.Minute))
	insertLedgerRow(t, db, 2, 1, models.TxTypeRefund, nil, "", reportDay.Add(23*time.Hour+59*time.Minute+time.Second))
	insertLedgerRow(t, db, 3, -2, models.TxTypeScene, nil, "", reportDay.Add(12*time.Hour))

	// outside the day
	insertLedgerRow(t, db, 1, -5, models.TxTypeMusic, strPtr("suno"), "0.05", reportDay.Add(-time.Second))
	insertLedgerRow(t, db, 1, -5, models.TxTypeMusic, strPtr("suno"), "0.05", reportDay.Add(24*time.Hour))
}

func TestCostReportService_Generate(t *testing.T) {
	s, db := newTestCostReports(t)
	seedReportDay(t, db)

	report, err := s.Generate(context.Background(), reportDay.Add(15*time.Hour))
	require.NoError(t, err)

	assert.True(t, report.ReportDate.Equal(reportDay))
	assert.Equal(t, int64(49), report.CreditsSpent)
	assert.Equal(t, int64(101), report.CreditsGranted)
	assert.True(t, report.RealCost.Equal(decimal.RequireFromString("0.58")), "real cost = %s", report.RealCost)
	assert.Equal(t, int64(6), report.Transactions)
	assert.Equal(t, int64(1), report.TrackOnly)
	assert.Equal(t, int64(3), report.Spenders)

	var providers []CostBreakdown
	require.NoError(t, json.Unmarshal([]byte(report.ByProvider), &providers))
	require.Len(t, providers, 3)
	assert.Equal(t, "gemini", providers[0].Key)
	assert.Equal(t, int64(27), providers[0].CreditsSpent)
	assert.Equal(t, int64(2), providers[0].Transactions)
	assert.True(t, providers[0].RealCost.Equal(decimal.RequireFromString("0.48")))
	assert.Equal(t, "kie", providers[1].Key)
	assert.Equal(t, UnknownProvider, providers[2].Key)

	var types []CostBreakdown
	require.NoError(t, json.Unmarshal([]byte(report.ByType), &types))
	keys := make([]string, 0, len(types))
	for _, b := range types {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []string{"image", "video", "scene"}, keys)
}

func TestCostReportService_RegenerateUpserts(t *testing.T) {
	s, db := newTestCostReports(t)
	seedReportDay(t, db)
	ctx := context.Background()

	first, err := s.Regenerate(ctx, "2026-10-16")
	require.NoError(t, err)

	insertLedgerRow(t, db, 4, -15, models.TxTypeMusic, strPtr("suno"), "0.05", reportDay.Add(20*time.Hour))
	second, err := s.Regenerate(ctx, "2026-10-16")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(64), second.CreditsSpent)
	assert.Equal(t, int64(4), second.Spenders)

	reports, total, err := s.List(1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, reports, 1)

	_, err = s.Regenerate(ctx, "16/10/2026")
	assert.ErrorIs(t, err, ErrInvalidReportDate)
	_, err = s.Regenerate(ctx, "2026-10-18")
	assert.ErrorIs(t, err, ErrInvalidReportDate)
}

func TestCostReportService_EmptyDay(t *testing.T) {
	s, _ := newTestCostReports(t)

	report, err := s.Generate(context.Background(), reportDay)
	require.NoError(t, err)
	assert.Zero(t, report.Transactions)
	assert.True(t, report.RealCost.IsZero())
	assert.JSONEq(t, `[]`, report.ByProvider)
}

func TestCostReportService_Lock(t *testing.T) {
	s, db := newTestCostReports(t)
	other := NewCostReportService(db, s.cfg)
	other.now = s.now

	ok, err := s.acquireLock("2026-10-16")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = other.acquireLock("2026-10-16")
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	later := s.now().Add(costReportLockTTL + time.Minute)
	other.now = func() time.Time { return later }
	ok, err = other.acquireLock("2026-10-16")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")

	var lock models.SchedulerLock
	require.NoError(t, db.Where("lock_name = ?", costReportLock).First(&lock).Error)
	assert.Equal(t, other.instanceID, lock.LockedBy)
}

func TestCostReportService_RunScheduled(t *testing.T) {
	s, db := newTestCostReports(t)
	seedReportDay(t, db)

	s.runScheduled()

	var report models.CostReport
	require.NoError(t, db.First(&report).Error)
	assert.True(t, report.ReportDate.Equal(reportDay))
	assert.Equal(t, int64(49), report.CreditsSpent)

	// a second instance skips the day already claimed
	other := NewCostReportService(db, s.cfg)
	other.now = s.now
	insertLedgerRow(t, db, 4, -15, models.TxTypeMusic, strPtr("suno"), "0.05", reportDay.Add(20*time.Hour))
	other.runScheduled()
	require.NoError(t, db.First(&report).Error)
	assert.Equal(t, int64(49), report.CreditsSpent)
}

func TestCostReportService_Disabled(t *testing.T) {
	s, db := newTestCostReports(t)
	seedReportDay(t, db)
	require.NoError(t, s.configs.Set(models.ConfigCostReportEnabled, "false"))

	s.runScheduled()

	var count int64
	require.NoError(t, db.Model(&models.CostReport{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCostReportService_CronSpec(t *testing.T) {
	s, _ := newTestCostReports(t)
	assert.Equal(t, "0 5 0 * * *", s.cronSpec())

	require.NoError(t, s.configs.Set(models.ConfigCostReportTime, "23:45"))
	assert.Equal(t, "0 45 23 * * *", s.cronSpec())

	require.NoError(t, s.configs.Set(models.ConfigCostReportTime, "late"))
	assert.Equal(t, "0 30 1 * * *", s.cronSpec())

	require.NoError(t, s.StartScheduler())
	s.StopScheduler()
}
