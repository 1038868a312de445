package services

import (
	"context"
	"testing"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statsFixture struct {
	*testLedger
	stats    *CostStatsService
	user     *models.User
	trailer  *models.Project
	pilot    *models.Project
	otherUID uint
}

// newStatsFixture records a small production day: two projects, a
// regeneration, a prepaid track-only row and a spend without provider.
func newStatsFixture(t *testing.T) *statsFixture {
	t.Helper()
	l := newTestLedger(t)
	ctx := context.Background()

	user := l.fund(t, "director", 100)
	other := l.fund(t, "editor", 100)
	trailer := &models.Project{Name: "Trailer", OwnerID: user.ID}
	pilot := &models.Project{Name: "Pilot", OwnerID: user.ID}
	require.NoError(t, l.db.Create(trailer).Error)
	require.NoError(t, l.db.Create(pilot).Error)

	spends := []SpendRequest{
		{UserID: user.ID, Amount: 27, Type: models.TxTypeImage, Provider: strPtr("gemini"), RealCost: realCost("0.24"), ProjectID: &trailer.ID},
		{UserID: user.ID, Amount: 20, Type: models.TxTypeVideo, Provider: strPtr("kie"), RealCost: realCost("0.10"), ProjectID: &trailer.ID,
			Metadata: map[string]interface{}{models.MetaIsRegeneration: true}},
		{UserID: user.ID, Amount: 2, Type: models.TxTypeScene, ProjectID: &pilot.ID},
		{UserID: other.ID, Amount: 5, Type: models.TxTypeMusic, Provider: strPtr("suno"), RealCost: realCost("0.05")},
	}
	for _, req := range spends {
		result, err := l.credits.SpendCredits(ctx, req)
		require.NoError(t, err)
		require.True(t, result.Success)
	}
	_, err := l.costs.TrackRealCostOnly(ctx, TrackRequest{
		UserID:    user.ID,
		RealCost:  realCost("0.24"),
		Type:      models.TxTypeImage,
		Provider:  strPtr("gemini"),
		ProjectID: &trailer.ID,
		Metadata:  map[string]interface{}{models.MetaPrepaidRegeneration: true},
	})
	require.NoError(t, err)

	multipliers := NewCostMultiplierService(l.db, &config.BillingConfig{MarkupMultiplier: 1.5, TransparentTiers: []string{"admin"}})
	return &statsFixture{
		testLedger: l,
		stats:      NewCostStatsService(l.db, l.cache, multipliers, l.credits, l.metrics),
		user:       user,
		trailer:    trailer,
		pilot:      pilot,
		otherUID:   other.ID,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "got %s, expected %s", got, want)
}

func TestGetProjectCosts(t *testing.T) {
	f := newStatsFixture(t)

	projects, err := f.stats.GetProjectCosts(context.Background(), CostFilter{UserID: f.user.ID})
	require.NoError(t, err)
	require.Len(t, projects, 2)

	trailer := projects[0]
	assert.Equal(t, f.trailer.ID, trailer.ProjectID)
	assert.Equal(t, "Trailer", trailer.ProjectName)
	assert.Equal(t, int64(47), trailer.CreditsSpent)
	assertDecimal(t, "0.58", trailer.RealCost)
	assertDecimal(t, "0.87", trailer.DisplayCost)
	assert.Equal(t, int64(3), trailer.Transactions)
	assert.Equal(t, int64(2), trailer.Spends)
	assert.Equal(t, int64(1), trailer.TrackOnly)

	pilot := projects[1]
	assert.Equal(t, int64(2), pilot.CreditsSpent)
	assertDecimal(t, "0", pilot.RealCost)
	assert.Zero(t, pilot.TrackOnly)
}

func TestGetProjectCosts_SoftDeletedProjectKeepsName(t *testing.T) {
	f := newStatsFixture(t)
	require.NoError(t, f.db.Delete(f.pilot).Error)

	projects, err := f.stats.GetProjectCosts(context.Background(), CostFilter{ProjectID: &f.pilot.ID})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Pilot", projects[0].ProjectName)
	assertDecimal(t, "0", projects[0].DisplayCost)
}

func TestGetTypeBreakdown(t *testing.T) {
	f := newStatsFixture(t)

	types, err := f.stats.GetTypeBreakdown(context.Background(), CostFilter{UserID: f.user.ID})
	require.NoError(t, err)
	require.Len(t, types, 3)

	assert.Equal(t, models.TxTypeImage, types[0].Key)
	assert.Equal(t, int64(2), types[0].Transactions)
	assert.Equal(t, int64(27), types[0].CreditsSpent)
	assertDecimal(t, "0.48", types[0].RealCost)
	assertDecimal(t, "0.72", types[0].DisplayCost)

	assert.Equal(t, models.TxTypeVideo, types[1].Key)
	assert.Equal(t, models.TxTypeScene, types[2].Key)
}

func TestGetProviderBreakdown_UnknownProvider(t *testing.T) {
	f := newStatsFixture(t)

	providers, err := f.stats.GetProviderBreakdown(context.Background(), CostFilter{})
	require.NoError(t, err)

	byKey := make(map[string]CostBreakdown)
	for _, p := range providers {
		byKey[p.Key] = p
	}
	require.Len(t, byKey, 4)
	assert.Equal(t, int64(2), byKey[UnknownProvider].CreditsSpent)
	assertDecimal(t, "0.05", byKey["suno"].RealCost)
	// multi-user views are shown at cost
	assertDecimal(t, "0.48", byKey["gemini"].DisplayCost)
}

func TestGetRegenerationSplit(t *testing.T) {
	f := newStatsFixture(t)

	split, err := f.stats.GetRegenerationSplit(context.Background(), CostFilter{UserID: f.user.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(1), split.Regenerations.Transactions)
	assert.Equal(t, int64(20), split.Regenerations.CreditsSpent)
	assertDecimal(t, "0.1", split.Regenerations.RealCost)

	assert.Equal(t, int64(3), split.Generations.Transactions)
	assert.Equal(t, int64(29), split.Generations.CreditsSpent)
	assertDecimal(t, "0.48", split.Generations.RealCost)
}

func TestGetDailyTrend(t *testing.T) {
	f := newStatsFixture(t)
	today := time.Now().UTC().Format("2006-01-02")

	trend, err := f.stats.GetDailyTrend(context.Background(), CostFilter{UserID: f.user.ID, StartDate: today, EndDate: today})
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assert.Equal(t, today, trend[0].Date)
	assert.Equal(t, int64(49), trend[0].CreditsSpent)
	assert.Equal(t, int64(4), trend[0].Transactions)
	assertDecimal(t, "0.58", trend[0].RealCost)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	empty, err := f.stats.GetDailyTrend(context.Background(), CostFilter{UserID: f.user.ID, EndDate: yesterday})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetOverview(t *testing.T) {
	f := newStatsFixture(t)

	overview, err := f.stats.GetOverview(context.Background(), f.user.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(51), overview.Balance)
	assert.Equal(t, int64(49), overview.TotalSpent)
	assert.Equal(t, int64(100), overview.TotalEarned)
	assertDecimal(t, "1.5", overview.Multiplier)
	assertDecimal(t, "0.58", overview.RealCost)
	assertDecimal(t, "0.87", overview.DisplayCost)
	assert.Len(t, overview.Projects, 2)
	assert.Len(t, overview.Types, 3)
	assert.Len(t, overview.Providers, 3)
	require.NotNil(t, overview.Regenerations)
	assert.Len(t, overview.Trend, 1)
}

func TestCostStats_CacheInvalidatedByLedgerWrite(t *testing.T) {
	f := newStatsFixture(t)
	ctx := context.Background()
	filter := CostFilter{UserID: f.user.ID}

	first, err := f.stats.GetTypeBreakdown(ctx, filter)
	require.NoError(t, err)
	cached, err := f.stats.GetTypeBreakdown(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, first[0].CreditsSpent, cached[0].CreditsSpent)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cacheLookups.WithLabelValues("hit")))

	_, err = f.credits.SpendCredits(ctx, SpendRequest{UserID: f.user.ID, Amount: 48, Type: models.TxTypeImage, Provider: strPtr("gemini")})
	require.NoError(t, err)

	fresh, err := f.stats.GetTypeBreakdown(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(75), fresh[0].CreditsSpent)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cacheLookups.WithLabelValues("hit")))

	// another user's write leaves this user's summary cached
	_, err = f.credits.SpendCredits(ctx, SpendRequest{UserID: f.otherUID, Amount: 1, Type: models.TxTypePrompt})
	require.NoError(t, err)
	_, err = f.stats.GetTypeBreakdown(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.cacheLookups.WithLabelValues("hit")))
}

func TestCostStats_InvalidDate(t *testing.T) {
	f := newStatsFixture(t)

	_, err := f.stats.GetTypeBreakdown(context.Background(), CostFilter{StartDate: "17/10/2026"})
	assert.Error(t, err)
}

func TestGetOverview_TrendWindowUsesUTCDays(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	user := l.createUser(t, "nightowl", models.RoleUser, nil)
	rows := []models.CreditTransaction{
		{UserID: user.ID, Amount: -3, Type: models.TxTypeImage, CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{UserID: user.ID, Amount: -4, Type: models.TxTypeImage, CreatedAt: time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)},
	}
	require.NoError(t, l.db.Create(&rows).Error)

	multipliers := NewCostMultiplierService(l.db, &config.BillingConfig{MarkupMultiplier: 1})
	stats := NewCostStatsService(l.db, l.cache, multipliers, l.credits, l.metrics)
	// 21:00 on Mar 30 at UTC-4 is already Mar 31 in UTC
	stats.now = func() time.Time {
		return time.Date(2026, 3, 30, 21, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60))
	}

	overview, err := stats.GetOverview(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, overview.Trend, 1)
	assert.Equal(t, "2026-03-02", overview.Trend[0].Date)
	assert.Equal(t, int64(4), overview.Trend[0].CreditsSpent)
}
