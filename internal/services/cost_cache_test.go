package services

import (
	"context"
	"testing"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValkeyCostCache(t *testing.T) (CostCache, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	cache, err := NewCostCache(&config.CacheConfig{
		Enabled:      true,
		URL:          "redis://" + mini.Addr(),
		TTLSeconds:   60,
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache, mini
}

func TestValkeyCostCache_GetSet(t *testing.T) {
	cache, mini := newValkeyCostCache(t)
	ctx := context.Background()

	var missing []CostBreakdown
	hit, err := cache.Get(ctx, "types:u1", &missing)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "types:u1", []CostBreakdown{{Key: "image", CreditsSpent: 27}}))
	assert.True(t, mini.Exists(costCachePrefix+"types:u1"))

	var got []CostBreakdown
	hit, err = cache.Get(ctx, "types:u1", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, int64(27), got[0].CreditsSpent)

	mini.FastForward(61 * time.Second)
	hit, err = cache.Get(ctx, "types:u1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestValkeyCostCache_VersionBump(t *testing.T) {
	cache, mini := newValkeyCostCache(t)
	ctx := context.Background()

	v, err := cache.Version(ctx, userCostScope(7))
	require.NoError(t, err)
	assert.Zero(t, v)

	projectID := uint(3)
	require.NoError(t, cache.Bump(ctx, ledgerScopes(7, &projectID)...))
	require.NoError(t, cache.Bump(ctx, ledgerScopes(7, nil)...))

	v, err = cache.Version(ctx, userCostScope(7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = cache.Version(ctx, projectCostScope(3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	raw, err := mini.Get(costVersionPrefix + globalCostScope)
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
}

func TestValkeyCostCache_ServerDown(t *testing.T) {
	cache, mini := newValkeyCostCache(t)
	mini.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var dst []CostBreakdown
	_, err := cache.Get(ctx, "types:u1", &dst)
	assert.Error(t, err)
	assert.Error(t, cache.Bump(ctx, globalCostScope))
}

func TestNewCostCache_InvalidURL(t *testing.T) {
	_, err := NewCostCache(&config.CacheConfig{Enabled: true, URL: "://nope"})
	assert.Error(t, err)
}

func TestMemoryCostCache(t *testing.T) {
	cache, err := NewCostCache(&config.CacheConfig{Enabled: false, TTLSeconds: 30})
	require.NoError(t, err)
	mem, ok := cache.(*MemoryCostCache)
	require.True(t, ok, "disabled cache should fall back to memory, got %T", cache)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mem.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "trend", []DailyCost{{Date: "2026-01-02", CreditsSpent: 9}}))
	var got []DailyCost
	hit, err := mem.Get(ctx, "trend", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "2026-01-02", got[0].Date)

	now = now.Add(30 * time.Second)
	hit, err = mem.Get(ctx, "trend", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, mem.Bump(ctx, "user:1", "user:1"))
	v, err := mem.Version(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestLedgerScopes(t *testing.T) {
	projectID := uint(12)
	assert.Equal(t, []string{"all", "user:5"}, ledgerScopes(5, nil))
	assert.Equal(t, []string{"all", "user:5", "project:12"}, ledgerScopes(5, &projectID))
}
