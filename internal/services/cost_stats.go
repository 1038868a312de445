package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// UnknownProvider labels rows recorded without a provider.
const UnknownProvider = "unknown"

const (
	overviewTrendDays  = 30
	regenerationBatch  = 500
	realCostScale      = 6
	costStatsKeyFormat = "%s:u%d:p%d:%s:%s:v%s"
)

// CostFilter narrows a rollup. Zero UserID means every user.
type CostFilter struct {
	UserID    uint   `form:"user_id"`
	ProjectID *uint  `form:"project_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

type ProjectCost struct {
	ProjectID    uint            `json:"project_id"`
	ProjectName  string          `json:"project_name"`
	CreditsSpent int64           `json:"credits_spent"`
	RealCost     decimal.Decimal `json:"real_cost"`
	DisplayCost  decimal.Decimal `json:"display_cost"`
	Transactions int64           `json:"transactions"`
	Spends       int64           `json:"spends"`
	TrackOnly    int64           `json:"track_only"`
}

// CostBreakdown is one group of a by-type or by-provider rollup.
type CostBreakdown struct {
	Key          string          `json:"key"`
	Transactions int64           `json:"transactions"`
	CreditsSpent int64           `json:"credits_spent"`
	RealCost     decimal.Decimal `json:"real_cost"`
	DisplayCost  decimal.Decimal `json:"display_cost"`
}

type SplitBucket struct {
	Transactions int64           `json:"transactions"`
	CreditsSpent int64           `json:"credits_spent"`
	RealCost     decimal.Decimal `json:"real_cost"`
}

// RegenerationSplit separates rows flagged metadata.isRegeneration.
type RegenerationSplit struct {
	Generations   SplitBucket `json:"generations"`
	Regenerations SplitBucket `json:"regenerations"`
}

type DailyCost struct {
	Date         string          `json:"date"`
	Transactions int64           `json:"transactions"`
	CreditsSpent int64           `json:"credits_spent"`
	RealCost     decimal.Decimal `json:"real_cost"`
}

type CostOverview struct {
	Balance       int64              `json:"balance"`
	TotalSpent    int64              `json:"total_spent"`
	TotalEarned   int64              `json:"total_earned"`
	Multiplier    decimal.Decimal    `json:"multiplier"`
	RealCost      decimal.Decimal    `json:"real_cost"`
	DisplayCost   decimal.Decimal    `json:"display_cost"`
	Projects      []ProjectCost      `json:"projects"`
	Types         []CostBreakdown    `json:"types"`
	Providers     []CostBreakdown    `json:"providers"`
	Regenerations *RegenerationSplit `json:"regenerations"`
	Trend         []DailyCost        `json:"trend"`
}

// CostStatsService builds read-only rollups over credit_transactions. Only
// spends and track-only rows (amount <= 0) are cost events; grants and
// refunds never show up here.
type CostStatsService struct {
	db          *gorm.DB
	cache       CostCache
	multipliers *CostMultiplierService
	credits     *CreditService
	metrics     *LedgerMetrics
	now         func() time.Time
}

func NewCostStatsService(db *gorm.DB, cache CostCache, multipliers *CostMultiplierService, credits *CreditService, metrics *LedgerMetrics) *CostStatsService {
	return &CostStatsService{
		db:          db,
		cache:       cache,
		multipliers: multipliers,
		credits:     credits,
		metrics:     metrics,
		now:         time.Now,
	}
}

type groupedCostRow struct {
	GroupKey     string
	ProjectID    uint
	CreditsSpent int64
	RealCost     decimal.Decimal
	Transactions int64
	Spends       int64
	TrackOnly    int64
}

const groupedCostColumns = "COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS credits_spent, " +
	"COALESCE(SUM(real_cost), 0) AS real_cost, " +
	"COUNT(*) AS transactions, " +
	"COALESCE(SUM(CASE WHEN amount < 0 THEN 1 ELSE 0 END), 0) AS spends, " +
	"COALESCE(SUM(CASE WHEN amount = 0 THEN 1 ELSE 0 END), 0) AS track_only"

// GetProjectCosts groups cost events by project, most expensive first.
func (s *CostStatsService) GetProjectCosts(ctx context.Context, filter CostFilter) ([]ProjectCost, error) {
	var result []ProjectCost
	err := s.cached(ctx, "projects", filter, &result, func() error {
		query, err := s.costEvents(ctx, filter)
		if err != nil {
			return err
		}
		var rows []groupedCostRow
		if err := query.Where("project_id IS NOT NULL").
			Select("project_id, " + groupedCostColumns).
			Group("project_id").
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("project costs: %w", err)
		}

		multiplier, err := s.filterMultiplier(ctx, filter)
		if err != nil {
			return err
		}

		ids := make([]uint, 0, len(rows))
		result = make([]ProjectCost, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ProjectID)
			realCost := row.RealCost.Round(realCostScale)
			result = append(result, ProjectCost{
				ProjectID:    row.ProjectID,
				CreditsSpent: row.CreditsSpent,
				RealCost:     realCost,
				DisplayCost:  realCost.Mul(multiplier).Round(realCostScale),
				Transactions: row.Transactions,
				Spends:       row.Spends,
				TrackOnly:    row.TrackOnly,
			})
		}

		names, err := s.projectNames(ctx, ids)
		if err != nil {
			return err
		}
		for i := range result {
			result[i].ProjectName = names[result[i].ProjectID]
		}
		sortProjectCosts(result)
		return nil
	})
	return result, err
}

func (s *CostStatsService) GetTypeBreakdown(ctx context.Context, filter CostFilter) ([]CostBreakdown, error) {
	return s.breakdown(ctx, "types", "type", filter)
}

// GetProviderBreakdown reports rows without a provider under UnknownProvider.
func (s *CostStatsService) GetProviderBreakdown(ctx context.Context, filter CostFilter) ([]CostBreakdown, error) {
	return s.breakdown(ctx, "providers", "COALESCE(provider, '"+UnknownProvider+"')", filter)
}

func (s *CostStatsService) breakdown(ctx context.Context, name, expr string, filter CostFilter) ([]CostBreakdown, error) {
	var result []CostBreakdown
	err := s.cached(ctx, name, filter, &result, func() error {
		query, err := s.costEvents(ctx, filter)
		if err != nil {
			return err
		}
		var rows []groupedCostRow
		if err := query.Select(expr + " AS group_key, " + groupedCostColumns).
			Group(expr).
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("%s breakdown: %w", name, err)
		}

		multiplier, err := s.filterMultiplier(ctx, filter)
		if err != nil {
			return err
		}

		result = make([]CostBreakdown, 0, len(rows))
		for _, row := range rows {
			realCost := row.RealCost.Round(realCostScale)
			result = append(result, CostBreakdown{
				Key:          row.GroupKey,
				Transactions: row.Transactions,
				CreditsSpent: row.CreditsSpent,
				RealCost:     realCost,
				DisplayCost:  realCost.Mul(multiplier).Round(realCostScale),
			})
		}
		sortBreakdown(result)
		return nil
	})
	return result, err
}

// GetRegenerationSplit classifies by the caller-set isRegeneration flag,
// never by inference. The JSON column is read in Go so the split works the
// same on every driver.
func (s *CostStatsService) GetRegenerationSplit(ctx context.Context, filter CostFilter) (*RegenerationSplit, error) {
	var result RegenerationSplit
	err := s.cached(ctx, "regenerations", filter, &result, func() error {
		result = RegenerationSplit{}
		query, err := s.costEvents(ctx, filter)
		if err != nil {
			return err
		}

		var batch []models.CreditTransaction
		res := query.Select("id", "amount", "real_cost", "metadata").
			FindInBatches(&batch, regenerationBatch, func(tx *gorm.DB, _ int) error {
				for i := range batch {
					bucket := &result.Generations
					if batch[i].IsRegeneration() {
						bucket = &result.Regenerations
					}
					bucket.Transactions++
					if batch[i].Amount < 0 {
						bucket.CreditsSpent += -batch[i].Amount
					}
					if batch[i].RealCost.Valid {
						bucket.RealCost = bucket.RealCost.Add(batch[i].RealCost.Decimal)
					}
				}
				return nil
			})
		if res.Error != nil {
			return fmt.Errorf("regeneration split: %w", res.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetDailyTrend returns one point per day with activity, oldest first.
func (s *CostStatsService) GetDailyTrend(ctx context.Context, filter CostFilter) ([]DailyCost, error) {
	var result []DailyCost
	err := s.cached(ctx, "trend", filter, &result, func() error {
		query, err := s.costEvents(ctx, filter)
		if err != nil {
			return err
		}
		var rows []groupedCostRow
		if err := query.Select("DATE(created_at) AS group_key, " + groupedCostColumns).
			Group("DATE(created_at)").
			Order("group_key ASC").
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("daily trend: %w", err)
		}

		result = make([]DailyCost, 0, len(rows))
		for _, row := range rows {
			date := row.GroupKey
			if len(date) > 10 {
				date = date[:10]
			}
			result = append(result, DailyCost{
				Date:         date,
				Transactions: row.Transactions,
				CreditsSpent: row.CreditsSpent,
				RealCost:     row.RealCost.Round(realCostScale),
			})
		}
		return nil
	})
	return result, err
}

// GetOverview gathers the user's balance and every rollup in parallel. The
// trend covers the last 30 days.
func (s *CostStatsService) GetOverview(ctx context.Context, userID uint) (*CostOverview, error) {
	filter := CostFilter{UserID: userID}
	trendFilter := CostFilter{
		UserID:    userID,
		StartDate: s.now().UTC().AddDate(0, 0, -(overviewTrendDays - 1)).Format("2006-01-02"),
	}

	overview := &CostOverview{}
	var balance *models.CreditBalance

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = s.credits.GetBalance(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		overview.Multiplier, err = s.multipliers.GetUserCostMultiplier(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		overview.Projects, err = s.GetProjectCosts(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		overview.Types, err = s.GetTypeBreakdown(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		overview.Providers, err = s.GetProviderBreakdown(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		overview.Regenerations, err = s.GetRegenerationSplit(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		overview.Trend, err = s.GetDailyTrend(gctx, trendFilter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	overview.Balance = balance.Balance
	overview.TotalSpent = balance.TotalSpent
	overview.TotalEarned = balance.TotalEarned
	overview.RealCost = decimal.Zero
	for _, t := range overview.Types {
		overview.RealCost = overview.RealCost.Add(t.RealCost)
	}
	overview.DisplayCost = overview.RealCost.Mul(overview.Multiplier).Round(realCostScale)
	return overview, nil
}

// costEvents is the base query every rollup starts from.
func (s *CostStatsService) costEvents(ctx context.Context, filter CostFilter) (*gorm.DB, error) {
	start, end, err := parseDateRange(filter.StartDate, filter.EndDate)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("amount <= 0")
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.ProjectID != nil {
		query = query.Where("project_id = ?", *filter.ProjectID)
	}
	if start != nil {
		query = query.Where("created_at >= ?", *start)
	}
	if end != nil {
		query = query.Where("created_at < ?", *end)
	}
	return query, nil
}

// filterMultiplier is the viewing user's multiplier, or 1 for
// multi-user views.
func (s *CostStatsService) filterMultiplier(ctx context.Context, filter CostFilter) (decimal.Decimal, error) {
	if filter.UserID == 0 || s.multipliers == nil {
		return decimal.NewFromInt(1), nil
	}
	return s.multipliers.GetUserCostMultiplier(ctx, filter.UserID)
}

// projectNames includes soft-deleted projects, whose costs still count.
func (s *CostStatsService) projectNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var projects []models.Project
	if err := s.db.WithContext(ctx).Unscoped().Select("id", "name").Where("id IN ?", ids).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("project names: %w", err)
	}
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	return names, nil
}

// cached serves dst from the cost cache or fills it with load. Cache faults
// fall through to the database.
func (s *CostStatsService) cached(ctx context.Context, name string, filter CostFilter, dst interface{}, load func() error) error {
	if s.cache == nil {
		return load()
	}

	key, err := s.cacheKey(ctx, name, filter)
	if err != nil {
		logger.Warn().Err(err).Str("rollup", name).Msg("cost cache version lookup failed")
		return load()
	}

	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cost cache read failed")
	}
	s.metrics.ObserveCache(hit)
	if hit {
		return nil
	}

	if err := load(); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, key, dst); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cost cache write failed")
	}
	return nil
}

// cacheKey embeds the version of every scope the filter reads, so any
// ledger write in those scopes changes the key.
func (s *CostStatsService) cacheKey(ctx context.Context, name string, filter CostFilter) (string, error) {
	var scopes []string
	if filter.UserID != 0 {
		scopes = append(scopes, userCostScope(filter.UserID))
	}
	if filter.ProjectID != nil {
		scopes = append(scopes, projectCostScope(*filter.ProjectID))
	}
	if len(scopes) == 0 {
		scopes = append(scopes, globalCostScope)
	}

	versions := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		v, err := s.cache.Version(ctx, scope)
		if err != nil {
			return "", err
		}
		versions = append(versions, fmt.Sprint(v))
	}

	var projectID uint
	if filter.ProjectID != nil {
		projectID = *filter.ProjectID
	}
	return fmt.Sprintf(costStatsKeyFormat, name, filter.UserID, projectID, filter.StartDate, filter.EndDate, strings.Join(versions, ".")), nil
}

func sortProjectCosts(items []ProjectCost) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreditsSpent != items[j].CreditsSpent {
			return items[i].CreditsSpent > items[j].CreditsSpent
		}
		return items[i].ProjectID < items[j].ProjectID
	})
}

func sortBreakdown(items []CostBreakdown) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreditsSpent != items[j].CreditsSpent {
			return items[i].CreditsSpent > items[j].CreditsSpent
		}
		return items[i].Key < items[j].Key
	})
}
