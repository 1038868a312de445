package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidReportDate = errors.New("invalid report date")

const (
	costReportLock    = "cost_report"
	costReportLockTTL = 30 * time.Minute
)

// CostReportService rolls each UTC day of the ledger into a cost_reports row.
type CostReportService struct {
	db             *gorm.DB
	configs        *SystemConfigService
	cfg            *config.ReportConfig
	cronScheduler  *cron.Cron
	currentEntryID cron.EntryID
	instanceID     string
	now            func() time.Time
}

func NewCostReportService(db *gorm.DB, cfg *config.ReportConfig) *CostReportService {
	host, _ := os.Hostname()
	return &CostReportService{
		db:         db,
		configs:    NewSystemConfigService(db),
		cfg:        cfg,
		instanceID: host + "-" + uuid.NewString()[:8],
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *CostReportService) StartScheduler() error {
	s.cronScheduler = cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	if err := s.updateSchedule(); err != nil {
		return err
	}
	s.cronScheduler.Start()
	logger.Info().Msg("[CostReport] scheduler started")
	return nil
}

func (s *CostReportService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

func (s *CostReportService) updateSchedule() error {
	if s.currentEntryID != 0 {
		s.cronScheduler.Remove(s.currentEntryID)
	}

	spec := s.cronSpec()
	entryID, err := s.cronScheduler.AddFunc(spec, s.runScheduled)
	if err != nil {
		return fmt.Errorf("schedule cost report %q: %w", spec, err)
	}
	s.currentEntryID = entryID
	logger.Info().Str("cron", spec).Msg("[CostReport] scheduled")
	return nil
}

// cronSpec prefers the HH:MM time from system_configs over report.cron.
func (s *CostReportService) cronSpec() string {
	reportTime := s.configs.GetWithDefault(models.ConfigCostReportTime, "")
	if t, err := time.Parse("15:04", strings.TrimSpace(reportTime)); err == nil {
		return fmt.Sprintf("0 %d %d * * *", t.Minute(), t.Hour())
	}
	return s.cfg.Cron
}

func (s *CostReportService) runScheduled() {
	if !s.cfg.Enabled || !s.configs.GetBool(models.ConfigCostReportEnabled, true) {
		return
	}

	day := startOfDay(s.now()).AddDate(0, 0, -1)
	key := day.Format("2006-01-02")
	acquired, err := s.acquireLock(key)
	if err != nil {
		logger.Error().Err(err).Str("date", key).Msg("[CostReport] failed to acquire lock")
		return
	}
	if !acquired {
		logger.Debug().Str("date", key).Msg("[CostReport] another instance is generating the report")
		return
	}

	if _, err := s.Generate(context.Background(), day); err != nil {
		logger.Error().Err(err).Str("date", key).Msg("[CostReport] failed to generate report")
		LogError("cost_report", "generate", err.Error(), nil, "", "", map[string]string{"date": key})
	}
}

// acquireLock claims the (cost_report, key) lock. An expired lock held by
// another instance is taken over.
func (s *CostReportService) acquireLock(key string) (bool, error) {
	now := s.now()
	lock := models.SchedulerLock{
		LockName:  costReportLock,
		LockKey:   key,
		LockedBy:  s.instanceID,
		LockedAt:  now,
		ExpiresAt: now.Add(costReportLockTTL),
	}
	err := s.db.Create(&lock).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, err
	}

	result := s.db.Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at < ?", costReportLock, key, now).
		Updates(map[string]interface{}{
			"locked_by":  s.instanceID,
			"locked_at":  now,
			"expires_at": now.Add(costReportLockTTL),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

type costReportTotals struct {
	CreditsSpent   int64
	CreditsGranted int64
	RealCost       decimal.Decimal
	Transactions   int64
	TrackOnly      int64
	Spenders       int64
}

// Generate aggregates the UTC day containing day and upserts its report.
func (s *CostReportService) Generate(ctx context.Context, day time.Time) (*models.CostReport, error) {
	start := startOfDay(day)
	end := start.AddDate(0, 0, 1)
	db := s.db.WithContext(ctx)

	window := func() *gorm.DB {
		return db.Model(&models.CreditTransaction{}).Where("created_at >= ? AND created_at < ?", start, end)
	}

	var totals costReportTotals
	if err := window().Select(
		"COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS credits_spent, " +
			"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS credits_granted, " +
			"COALESCE(SUM(CASE WHEN amount <= 0 THEN real_cost ELSE 0 END), 0) AS real_cost, " +
			"COUNT(*) AS transactions, " +
			"COALESCE(SUM(CASE WHEN amount = 0 THEN 1 ELSE 0 END), 0) AS track_only, " +
			"COUNT(DISTINCT CASE WHEN amount < 0 THEN user_id END) AS spenders",
	).Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("report totals: %w", err)
	}

	byProvider, err := s.reportBreakdown(window(), "COALESCE(provider, '"+UnknownProvider+"')")
	if err != nil {
		return nil, err
	}
	byType, err := s.reportBreakdown(window(), "type")
	if err != nil {
		return nil, err
	}

	report := models.CostReport{
		ReportDate:     start,
		CreditsSpent:   totals.CreditsSpent,
		CreditsGranted: totals.CreditsGranted,
		RealCost:       totals.RealCost.Round(realCostScale),
		Transactions:   totals.Transactions,
		TrackOnly:      totals.TrackOnly,
		Spenders:       totals.Spenders,
		ByProvider:     byProvider,
		ByType:         byType,
	}

	var existing models.CostReport
	err = db.Where("report_date = ?", start).First(&existing).Error
	switch {
	case err == nil:
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
		if err := db.Save(&report).Error; err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&report).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	logger.Info().
		Str("date", start.Format("2006-01-02")).
		Int64("credits_spent", report.CreditsSpent).
		Str("real_cost", report.RealCost.String()).
		Int64("transactions", report.Transactions).
		Msg("[CostReport] report generated")
	return &report, nil
}

func (s *CostReportService) reportBreakdown(query *gorm.DB, expr string) (string, error) {
	var rows []groupedCostRow
	if err := query.Where("amount <= 0").
		Select(expr + " AS group_key, " + groupedCostColumns).
		Group(expr).
		Scan(&rows).Error; err != nil {
		return "", fmt.Errorf("report breakdown: %w", err)
	}

	items := make([]CostBreakdown, 0, len(rows))
	for _, row := range rows {
		realCost := row.RealCost.Round(realCostScale)
		items = append(items, CostBreakdown{
			Key:          row.GroupKey,
			Transactions: row.Transactions,
			CreditsSpent: row.CreditsSpent,
			RealCost:     realCost,
			DisplayCost:  realCost,
		})
	}
	sortBreakdown(items)

	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *CostReportService) List(page, pageSize int) ([]models.CostReport, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 30
	}

	var reports []models.CostReport
	var total int64

	if err := s.db.Model(&models.CostReport{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := s.db.Order("report_date DESC").Offset(offset).Limit(pageSize).Find(&reports).Error; err != nil {
		return nil, 0, err
	}

	return reports, total, nil
}

func (s *CostReportService) GetByID(id uint) (*models.CostReport, error) {
	var report models.CostReport
	if err := s.db.First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// Regenerate rebuilds the report for date (YYYY-MM-DD).
func (s *CostReportService) Regenerate(ctx context.Context, date string) (*models.CostReport, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReportDate, err)
	}
	if !day.Before(startOfDay(s.now()).AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("%w: %s is in the future", ErrInvalidReportDate, date)
	}
	return s.Generate(ctx, day)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
