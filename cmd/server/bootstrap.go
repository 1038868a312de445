package main

import (
	"context"
	"fmt"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/internal/services/costs"
	"github.com/aistory-app/aistory/backend/internal/utils"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"gorm.io/gorm"
)

// application holds the wired services shared by the routes.
type application struct {
	cfg     *config.Config
	db      *gorm.DB
	catalog *costs.Catalog
	cache   services.CostCache
	hub     *services.SSEHub
	metrics *services.LedgerMetrics

	taskQueue services.TaskQueue
	worker    *services.Worker

	credits     *services.CreditService
	realCosts   *services.RealCostService
	stats       *services.CostStatsService
	projects    *services.ProjectService
	users       *services.UserService
	auth        *services.AuthService
	generation  *services.GenerationService
	llmConfigs  *services.LLMConfigService
	configs     *services.SystemConfigService
	systemLogs  *services.SystemLogService
	costReports *services.CostReportService

	generationLimiter *middleware.RateLimiter
	authLimiter       *middleware.RateLimiter
	stopCleanup       context.CancelFunc
}

// bootstrap opens the database and wires every service. Background jobs
// (worker, report cron, log cleanup) are started here and stopped by
// shutdown.
func bootstrap(ctx context.Context, cfg *config.Config) (*application, error) {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db := models.GetDB()
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := models.Seed(db); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	services.InitSystemLogger(db)

	catalog := costs.Default()
	if cfg.Billing.PricingFile != "" {
		loaded, err := costs.Load(cfg.Billing.PricingFile)
		if err != nil {
			return nil, fmt.Errorf("load pricing file: %w", err)
		}
		catalog = loaded
	}

	cache, err := services.NewCostCache(&cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Cost cache unavailable, using in-process cache")
		fallback := cfg.Cache
		fallback.Enabled = false
		cache, _ = services.NewCostCache(&fallback)
	}

	app := &application{
		cfg:     cfg,
		db:      db,
		catalog: catalog,
		cache:   cache,
		hub:     services.GetSSEHub(),
		metrics: services.NewLedgerMetrics(),
	}

	notifier := services.NewLedgerNotifier(app.cache, app.hub, app.metrics)
	app.credits = services.NewCreditService(db, notifier)
	app.realCosts = services.NewRealCostService(db, notifier)

	// Real-cost tracking goes through asynq when Redis is enabled, otherwise
	// it runs in-process.
	app.taskQueue = services.InitTaskQueue(cfg)
	if syncQueue, ok := app.taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(app.realCosts.ProcessTrackTask)
	}
	if worker := services.NewWorker(&cfg.Redis); worker != nil {
		worker.SetProcessor(app.realCosts.ProcessTrackTask)
		if err := worker.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start async worker")
		} else {
			app.worker = worker
		}
	}
	app.metrics.RegisterRuntimeGauges(db, app.hub, services.GetTaskQueue)

	multipliers := services.NewCostMultiplierService(db, &cfg.Billing)
	app.stats = services.NewCostStatsService(db, app.cache, multipliers, app.credits, app.metrics)
	app.projects = services.NewProjectService(db)
	app.users = services.NewUserService(db, app.credits, cfg.Billing.SignupCredits)
	app.auth = services.NewAuthService(db, &cfg.JWT, app.users)
	app.llmConfigs = services.NewLLMConfigService(db)
	app.configs = services.NewSystemConfigService(db)
	app.systemLogs = services.NewSystemLogService(db)
	app.generation = services.NewGenerationService(
		app.credits,
		services.NewCostTracker(app.taskQueue),
		services.NewLLMService(db, &cfg.OpenAI),
		catalog,
	)

	app.costReports = services.NewCostReportService(db, &cfg.Report)
	if err := app.costReports.StartScheduler(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start cost report scheduler")
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	app.stopCleanup = cancel
	services.StartLogCleanupScheduler(cleanupCtx, db)

	app.generationLimiter = middleware.NewRateLimiter(cfg.RateLimit.GenerationRPS, cfg.RateLimit.GenerationBurst)
	app.authLimiter = middleware.NewRateLimiter(1, 10)

	if err := app.auth.CreateAdminIfNotExists(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return app, nil
}

// shutdown stops background jobs, drains the task queue and closes the
// stores. In-flight track tasks finish before the database is closed.
func (a *application) shutdown() {
	a.costReports.StopScheduler()
	a.stopCleanup()
	a.generationLimiter.Stop()
	a.authLimiter.Stop()
	logger.Info().Msg("All schedulers stopped")

	if a.worker != nil {
		a.worker.Stop()
	}
	if a.taskQueue != nil {
		if err := a.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	a.cache.Close()
	if err := models.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close database")
	}
}
