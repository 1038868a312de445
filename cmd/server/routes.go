package main

import (
	"github.com/aistory-app/aistory/backend/internal/handlers"
	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, app *application) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(app.db, app.hub, func() services.TaskQueue { return app.taskQueue })
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(app.metrics))

	authHandler := handlers.NewAuthHandler(app.auth)
	creditHandler := handlers.NewCreditHandler(app.credits, app.realCosts)
	projectHandler := handlers.NewProjectHandler(app.projects)
	llmConfigHandler := handlers.NewLLMConfigHandler(app.llmConfigs)

	api := r.Group("/api")
	{
		// Auth routes (public, rate limited per IP)
		auth := api.Group("/auth", app.authLimiter.Middleware())
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", authHandler.Register)
			auth.POST("/refresh", authHandler.Refresh)
		}

		protected := api.Group("", middleware.AuthRequired(), middleware.IdempotencyKey())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.PUT("/auth/password", authHandler.ChangePassword)

			// Ledger
			protected.GET("/credits/balance", creditHandler.Balance)
			protected.GET("/credits/transactions", creditHandler.Transactions)

			// Price catalog
			catalogHandler := handlers.NewCostCatalogHandler(app.catalog)
			protected.GET("/costs/estimate", catalogHandler.Estimate)
			protected.GET("/costs/image-credit", catalogHandler.ImageCredit)
			protected.GET("/costs/providers", catalogHandler.Providers)

			// Cost stats
			statsHandler := handlers.NewCostStatsHandler(app.stats, app.projects)
			stats := protected.Group("/stats/costs")
			stats.GET("/overview", statsHandler.Overview)
			stats.GET("/projects", statsHandler.Projects)
			stats.GET("/types", statsHandler.Types)
			stats.GET("/providers", statsHandler.Providers)
			stats.GET("/regenerations", statsHandler.Regenerations)
			stats.GET("/trend", statsHandler.Trend)

			// Projects and members
			protected.GET("/projects", projectHandler.List)
			protected.POST("/projects", projectHandler.Create)
			protected.GET("/projects/:id", projectHandler.GetByID)
			protected.PUT("/projects/:id", projectHandler.Update)
			protected.DELETE("/projects/:id", projectHandler.Delete)
			protected.GET("/projects/:id/members", projectHandler.ListMembers)
			protected.POST("/projects/:id/members", projectHandler.AddMember)
			protected.PUT("/projects/:id/members/:memberID", projectHandler.UpdateMember)
			protected.DELETE("/projects/:id/members/:memberID", projectHandler.RemoveMember)

			// Metered generation (rate limited per user)
			generationHandler := handlers.NewGenerationHandler(app.generation, app.projects)
			protected.POST("/projects/:id/prompt/enhance", app.generationLimiter.Middleware(), generationHandler.EnhancePrompt)

			protected.GET("/llm-configs/active", llmConfigHandler.GetActive)

			// Ledger events (EventSource passes ?access_token=)
			sseHandler := handlers.NewSSEHandler(app.hub)
			protected.GET("/events/ledger", sseHandler.StreamLedgerEvents)
		}

		admin := api.Group("/admin", middleware.AuthRequired(), middleware.AdminRequired(), middleware.IdempotencyKey(), middleware.AuditLog())
		{
			admin.POST("/credits/grant", creditHandler.Grant)
			admin.POST("/credits/track", creditHandler.Track)
			admin.GET("/credits/transactions", creditHandler.UserTransactions)

			userHandler := handlers.NewUserHandler(app.users)
			admin.GET("/users", userHandler.List)
			admin.GET("/users/:id", userHandler.GetByID)
			admin.POST("/users", userHandler.Create)
			admin.PUT("/users/:id", userHandler.Update)
			admin.DELETE("/users/:id", userHandler.Delete)

			admin.GET("/llm-configs", llmConfigHandler.List)
			admin.GET("/llm-configs/:id", llmConfigHandler.GetByID)
			admin.POST("/llm-configs", llmConfigHandler.Create)
			admin.PUT("/llm-configs/:id", llmConfigHandler.Update)
			admin.DELETE("/llm-configs/:id", llmConfigHandler.Delete)

			systemConfigHandler := handlers.NewSystemConfigHandler(app.configs)
			admin.GET("/system-config", systemConfigHandler.List)
			admin.PUT("/system-config", systemConfigHandler.BatchUpdate)

			systemLogHandler := handlers.NewSystemLogHandler(app.systemLogs)
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)
			admin.GET("/system-logs/retention", systemLogHandler.GetRetention)
			admin.PUT("/system-logs/retention", systemLogHandler.SetRetention)
			admin.POST("/system-logs/cleanup", systemLogHandler.Cleanup)

			costReportHandler := handlers.NewCostReportHandler(app.costReports)
			admin.GET("/cost-reports", costReportHandler.List)
			admin.GET("/cost-reports/:id", costReportHandler.GetByID)
			admin.POST("/cost-reports/regenerate", costReportHandler.Regenerate)
		}
	}
}
