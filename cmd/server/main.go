package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/clinicref/backend/internal/config"
	"github.com/clinicref/backend/internal/database"
	"github.com/clinicref/backend/internal/handlers"
	"github.com/clinicref/backend/internal/jobs"
	"github.com/clinicref/backend/internal/logging"
	"github.com/clinicref/backend/internal/middleware"
	"github.com/clinicref/backend/internal/queue"
	"github.com/clinicref/backend/internal/routes"
	"github.com/clinicref/backend/internal/services/audit"
	"github.com/clinicref/backend/internal/services/commission"
	"github.com/clinicref/backend/internal/services/establishment"
	"github.com/clinicref/backend/internal/services/hierarchy"
	"github.com/clinicref/backend/internal/services/lead"
	"github.com/clinicref/backend/internal/services/ledger"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Initialize Redis client
	redisClient, err := newRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Invalid redis configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	cancel()

	redisQueue := queue.NewRedisQueue(redisClient, db, logger)

	// Initialize services
	hierarchyService := hierarchy.NewService(db)
	configStore := establishment.NewConfigStore(db, redisClient, cfg.Commission.ConfigCacheTTL, logger)
	ledgerStore := ledger.NewStore(db)
	leadService := lead.NewService(db, logger)
	auditLogger := audit.NewAuditLogger(db)

	calculator, err := commission.NewCalculator(configStore, hierarchyService, cfg.CommissionDefaults())
	if err != nil {
		logger.Fatal("Failed to create commission calculator", zap.Error(err))
	}
	processor, err := commission.NewProcessor(commission.ProcessorDeps{
		Store:      ledgerStore,
		Calculator: calculator,
		Publisher:  redisQueue,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Failed to create conversion processor", zap.Error(err))
	}

	// Register job handlers and recurring jobs
	jobs.RegisterAllJobHandlers(redisQueue, jobs.NewCommissionNotificationJob(ledgerStore, auditLogger, logger))

	workerOpts := queue.DefaultWorkerOptions()
	workerOpts.Concurrency = cfg.Queue.Workers
	workerOpts.ReclaimAfter = cfg.Queue.ReclaimAfter
	worker := queue.NewWorker(redisQueue, workerOpts, logger)

	reconcile := jobs.NewCounterReconcileJob(ledgerStore, auditLogger, cfg.Queue.ReconcileRepair, logger)
	if err := jobs.ScheduleRecurringJobs(worker, reconcile, cfg.Queue.ReconcileInterval); err != nil {
		logger.Fatal("Failed to schedule recurring jobs", zap.Error(err))
	}

	if err := worker.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start queue worker", zap.Error(err))
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute)
	rateLimiter.StartCleanup(time.Minute)

	router := routes.NewRouter(routes.Handlers{
		Leads:          handlers.NewLeadHandler(leadService, processor),
		Commissions:    handlers.NewCommissionHandler(ledgerStore, processor),
		Establishments: handlers.NewEstablishmentHandler(calculator, configStore),
		Teams:          handlers.NewTeamHandler(hierarchyService),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}),
	}, routes.Options{
		AllowOrigins: []string{cfg.FrontendURL},
		HSTS:         cfg.IsProduction(),
		Logger:       logger,
		RateLimiter:  rateLimiter,
	})

	srv := startServer(router, cfg.Server, logger)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	worker.Stop()
	rateLimiter.Stop()
	if err := redisQueue.Close(); err != nil {
		logger.Warn("Failed to close redis", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Server exiting")
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return redis.NewClient(opts), nil
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port))
	return srv
}
