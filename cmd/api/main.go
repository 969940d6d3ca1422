package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/kentpulse/kentpulse-api/api/swagger"
	"github.com/kentpulse/kentpulse-api/internal/repository"
	"github.com/kentpulse/kentpulse-api/internal/router"
	"github.com/kentpulse/kentpulse-api/internal/service"
	"github.com/kentpulse/kentpulse-api/pkg/cache"
	"github.com/kentpulse/kentpulse-api/pkg/config"
	"github.com/kentpulse/kentpulse-api/pkg/database"
	"github.com/kentpulse/kentpulse-api/pkg/jobs"
	"github.com/kentpulse/kentpulse-api/pkg/logger"
	"github.com/kentpulse/kentpulse-api/pkg/storage"
)

// @title KentPulse API
// @version 1.0.0
// @description Municipal issue reporting and tracking platform
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "kentpulse-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	issueSvc := service.NewIssueService(issueRepo, userRepo, cacheRepo, validate, logr, service.IssueLimits{
		Enabled:       cfg.RateLimit.Enabled,
		PerDay:        int64(cfg.RateLimit.IssuesPerDay),
		CounterPrefix: cfg.RateLimit.CounterPrefix,
	})
	dashboardSvc := service.NewDashboardService(issueRepo, cacheSvc, logr, service.DashboardServiceConfig{
		CacheTTL: cfg.Dashboard.CacheTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err, "dir", cfg.Reports.StorageDir)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(dashboardSvc, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	var reportSvc *service.ReportService
	var queue *jobs.Queue
	if cfg.Reports.Enabled {
		worker := service.NewReportWorker(reportRepo, exportSvc, metrics, cfg.Reports.WorkerRetries, logr)
		queue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			BufferSize: 64,
			MaxRetries: cfg.Reports.WorkerRetries,
			RetryDelay: 5 * time.Second,
			Logger:     logr,
		})
		queue.Start(ctx)

		reportSvc = service.NewReportService(reportRepo, queue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	engine := router.New(router.Dependencies{
		Config:    cfg,
		Logger:    logr,
		UserRepo:  userRepo,
		Auth:      authSvc,
		Users:     userSvc,
		Issues:    issueSvc,
		Dashboard: dashboardSvc,
		Exports:   exportSvc,
		Reports:   reportSvc,
		Metrics:   metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
	if queue != nil {
		queue.Stop()
	}
}
