package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SendWave/internal/alert"
	"SendWave/internal/api"
	"SendWave/internal/billing"
	"SendWave/internal/config"
	"SendWave/internal/dispatch"
	"SendWave/internal/engine"
	"SendWave/internal/ledger"
	"SendWave/internal/metrics"
	"SendWave/internal/provider"
	"SendWave/internal/scheduler"
	"SendWave/internal/store"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	jobStore, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer jobStore.Close()

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Messaging Provider
	// ------------------------------------------------
	providerClient := provider.NewClient(cfg.ProviderURL, cfg.ProviderToken, cfg.ProviderTimeout, logger)

	// ------------------------------------------------
	// Rate Limiter (global, shared across jobs)
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Dispatcher
	// ------------------------------------------------
	dispatcher := dispatch.New(providerClient, limiter, logger, cfg.RetryAttempts)

	// ------------------------------------------------
	// Billing
	// ------------------------------------------------
	mailer := alert.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.AlertTo, logger)
	pointsLedger := ledger.NewPostgres(jobStore.Pool, logger)
	reconciler := billing.NewReconciler(jobStore, pointsLedger, mailer, logger)

	// ------------------------------------------------
	// Orchestrator + Scheduler
	// ------------------------------------------------
	orchestrator := engine.NewOrchestrator(jobStore, dispatcher, reconciler, logger, cfg.FlushEvery)

	active := scheduler.NewActiveJobs()
	sched := scheduler.New(jobStore, orchestrator, active, logger, scheduler.Options{
		ScanInterval:    cfg.ScanInterval,
		ReclaimInterval: cfg.ReclaimInterval,
		LockWindow:      cfg.LockTimeout,
		ScanBatch:       cfg.ScanBatch,
		MaxActive:       cfg.MaxActiveJobs,
	})

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	// ------------------------------------------------
	// Status API Server
	// ------------------------------------------------
	statusHandler := &api.Handler{
		Active: active,
		Log:    logger,
	}

	statusMux := http.NewServeMux()
	statusMux.HandleFunc("/healthz", statusHandler.Health)
	statusMux.HandleFunc("/jobs/active", statusHandler.ActiveJobs)

	statusServer := &http.Server{
		Addr:    ":" + cfg.StatusPort,
		Handler: statusMux,
	}

	go func() {
		logger.Info("status server started", zap.String("port", cfg.StatusPort))
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("status server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	// Wait for in-flight jobs to suspend or finish.
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("engine shutdown complete")
}
