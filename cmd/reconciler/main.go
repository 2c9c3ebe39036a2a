package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/db"
	"github.com/garagehq/garage/internal/reconcile"
	"github.com/garagehq/garage/pkg/config"
	"github.com/garagehq/garage/pkg/logging"
	"github.com/garagehq/garage/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Garage like reconciler")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
		metricsSrv := telemetry.NewMetricsServer(cfg.Server.Host, cfg.Telemetry.PrometheusPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	reconciler := reconcile.New(db.NewLikeRepository(db.NewRepository(database.DB)), cfg.Reconciler)

	if cfg.Reconciler.ForceRecount {
		logger.Info("Forced full recount requested")
		fixed, err := reconciler.RunOnce(ctx)
		if err != nil {
			logger.Fatal("Forced recount failed", zap.Error(err))
		}
		logger.Info("Forced recount finished", zap.Int("fixed", fixed))
	}

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Reconciler stopped", zap.Error(err))
	}

	logger.Info("Reconciler exited")
}
