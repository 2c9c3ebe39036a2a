package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/api"
	"github.com/garagehq/garage/internal/auth"
	"github.com/garagehq/garage/internal/cache"
	"github.com/garagehq/garage/internal/db"
	"github.com/garagehq/garage/internal/feed"
	"github.com/garagehq/garage/internal/likes"
	"github.com/garagehq/garage/internal/ratelimit"
	"github.com/garagehq/garage/internal/signer"
	"github.com/garagehq/garage/internal/subscription"
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
	logger.Info("Starting Garage feed server")

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

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisCache.Close()

	images := signer.NewImageIssuer(cfg.CDN)
	if err := images.Validate(); err != nil {
		// Not fatal: cached pages can still be served; uncached requests fail with 500
		logger.Error("Image signing is not configured", zap.Error(err))
	}

	repo := db.NewRepository(database.DB)
	identity := auth.NewResolver(cfg.Auth)
	limiter := ratelimit.New(redisCache, ratelimit.WithFailOpen(cfg.RateLimit.FailOpen))

	engine := feed.NewEngine(db.NewPostRepository(repo), images, signer.NewVideoIssuer(cfg.Video), cfg.Feed.SignWorkers)
	feedEndpoint := feed.NewEndpoint(
		limiter,
		identity,
		subscription.NewOracle(db.NewPaymentRepository(repo)),
		feed.NewCache(redisCache, cfg.Feed.CacheTTL),
		engine,
		feed.Limits{
			Window:    cfg.RateLimit.Window,
			Preflight: cfg.RateLimit.PreflightMax,
			Free:      cfg.RateLimit.FreeMax,
			Pro:       cfg.RateLimit.ProMax,
		},
		feed.Tier{PageSize: cfg.Feed.FreePageSize, MaxPosts: cfg.Feed.FreeMaxPosts},
		feed.Tier{PageSize: cfg.Feed.ProPageSize, MaxPosts: cfg.Feed.ProMaxPosts},
	)
	likeService := likes.NewService(db.NewLikeRepository(repo), redisCache, cfg.Likes)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.Deps{
		ServiceName: cfg.Telemetry.ServiceName,
		Feed:        feedEndpoint,
		Likes:       likeService,
		Identity:    identity,
		Health: map[string]api.HealthChecker{
			"database": database,
			"redis":    redisCache,
		},
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.NewEngine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
		metricsSrv = telemetry.NewMetricsServer(cfg.Server.Host, cfg.Telemetry.PrometheusPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
