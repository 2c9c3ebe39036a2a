package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/garagehq/garage/internal/auth"
	"github.com/garagehq/garage/internal/feed"
	"github.com/garagehq/garage/internal/likes"
	"github.com/garagehq/garage/pkg/logging"
)

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// FeedServer serves feed requests
type FeedServer interface {
	Serve(ctx context.Context, req feed.Request) feed.Response
}

// LikeToggler toggles likes
type LikeToggler interface {
	Toggle(ctx context.Context, userID, postID int64) (*likes.Result, error)
}

// Identity resolves the caller from request headers
type Identity interface {
	Resolve(headers http.Header) *auth.Caller
}

// Deps holds everything the router serves
type Deps struct {
	ServiceName string
	Feed        FeedServer
	Likes       LikeToggler
	Identity    Identity
	Health      map[string]HealthChecker
}

// Router sets up API routes
type Router struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	if deps.ServiceName == "" {
		deps.ServiceName = "garage-feed"
	}
	return &Router{
		deps:   deps,
		logger: logging.WithComponent("api-router"),
	}
}

// SetupRoutes installs middleware and routes on engine
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.Use(
		recovery(r.logger),
		requestID(),
		otelgin.Middleware(r.deps.ServiceName),
		accessLog(),
		gzip.Gzip(gzip.DefaultCompression),
	)

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/feed", r.feedHandler)
	engine.POST("/likes/toggle", r.toggleLikeHandler)
}

// NewEngine returns a gin engine with all routes installed
func (r *Router) NewEngine() *gin.Engine {
	engine := gin.New()
	r.SetupRoutes(engine)
	return engine
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(r.deps.Health))
	status := http.StatusOK
	for name, checker := range r.deps.Health {
		if err := checker.Health(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "OK"
	}

	overall := "OK"
	if status != http.StatusOK {
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": r.deps.ServiceName,
		"checks":  checks,
	})
}
