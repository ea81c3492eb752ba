package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/delivery/http/middleware"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

// Dependencies are the services behind the HTTP API.
type Dependencies struct {
	Tests    TestRunner
	Jobs     JobQueue
	Catalog  Catalog
	Wrappers *wrapper.Registry
	Health   map[string]HealthCheck
}

// RouterOptions tune the middleware chain.
type RouterOptions struct {
	RateLimitPerMin int
	MaxBodyBytes    int64
	StreamInterval  time.Duration
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps Dependencies, opts RouterOptions, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(deps.Health, logger)
		v1.GET("/health", healthHandler.Health)

		langHandler := NewLanguageHandler(deps.Catalog, deps.Wrappers)
		v1.GET("/languages", langHandler.List)

		limited := v1.Group("", middleware.RateLimiter(opts.RateLimitPerMin, time.Minute), middleware.BodySizeLimit(opts.MaxBodyBytes))

		execHandler := NewExecutionHandler(deps.Tests, logger)
		limited.POST("/executions", execHandler.Execute)

		jobHandler := NewJobHandler(deps.Jobs, deps.Catalog, logger)
		limited.POST("/jobs", jobHandler.Enqueue)
		v1.GET("/jobs/:id", jobHandler.GetByID)
		limited.DELETE("/jobs/:id", jobHandler.Cancel)

		wsHandler := NewWebSocketHandler(deps.Jobs, opts.StreamInterval, logger)
		v1.GET("/jobs/:id/stream", wsHandler.Stream)
	}

	return router
}
