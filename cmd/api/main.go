package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/bootstrap"
	"github.com/Harsh-BH/gauntlet/internal/config"
	handler "github.com/Harsh-BH/gauntlet/internal/delivery/http"
	"github.com/Harsh-BH/gauntlet/internal/orchestrator"
	"github.com/Harsh-BH/gauntlet/internal/publisher"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Gauntlet API Server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)
	ctx := context.Background()

	store, err := bootstrap.OpenStore(ctx, cfg.Queue, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to open job store", zap.Error(err))
	}
	defer store.Close()

	rdb, cache, err := bootstrap.OpenRedis(ctx, cfg.Redis.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	health := map[string]handler.HealthCheck{"jobstore": store.Ping}
	if rdb != nil {
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Workers also poll, so a missing broker only delays pickup.
	var notifier queue.Notifier
	if cfg.RabbitMQ.URL != "" {
		pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
		}
		defer pub.Close()
		notifier = pub
		logger.Info("Connected to RabbitMQ")
	}

	q := queue.New(store, cache, notifier, bootstrap.QueueOptions(cfg.Queue), logger)
	profiles := bootstrap.Profiles(cfg.Sandbox)
	wrappers := wrapper.Load(wrapper.NewRegistry(), wrapper.Builtin(), logger)
	orch := orchestrator.New(q, wrappers, profiles, orchestrator.Options{
		PollInterval:    cfg.Orchestrator.PollInterval,
		MaxPollAttempts: cfg.Orchestrator.MaxPollAttempts,
	}, logger)

	router := handler.NewRouter(handler.Dependencies{
		Tests:    orch,
		Jobs:     q,
		Catalog:  profiles,
		Wrappers: wrappers,
		Health:   health,
	}, handler.RouterOptions{
		RateLimitPerMin: cfg.Server.RateLimit,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
