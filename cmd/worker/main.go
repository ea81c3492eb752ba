package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/bootstrap"
	"github.com/Harsh-BH/gauntlet/internal/config"
	amqpdelivery "github.com/Harsh-BH/gauntlet/internal/delivery/amqp"
	"github.com/Harsh-BH/gauntlet/internal/pool"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Gauntlet Execution Worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	runner, closeRunner, err := bootstrap.NewRunner(cfg.Sandbox, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sandbox", zap.Error(err))
	}
	defer closeRunner()

	// Broker deliveries and maintenance both land on the local wake channel.
	wake := queue.NewLocalNotifier(cfg.Worker.Concurrency * 4)
	q := queue.New(store, cache, wake, bootstrap.QueueOptions(cfg.Queue), logger)
	executeUC := usecase.NewExecuteJobUsecase(q, runner, logger)

	workerPool := pool.NewWorkerPool(pool.Options{
		Size:         cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.FetchBatchSize,
	}, q, executeUC, wake.C(), logger)
	workerPool.Start(ctx)

	go q.RunMaintenance(ctx)

	if cfg.RabbitMQ.URL != "" {
		consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, wake, logger)
		if err != nil {
			logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
		}
		defer consumer.Close()
		logger.Info("Connected to RabbitMQ")

		go func() {
			if err := consumer.Start(ctx); err != nil {
				// Polling keeps jobs moving without the broker.
				logger.Error("AMQP consumer stopped", zap.Error(err))
			}
		}()
	}

	// Start Prometheus metrics server
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	// Wait for workers to finish in-flight jobs
	workerPool.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}
