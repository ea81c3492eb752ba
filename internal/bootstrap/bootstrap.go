// Package bootstrap builds the components shared by the binaries from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/config"
	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/repository"
	"github.com/Harsh-BH/gauntlet/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/gauntlet/internal/repository/redis"
	"github.com/Harsh-BH/gauntlet/internal/repository/sqlite"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// Store is an opened job store with its health probe and cleanup.
type Store struct {
	repository.JobStore
	Ping  func(ctx context.Context) error
	Close func()
}

// OpenStore opens the job store selected by QUEUE_DRIVER and applies its schema.
func OpenStore(ctx context.Context, cfg config.QueueConfig, databaseURL string, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping PostgreSQL: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Connected to PostgreSQL")
		return &Store{JobStore: postgres.NewPostgresJobStore(pool), Ping: pool.Ping, Close: pool.Close}, nil

	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite job store", zap.String("path", cfg.SQLitePath))
		return &Store{JobStore: s, Ping: s.DB.PingContext, Close: func() { _ = s.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown queue driver %q (want postgres or sqlite)", cfg.Driver)
}

// OpenRedis connects the status cache client. An empty URL disables the cache.
func OpenRedis(ctx context.Context, url string, logger *zap.Logger) (*goredis.Client, repository.StatusCache, error) {
	if url == "" {
		return nil, nil, nil
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse Redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping Redis: %w", err)
	}
	logger.Info("Connected to Redis")
	return client, redisrepo.NewRedisStatusCache(client), nil
}

// QueueOptions maps configuration onto queue options.
func QueueOptions(cfg config.QueueConfig) queue.Options {
	return queue.Options{
		Retry: domain.RetryPolicy{
			Limit:   cfg.RetryLimit,
			Delay:   cfg.RetryDelay,
			Backoff: cfg.RetryBackoff,
		},
		CompletedTTL:        cfg.CompletedTTL,
		FailedTTL:           cfg.FailedTTL,
		ActiveExpiry:        cfg.ActiveExpiry,
		MaintenanceInterval: cfg.MaintenanceInterval,
	}
}

// Profiles returns the language profiles with configured template overrides.
func Profiles(cfg config.SandboxConfig) sandbox.Profiles {
	return sandbox.DefaultProfiles().WithTemplates(cfg.Templates)
}

// NewRunner builds the sandbox runner on the configured backend. The returned
// cleanup releases the backend.
func NewRunner(cfg config.SandboxConfig, logger *zap.Logger) (*sandbox.Runner, func(), error) {
	var (
		backend sandbox.Backend
		cleanup = func() {}
	)
	switch cfg.Backend {
	case "docker":
		b, err := sandbox.NewDockerBackend(sandbox.DockerOptions{
			DockerPath: cfg.DockerPath,
			Image:      cfg.Image,
			MemoryMB:   cfg.MemoryMB,
			CPUs:       cfg.CPUs,
			PidsLimit:  cfg.PidsLimit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("docker backend: %w", err)
		}
		backend, cleanup = b, func() { _ = b.Close() }
	case "local":
		logger.Warn("Running untrusted code without isolation; use the local backend for development only")
		backend = sandbox.NewLocalBackend()
	default:
		return nil, nil, fmt.Errorf("unknown sandbox backend %q (want docker or local)", cfg.Backend)
	}

	runner := sandbox.NewRunner(backend, Profiles(cfg), sandbox.Options{
		WorkDir:         cfg.WorkDir,
		TimeoutOverride: cfg.TimeoutOverride,
		ReapDelay:       cfg.ReapDelay,
	}, logger)
	return runner, cleanup, nil
}
