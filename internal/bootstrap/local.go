package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/orchestrator"
	"github.com/Harsh-BH/gauntlet/internal/pool"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/repository"
	"github.com/Harsh-BH/gauntlet/internal/usecase"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

// LocalOptions configure an in-process pipeline.
type LocalOptions struct {
	Queue        queue.Options
	Pool         pool.Options
	Orchestrator orchestrator.Options
}

// Local is a queue, worker pool and orchestrator running in one process,
// woken through a LocalNotifier.
type Local struct {
	Queue        *queue.Queue
	Orchestrator *orchestrator.Orchestrator

	pool   *pool.WorkerPool
	cancel context.CancelFunc
}

// StartLocal wires and starts an in-process pipeline over store. Stop must be called.
func StartLocal(ctx context.Context, store repository.JobStore, runner repository.Runner, catalog orchestrator.Catalog, wrappers *wrapper.Registry, opts LocalOptions, logger *zap.Logger) *Local {
	size := opts.Pool.Size
	if size < 1 {
		size = 1
	}
	notifier := queue.NewLocalNotifier(size * 4)
	q := queue.New(store, nil, notifier, opts.Queue, logger)

	ctx, cancel := context.WithCancel(ctx)
	workers := pool.NewWorkerPool(opts.Pool, q, usecase.NewExecuteJobUsecase(q, runner, logger), notifier.C(), logger)
	workers.Start(ctx)
	go q.RunMaintenance(ctx)

	return &Local{
		Queue:        q,
		Orchestrator: orchestrator.New(q, wrappers, catalog, opts.Orchestrator, logger),
		pool:         workers,
		cancel:       cancel,
	}
}

// Stop cancels the workers and waits for them.
func (l *Local) Stop() {
	l.cancel()
	l.pool.Stop()
}
