package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/usecase"
)

// Options sizes the pool.
type Options struct {
	Size         int
	PollInterval time.Duration
	BatchSize    int
}

// WorkerPool runs a fixed number of workers that claim jobs from the queue.
// A worker wakes on a notification or on its poll tick, then drains due jobs.
type WorkerPool struct {
	opts      Options
	queue     *queue.Queue
	executeUC *usecase.ExecuteJobUsecase
	wake      <-chan struct{}
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool. wake may be nil, in
// which case workers rely on polling alone.
func NewWorkerPool(opts Options, q *queue.Queue, executeUC *usecase.ExecuteJobUsecase, wake <-chan struct{}, logger *zap.Logger) *WorkerPool {
	if opts.Size < 1 {
		opts.Size = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &WorkerPool{
		opts:      opts,
		queue:     q,
		executeUC: executeUC,
		wake:      wake,
		logger:    logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool",
		zap.Int("pool_size", p.opts.Size),
		zap.Duration("poll_interval", p.opts.PollInterval),
	)

	for i := 0; i < p.opts.Size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current jobs and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		p.drain(ctx, id)

		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drain claims and runs jobs until none are due.
func (p *WorkerPool) drain(ctx context.Context, id int) {
	for ctx.Err() == nil {
		jobs, err := p.queue.Fetch(ctx, p.opts.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("Failed to claim jobs", zap.Int("worker_id", id), zap.Error(err))
			}
			return
		}
		if len(jobs) == 0 {
			return
		}
		for i, job := range jobs {
			if ctx.Err() != nil {
				p.release(id, jobs[i:])
				return
			}
			p.process(ctx, id, job)
		}
	}
}

// release hands claimed but unstarted jobs back on shutdown.
func (p *WorkerPool) release(id int, jobs []*domain.Job) {
	ctx := context.Background()
	for _, job := range jobs {
		if err := p.queue.Release(ctx, job); err != nil {
			p.logger.Warn("Failed to release job",
				zap.Int("worker_id", id),
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, id int, job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SandboxFailures.Inc()
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	p.logger.Info("Worker processing job",
		zap.Int("worker_id", id),
		zap.String("job_id", job.ID.String()),
		zap.String("language", job.Spec.Language),
	)

	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	if err := p.executeUC.Execute(ctx, job); err != nil {
		p.logger.Error("Failed to record job outcome",
			zap.Int("worker_id", id),
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}
