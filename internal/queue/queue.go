package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
	"github.com/Harsh-BH/gauntlet/internal/repository"
)

// Options configures retry defaults and retention.
type Options struct {
	Retry               domain.RetryPolicy
	CompletedTTL        time.Duration
	FailedTTL           time.Duration
	ActiveExpiry        time.Duration
	MaintenanceInterval time.Duration

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Queue is the durable execution queue. The store holds the truth; the cache
// and notifier are optional accelerators.
type Queue struct {
	store    repository.JobStore
	cache    repository.StatusCache
	notifier Notifier
	opts     Options
	logger   *zap.Logger
}

// New creates a Queue. cache and notifier may be nil.
func New(store repository.JobStore, cache repository.StatusCache, notifier Notifier, opts Options, logger *zap.Logger) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CompletedTTL <= 0 {
		opts.CompletedTTL = 15 * time.Minute
	}
	if opts.FailedTTL <= 0 {
		opts.FailedTTL = 30 * time.Minute
	}
	if opts.ActiveExpiry <= 0 {
		opts.ActiveExpiry = 5 * time.Minute
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 30 * time.Second
	}
	return &Queue{store: store, cache: cache, notifier: notifier, opts: opts, logger: logger}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
}

// Enqueue persists a job and wakes a worker. A UUID-shaped opts.ID makes the
// call idempotent: the first write wins and later calls return the same id.
func (q *Queue) Enqueue(ctx context.Context, spec domain.JobSpec, opts domain.EnqueueOptions) (uuid.UUID, error) {
	now := q.opts.Now().UTC()

	id, stable := domain.ParseStableID(opts.ID)
	if !stable {
		if opts.ID != "" {
			q.logger.Debug("Ignoring non-UUID stable id", zap.String("id", opts.ID))
		}
		var err error
		if id, err = uuid.NewV7(); err != nil {
			return uuid.Nil, fmt.Errorf("generate UUIDv7: %w", err)
		}
	}

	retry := q.opts.Retry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if spec.Timestamp.IsZero() {
		spec.Timestamp = now
	}

	job := &domain.Job{
		ID:         id,
		Spec:       spec,
		Priority:   opts.Priority,
		Retry:      retry,
		Timeout:    opts.Timeout,
		State:      domain.StateCreated,
		StartAfter: now,
		CreatedOn:  now,
	}

	inserted, err := q.store.Insert(ctx, job)
	if err != nil {
		q.logger.Error("Failed to persist job", zap.Error(err), zap.String("job_id", id.String()))
		return uuid.Nil, unavailable(err)
	}
	if !inserted {
		q.warnOnConflict(ctx, job)
		return id, nil
	}

	metrics.JobsEnqueued.WithLabelValues(spec.Language).Inc()
	q.logger.Info("Job enqueued",
		zap.String("job_id", id.String()),
		zap.String("language", spec.Language),
		zap.Int("priority", opts.Priority),
	)

	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, id); err != nil {
			// Maintenance re-notifies due jobs.
			q.logger.Warn("Failed to notify workers", zap.Error(err), zap.String("job_id", id.String()))
		}
	}
	return id, nil
}

func (q *Queue) warnOnConflict(ctx context.Context, job *domain.Job) {
	existing, err := q.store.Get(ctx, job.ID)
	if err != nil {
		q.logger.Debug("Duplicate stable id, existing job unreadable", zap.Error(err), zap.String("job_id", job.ID.String()))
		return
	}
	a, b := existing.Spec, job.Spec
	if a.Code != b.Code || a.Language != b.Language || a.Input != b.Input {
		q.logger.Warn("Stable id reused with a different payload; keeping the first",
			zap.String("job_id", job.ID.String()),
			zap.String("state", string(existing.State)),
		)
		return
	}
	q.logger.Debug("Duplicate enqueue ignored", zap.String("job_id", job.ID.String()))
}

// GetStatus returns the public status of a job. Unknown ids yield not_found, not an error.
func (q *Queue) GetStatus(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error) {
	if q.cache != nil {
		status, err := q.cache.Get(ctx, id)
		if err != nil {
			q.logger.Debug("Status cache read failed", zap.Error(err), zap.String("job_id", id.String()))
		} else if status != nil {
			return status, nil
		}
	}

	job, err := q.store.Get(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		return &domain.JobStatus{ID: id, Status: domain.StatusNotFound}, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return domain.StatusOf(job), nil
}

// Cancel cancels a job that has not started yet.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	now := q.opts.Now().UTC()
	err := q.store.Cancel(ctx, id, now, now.Add(q.opts.FailedTTL))
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrJobNotCancellable):
		return err
	case err != nil:
		return unavailable(err)
	}

	q.logger.Info("Job cancelled", zap.String("job_id", id.String()))
	if job, err := q.store.Get(ctx, id); err == nil {
		q.cacheStatus(ctx, domain.StatusOf(job), q.opts.FailedTTL)
	}
	return nil
}

// Fetch claims up to limit due jobs for this worker.
func (q *Queue) Fetch(ctx context.Context, limit int) ([]*domain.Job, error) {
	jobs, err := q.store.Fetch(ctx, q.opts.Now().UTC(), limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return jobs, nil
}

// Complete records the single result of an active job.
func (q *Queue) Complete(ctx context.Context, job *domain.Job, result *domain.JobResult) error {
	now := q.opts.Now().UTC()
	if err := q.store.Complete(ctx, job.ID, result, now, now.Add(q.opts.CompletedTTL)); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	q.cacheStatus(ctx, terminalStatus(job, domain.StatusCompleted, result, "", now), q.opts.CompletedTTL)
	return nil
}

// Fail fails an active job. A retryable failure with retries left is
// rescheduled instead, honouring the job's delay and backoff.
func (q *Queue) Fail(ctx context.Context, job *domain.Job, result *domain.JobResult, reason string, retryable bool) error {
	now := q.opts.Now().UTC()

	if retryable {
		if next, ok := job.NextRetryAt(now); ok {
			if err := q.store.Retry(ctx, job.ID, reason, next); err != nil {
				return fmt.Errorf("retry job %s: %w", job.ID, err)
			}
			metrics.RetriesScheduled.Inc()
			q.logger.Info("Job scheduled for retry",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", job.RetryCount+1),
				zap.Time("start_after", next),
				zap.String("reason", reason),
			)
			return nil
		}
	}

	if err := q.store.Fail(ctx, job.ID, result, reason, now, now.Add(q.opts.FailedTTL)); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	q.logger.Warn("Job failed", zap.String("job_id", job.ID.String()), zap.String("reason", reason))
	q.cacheStatus(ctx, terminalStatus(job, domain.StatusFailed, result, reason, now), q.opts.FailedTTL)
	return nil
}

// Release returns an active job to the queue untouched, for a worker that
// stops before finishing it. The retry count is not bumped.
func (q *Queue) Release(ctx context.Context, job *domain.Job) error {
	if err := q.store.Release(ctx, job.ID, q.opts.Now().UTC()); err != nil {
		return fmt.Errorf("release job %s: %w", job.ID, err)
	}
	q.logger.Info("Job released", zap.String("job_id", job.ID.String()))
	if q.notifier != nil {
		if err := q.notifier.Notify(ctx, job.ID); err != nil {
			q.logger.Debug("Failed to notify after release", zap.Error(err), zap.String("job_id", job.ID.String()))
		}
	}
	return nil
}

func terminalStatus(job *domain.Job, status domain.PublicStatus, result *domain.JobResult, reason string, now time.Time) *domain.JobStatus {
	created := job.CreatedOn
	return &domain.JobStatus{
		ID:          job.ID,
		Status:      status,
		Result:      result,
		Error:       reason,
		CreatedOn:   &created,
		StartedOn:   job.StartedOn,
		CompletedOn: &now,
	}
}

func (q *Queue) cacheStatus(ctx context.Context, status *domain.JobStatus, ttl time.Duration) {
	if q.cache == nil {
		return
	}
	if err := q.cache.Put(ctx, status, ttl); err != nil {
		q.logger.Warn("Failed to cache job status", zap.Error(err), zap.String("job_id", status.ID.String()))
	}
}
