package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// JobStore is the durable source of truth for job state.
// Implementations must be safe for concurrent use across processes.
type JobStore interface {
	// Insert persists a new job. It returns false, without error, when a job
	// with the same id already exists; the existing record is left untouched.
	Insert(ctx context.Context, job *domain.Job) (bool, error)

	// Get retrieves a job by id. It returns domain.ErrJobNotFound when absent.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Fetch atomically claims up to limit due jobs (created or retry, startAfter <= now),
	// highest priority first then oldest first, moving them to active.
	Fetch(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Complete moves an active job to completed. It returns domain.ErrJobNotActive
	// when the job is not active.
	Complete(ctx context.Context, id uuid.UUID, result *domain.JobResult, now, keepUntil time.Time) error

	// Fail moves an active job to failed. It returns domain.ErrJobNotActive
	// when the job is not active.
	Fail(ctx context.Context, id uuid.UUID, result *domain.JobResult, reason string, now, keepUntil time.Time) error

	// Retry moves an active job back to the retry state, bumping its retry count.
	Retry(ctx context.Context, id uuid.UUID, reason string, startAfter time.Time) error

	// Release hands an active job back to created without spending a retry.
	// It returns domain.ErrJobNotActive when the job is not active.
	Release(ctx context.Context, id uuid.UUID, startAfter time.Time) error

	// Cancel moves a created or retry job to cancelled. It returns
	// domain.ErrJobNotCancellable once the job started and domain.ErrJobNotFound when absent.
	Cancel(ctx context.Context, id uuid.UUID, now, keepUntil time.Time) error

	// Stale lists active jobs started before cutoff.
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error)

	// Due lists ids of queued jobs whose startAfter has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Purge deletes terminal jobs whose keepUntil has passed and returns how many were removed.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// StatusCache holds terminal job statuses for fast polling.
type StatusCache interface {
	// Put stores a status until ttl elapses.
	Put(ctx context.Context, status *domain.JobStatus, ttl time.Duration) error

	// Get returns the cached status, or nil without error on a miss.
	Get(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error)
}

// Runner executes one request in a fresh sandbox.
type Runner interface {
	Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)
}
