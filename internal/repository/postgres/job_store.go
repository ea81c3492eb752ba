package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/repository"
)

// Ensure pgJobStore implements repository.JobStore.
var _ repository.JobStore = (*pgJobStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS gauntlet_jobs (
	id             UUID PRIMARY KEY,
	payload        JSONB NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	retry_limit    INTEGER NOT NULL DEFAULT 0,
	retry_delay_ms BIGINT NOT NULL DEFAULT 0,
	retry_backoff  BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	timeout_ms     BIGINT NOT NULL DEFAULT 0,
	state          TEXT NOT NULL,
	result         JSONB,
	error          TEXT NOT NULL DEFAULT '',
	start_after    TIMESTAMPTZ NOT NULL,
	created_on     TIMESTAMPTZ NOT NULL,
	started_on     TIMESTAMPTZ,
	completed_on   TIMESTAMPTZ,
	keep_until     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS gauntlet_jobs_fetch_idx
	ON gauntlet_jobs (priority DESC, created_on) WHERE state IN ('created', 'retry');
CREATE INDEX IF NOT EXISTS gauntlet_jobs_keep_until_idx
	ON gauntlet_jobs (keep_until) WHERE keep_until IS NOT NULL;
`

const columns = `id, payload, priority, retry_limit, retry_delay_ms, retry_backoff, retry_count,
	timeout_ms, state, result, error, start_after, created_on, started_on, completed_on, keep_until`

type pgJobStore struct {
	pool *pgxpool.Pool
}

// NewPostgresJobStore creates a PostgreSQL-backed job store.
func NewPostgresJobStore(pool *pgxpool.Pool) repository.JobStore {
	return &pgJobStore{pool: pool}
}

// Migrate creates the jobs table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *pgJobStore) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	payload, err := json.Marshal(job.Spec)
	if err != nil {
		return false, fmt.Errorf("postgres: encode payload: %w", err)
	}
	query := `
		INSERT INTO gauntlet_jobs (id, payload, priority, retry_limit, retry_delay_ms, retry_backoff,
		                           timeout_ms, state, start_after, created_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		job.ID, payload, job.Priority, job.Retry.Limit, job.Retry.Delay.Milliseconds(), job.Retry.Backoff,
		job.Timeout.Milliseconds(), string(job.State), job.StartAfter, job.CreatedOn,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM gauntlet_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	return job, nil
}

func (r *pgJobStore) Fetch(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE gauntlet_jobs SET state = 'active', started_on = $1
		WHERE id IN (
			SELECT id FROM gauntlet_jobs
			WHERE state IN ('created', 'retry') AND start_after <= $1
			ORDER BY priority DESC, created_on, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + columns

	jobs, err := r.queryJobs(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch jobs: %w", err)
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedOn.Before(jobs[j].CreatedOn)
	})
	return jobs, nil
}

func (r *pgJobStore) Complete(ctx context.Context, id uuid.UUID, result *domain.JobResult, now, keepUntil time.Time) error {
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: encode result: %w", err)
	}
	query := `
		UPDATE gauntlet_jobs SET state = 'completed', result = $2, completed_on = $3, keep_until = $4
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, id, domain.ErrJobNotActive, query, id, res, now, keepUntil)
}

func (r *pgJobStore) Fail(ctx context.Context, id uuid.UUID, result *domain.JobResult, reason string, now, keepUntil time.Time) error {
	var res []byte
	if result != nil {
		var err error
		if res, err = json.Marshal(result); err != nil {
			return fmt.Errorf("postgres: encode result: %w", err)
		}
	}
	query := `
		UPDATE gauntlet_jobs SET state = 'failed', result = $2, error = $3, completed_on = $4, keep_until = $5
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, id, domain.ErrJobNotActive, query, id, res, reason, now, keepUntil)
}

func (r *pgJobStore) Retry(ctx context.Context, id uuid.UUID, reason string, startAfter time.Time) error {
	query := `
		UPDATE gauntlet_jobs
		SET state = 'retry', retry_count = retry_count + 1, error = $2, start_after = $3, started_on = NULL
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, id, domain.ErrJobNotActive, query, id, reason, startAfter)
}

func (r *pgJobStore) Release(ctx context.Context, id uuid.UUID, startAfter time.Time) error {
	query := `
		UPDATE gauntlet_jobs SET state = 'created', start_after = $2, started_on = NULL
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, id, domain.ErrJobNotActive, query, id, startAfter)
}

func (r *pgJobStore) Cancel(ctx context.Context, id uuid.UUID, now, keepUntil time.Time) error {
	query := `
		UPDATE gauntlet_jobs SET state = 'cancelled', completed_on = $2, keep_until = $3
		WHERE id = $1 AND state IN ('created', 'retry')`
	return r.transition(ctx, id, domain.ErrJobNotCancellable, query, id, now, keepUntil)
}

func (r *pgJobStore) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + columns + ` FROM gauntlet_jobs
		WHERE state = 'active' AND started_on < $1 ORDER BY started_on LIMIT $2`
	jobs, err := r.queryJobs(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stale jobs: %w", err)
	}
	return jobs, nil
}

func (r *pgJobStore) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM gauntlet_jobs
		WHERE state IN ('created', 'retry') AND start_after <= $1
		ORDER BY priority DESC, created_on LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("postgres: list due jobs: %w", err)
	}
	return ids, nil
}

func (r *pgJobStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM gauntlet_jobs WHERE keep_until IS NOT NULL AND keep_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transition runs a guarded UPDATE and, when nothing matched, tells a missing
// job apart from one in the wrong state.
func (r *pgJobStore) transition(ctx context.Context, id uuid.UUID, wrongState error, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM gauntlet_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: lookup job: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return wrongState
}

func (r *pgJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                  domain.Job
		payload, result      []byte
		delayMs, timeoutMs   int64
		startedOn, completed *time.Time
		keepUntil            *time.Time
	)
	err := row.Scan(
		&job.ID, &payload, &job.Priority, &job.Retry.Limit, &delayMs, &job.Retry.Backoff, &job.RetryCount,
		&timeoutMs, &job.State, &result, &job.Error, &job.StartAfter, &job.CreatedOn,
		&startedOn, &completed, &keepUntil,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &job.Spec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(result) > 0 {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	job.Retry.Delay = time.Duration(delayMs) * time.Millisecond
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.StartedOn, job.CompletedOn, job.KeepUntil = startedOn, completed, keepUntil
	return &job, nil
}
