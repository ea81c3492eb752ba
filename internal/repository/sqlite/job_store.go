package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/repository"
)

var _ repository.JobStore = (*JobStore)(nil)

const schema = `CREATE TABLE IF NOT EXISTS gauntlet_jobs (
	id             TEXT PRIMARY KEY,
	payload        TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	retry_limit    INTEGER NOT NULL DEFAULT 0,
	retry_delay_ms INTEGER NOT NULL DEFAULT 0,
	retry_backoff  INTEGER NOT NULL DEFAULT 0,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	timeout_ms     INTEGER NOT NULL DEFAULT 0,
	state          TEXT NOT NULL,
	result         TEXT,
	error          TEXT NOT NULL DEFAULT '',
	start_after    INTEGER NOT NULL,
	created_on     INTEGER NOT NULL,
	started_on     INTEGER,
	completed_on   INTEGER,
	keep_until     INTEGER
);
CREATE INDEX IF NOT EXISTS gauntlet_jobs_fetch_idx ON gauntlet_jobs (state, priority DESC, created_on);`

const columns = `id, payload, priority, retry_limit, retry_delay_ms, retry_backoff, retry_count,
	timeout_ms, state, result, error, start_after, created_on, started_on, completed_on, keep_until`

// JobStore is a single-node job store on SQLite. Timestamps are stored as Unix nanoseconds.
type JobStore struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
// ":memory:" gives a private in-memory database.
func Open(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; an in-memory database is also private to its connection.
	db.SetMaxOpenConns(1)
	return NewJobStore(db)
}

// NewJobStore creates the schema on db and returns a store backed by it.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	_, _ = db.Exec("PRAGMA journal_mode=WAL;")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL;")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")

	return &JobStore{DB: db}, nil
}

func (s *JobStore) Close() error { return s.DB.Close() }

func (s *JobStore) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	payload, err := json.Marshal(job.Spec)
	if err != nil {
		return false, fmt.Errorf("sqlite: encode payload: %w", err)
	}
	query := `INSERT INTO gauntlet_jobs (id, payload, priority, retry_limit, retry_delay_ms, retry_backoff,
	                                     timeout_ms, state, start_after, created_on)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO NOTHING`

	res, err := s.DB.ExecContext(ctx, query,
		job.ID.String(), string(payload), job.Priority, job.Retry.Limit, job.Retry.Delay.Milliseconds(), job.Retry.Backoff,
		job.Timeout.Milliseconds(), string(job.State), job.StartAfter.UnixNano(), job.CreatedOn.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert job: %w", err)
	}
	return n == 1, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+columns+` FROM gauntlet_jobs WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}
	return job, nil
}

// Fetch claims in one statement; SQLite serializes writers, so no two callers
// can claim the same row.
func (s *JobStore) Fetch(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `UPDATE gauntlet_jobs SET state = 'active', started_on = ?
		WHERE id IN (
			SELECT id FROM gauntlet_jobs
			WHERE state IN ('created', 'retry') AND start_after <= ?
			ORDER BY priority DESC, created_on, id
			LIMIT ?
		)
		RETURNING ` + columns

	jobs, err := s.queryJobs(ctx, query, now.UnixNano(), now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch jobs: %w", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedOn.Before(jobs[j].CreatedOn)
	})
	return jobs, nil
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, result *domain.JobResult, now, keepUntil time.Time) error {
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("sqlite: encode result: %w", err)
	}
	query := `UPDATE gauntlet_jobs SET state = 'completed', result = ?, completed_on = ?, keep_until = ?
		WHERE id = ? AND state = 'active'`
	return s.transition(ctx, id, domain.ErrJobNotActive, query, string(res), now.UnixNano(), keepUntil.UnixNano(), id.String())
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, result *domain.JobResult, reason string, now, keepUntil time.Time) error {
	var res sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("sqlite: encode result: %w", err)
		}
		res = sql.NullString{String: string(b), Valid: true}
	}
	query := `UPDATE gauntlet_jobs SET state = 'failed', result = ?, error = ?, completed_on = ?, keep_until = ?
		WHERE id = ? AND state = 'active'`
	return s.transition(ctx, id, domain.ErrJobNotActive, query, res, reason, now.UnixNano(), keepUntil.UnixNano(), id.String())
}

func (s *JobStore) Retry(ctx context.Context, id uuid.UUID, reason string, startAfter time.Time) error {
	query := `UPDATE gauntlet_jobs
		SET state = 'retry', retry_count = retry_count + 1, error = ?, start_after = ?, started_on = NULL
		WHERE id = ? AND state = 'active'`
	return s.transition(ctx, id, domain.ErrJobNotActive, query, reason, startAfter.UnixNano(), id.String())
}

func (s *JobStore) Release(ctx context.Context, id uuid.UUID, startAfter time.Time) error {
	query := `UPDATE gauntlet_jobs SET state = 'created', start_after = ?, started_on = NULL
		WHERE id = ? AND state = 'active'`
	return s.transition(ctx, id, domain.ErrJobNotActive, query, startAfter.UnixNano(), id.String())
}

func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID, now, keepUntil time.Time) error {
	query := `UPDATE gauntlet_jobs SET state = 'cancelled', completed_on = ?, keep_until = ?
		WHERE id = ? AND state IN ('created', 'retry')`
	return s.transition(ctx, id, domain.ErrJobNotCancellable, query, now.UnixNano(), keepUntil.UnixNano(), id.String())
}

func (s *JobStore) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + columns + ` FROM gauntlet_jobs
		WHERE state = 'active' AND started_on < ? ORDER BY started_on LIMIT ?`
	jobs, err := s.queryJobs(ctx, query, cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list stale jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM gauntlet_jobs
		WHERE state IN ('created', 'retry') AND start_after <= ?
		ORDER BY priority DESC, created_on LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list due jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: list due jobs: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: bad job id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *JobStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM gauntlet_jobs WHERE keep_until IS NOT NULL AND keep_until <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *JobStore) transition(ctx context.Context, id uuid.UUID, wrongState error, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM gauntlet_jobs WHERE id = ?)`, id.String()).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: lookup job: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return wrongState
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                               domain.Job
		id, payload, state                string
		result                            sql.NullString
		delayMs, timeoutMs                int64
		startAfter, createdOn             int64
		startedOn, completedOn, keepUntil sql.NullInt64
	)
	err := row.Scan(
		&id, &payload, &job.Priority, &job.Retry.Limit, &delayMs, &job.Retry.Backoff, &job.RetryCount,
		&timeoutMs, &state, &result, &job.Error, &startAfter, &createdOn,
		&startedOn, &completedOn, &keepUntil,
	)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &job.Spec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if result.Valid && result.String != "" {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	job.State = domain.JobState(state)
	job.Retry.Delay = time.Duration(delayMs) * time.Millisecond
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.StartAfter = time.Unix(0, startAfter)
	job.CreatedOn = time.Unix(0, createdOn)
	job.StartedOn = nullTime(startedOn)
	job.CompletedOn = nullTime(completedOn)
	job.KeepUntil = nullTime(keepUntil)
	return &job, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
