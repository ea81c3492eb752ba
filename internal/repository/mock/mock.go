package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/repository"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// ---- JobStore mock ----

var _ repository.JobStore = (*JobStore)(nil)

// JobStore is an in-memory test double for repository.JobStore. It behaves
// like a real store unless an Fn hook overrides a method.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	InsertFn   func(ctx context.Context, job *domain.Job) (bool, error)
	GetFn      func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	FetchFn    func(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	CompleteFn func(ctx context.Context, id uuid.UUID, result *domain.JobResult) error
	FailFn     func(ctx context.Context, id uuid.UUID, result *domain.JobResult, reason string) error

	// Recorded calls for assertions.
	Completed []ResultUpdate
	Failed    []ResultUpdate
	Retried   []RetryUpdate
	Released  []uuid.UUID
}

type ResultUpdate struct {
	ID        uuid.UUID
	Result    *domain.JobResult
	Reason    string
	KeepUntil time.Time
}

type RetryUpdate struct {
	ID         uuid.UUID
	Reason     string
	StartAfter time.Time
}

// Put stores a job as-is, bypassing Insert. Handy for arranging state.
func (m *JobStore) Put(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *JobStore) init() {
	if m.jobs == nil {
		m.jobs = make(map[uuid.UUID]*domain.Job)
	}
}

func (m *JobStore) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, job)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, ok := m.jobs[job.ID]; ok {
		return false, nil
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return true, nil
}

func (m *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *JobStore) Fetch(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if m.FetchFn != nil {
		return m.FetchFn(ctx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	due := m.due(now)
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*domain.Job, 0, len(due))
	for _, job := range due {
		started := now
		job.State = domain.StateActive
		job.StartedOn = &started
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (m *JobStore) due(now time.Time) []*domain.Job {
	var due []*domain.Job
	for _, job := range m.jobs {
		if (job.State == domain.StateCreated || job.State == domain.StateRetry) && !job.StartAfter.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].CreatedOn.Before(due[j].CreatedOn)
	})
	return due
}

func (m *JobStore) Complete(ctx context.Context, id uuid.UUID, result *domain.JobResult, now, keepUntil time.Time) error {
	m.mu.Lock()
	m.Completed = append(m.Completed, ResultUpdate{ID: id, Result: result, KeepUntil: keepUntil})
	m.mu.Unlock()
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, id, result)
	}
	return m.finish(id, domain.StateCompleted, result, "", now, keepUntil)
}

func (m *JobStore) Fail(ctx context.Context, id uuid.UUID, result *domain.JobResult, reason string, now, keepUntil time.Time) error {
	m.mu.Lock()
	m.Failed = append(m.Failed, ResultUpdate{ID: id, Result: result, Reason: reason, KeepUntil: keepUntil})
	m.mu.Unlock()
	if m.FailFn != nil {
		return m.FailFn(ctx, id, result, reason)
	}
	return m.finish(id, domain.StateFailed, result, reason, now, keepUntil)
}

func (m *JobStore) finish(id uuid.UUID, state domain.JobState, result *domain.JobResult, reason string, now, keepUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateActive {
		return domain.ErrJobNotActive
	}
	job.State, job.Result, job.Error = state, result, reason
	job.CompletedOn, job.KeepUntil = &now, &keepUntil
	return nil
}

func (m *JobStore) Retry(ctx context.Context, id uuid.UUID, reason string, startAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retried = append(m.Retried, RetryUpdate{ID: id, Reason: reason, StartAfter: startAfter})
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateActive {
		return domain.ErrJobNotActive
	}
	job.State, job.Error, job.StartAfter, job.StartedOn = domain.StateRetry, reason, startAfter, nil
	job.RetryCount++
	return nil
}

func (m *JobStore) Release(ctx context.Context, id uuid.UUID, startAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released = append(m.Released, id)
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateActive {
		return domain.ErrJobNotActive
	}
	job.State, job.StartAfter, job.StartedOn = domain.StateCreated, startAfter, nil
	return nil
}

func (m *JobStore) Cancel(ctx context.Context, id uuid.UUID, now, keepUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.State != domain.StateCreated && job.State != domain.StateRetry {
		return domain.ErrJobNotCancellable
	}
	job.State, job.CompletedOn, job.KeepUntil = domain.StateCancelled, &now, &keepUntil
	return nil
}

func (m *JobStore) Stale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if job.State == domain.StateActive && job.StartedOn != nil && job.StartedOn.Before(cutoff) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedOn.Before(*out[j].StartedOn) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *JobStore) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.due(now)
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, len(due))
	for i, job := range due {
		ids[i] = job.ID
	}
	return ids, nil
}

func (m *JobStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, job := range m.jobs {
		if job.KeepUntil != nil && !job.KeepUntil.After(now) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// ---- StatusCache mock ----

var _ repository.StatusCache = (*StatusCache)(nil)

// StatusCache is a test double for repository.StatusCache.
type StatusCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]domain.JobStatus

	PutFn func(ctx context.Context, status *domain.JobStatus, ttl time.Duration) error
	GetFn func(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error)

	PutCalls []*domain.JobStatus
	TTLs     []time.Duration
}

func (m *StatusCache) Put(ctx context.Context, status *domain.JobStatus, ttl time.Duration) error {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, status)
	m.TTLs = append(m.TTLs, ttl)
	m.mu.Unlock()
	if m.PutFn != nil {
		return m.PutFn(ctx, status, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[uuid.UUID]domain.JobStatus)
	}
	m.entries[status.ID] = *status
	return nil
}

func (m *StatusCache) Get(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// ---- Runner mock ----

var _ repository.Runner = (*Runner)(nil)

// Runner is a test double for repository.Runner.
type Runner struct {
	mu sync.Mutex

	RunFn func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)

	RunCalls []sandbox.Request
}

func (m *Runner) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, req)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, req)
	}
	return &sandbox.Result{
		Success:  true,
		Stdout:   "Hello, World!",
		ExitCode: 0,
		Duration: 42 * time.Millisecond,
	}, nil
}
