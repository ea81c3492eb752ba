package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

func newStore(t *testing.T) *JobStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newJob(priority int, created time.Time) *domain.Job {
	return &domain.Job{
		ID:         uuid.Must(uuid.NewV7()),
		Spec:       domain.JobSpec{Code: "print(1)", Language: "python", Input: "[1]", UserID: "u1"},
		Priority:   priority,
		Retry:      domain.RetryPolicy{Limit: 2, Delay: time.Second, Backoff: true},
		Timeout:    1500 * time.Millisecond,
		State:      domain.StateCreated,
		StartAfter: created,
		CreatedOn:  created,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob(3, base)

	inserted, err := s.Insert(ctx, job)
	if err != nil || !inserted {
		t.Fatalf("insert: %v %v", inserted, err)
	}

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Spec != job.Spec || got.Priority != 3 || got.State != domain.StateCreated {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Retry != job.Retry || got.Timeout != job.Timeout {
		t.Errorf("policy mismatch: %+v %v", got.Retry, got.Timeout)
	}
	if !got.CreatedOn.Equal(base) || got.StartedOn != nil {
		t.Errorf("timestamp mismatch: %v %v", got.CreatedOn, got.StartedOn)
	}
}

func TestInsert_ExistingIDIsNotDuplicated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob(0, base)
	_, _ = s.Insert(ctx, job)

	dup := *job
	dup.Spec.Code = "print(2)"
	inserted, err := s.Insert(ctx, &dup)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted {
		t.Error("expected the second insert to be ignored")
	}
	got, _ := s.Get(ctx, job.ID)
	if got.Spec.Code != "print(1)" {
		t.Errorf("first write should win, got %q", got.Spec.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.Get(context.Background(), uuid.New()); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestFetch_PriorityThenAge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := newJob(0, base)
	young := newJob(0, base.Add(time.Second))
	urgent := newJob(10, base.Add(2*time.Second))
	future := newJob(99, base)
	future.StartAfter = base.Add(time.Hour)
	for _, j := range []*domain.Job{young, old, urgent, future} {
		_, _ = s.Insert(ctx, j)
	}

	now := base.Add(time.Minute)
	jobs, err := s.Fetch(ctx, now, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != urgent.ID || jobs[1].ID != old.ID {
		t.Fatalf("unexpected claim order: %v", ids(jobs))
	}
	for _, j := range jobs {
		if j.State != domain.StateActive || j.StartedOn == nil || !j.StartedOn.Equal(now) {
			t.Errorf("claimed job not active: %+v", j)
		}
	}

	rest, _ := s.Fetch(ctx, now, 10)
	if len(rest) != 1 || rest[0].ID != young.ID {
		t.Errorf("expected only the young job to remain due, got %v", ids(rest))
	}
}

func TestFetch_ConcurrentClaimsAreExclusive(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, _ = s.Insert(ctx, newJob(0, base.Add(time.Duration(i)*time.Millisecond)))
	}

	var (
		mu      sync.Mutex
		claimed = map[uuid.UUID]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.Fetch(ctx, base.Add(time.Hour), 3)
				if err != nil {
					t.Errorf("fetch: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != n {
		t.Errorf("expected %d claimed jobs, got %d", n, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Errorf("job %s claimed %d times", id, count)
		}
	}
}

func TestTerminalTransitions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob(0, base)
	_, _ = s.Insert(ctx, job)

	result := &domain.JobResult{Stdout: "1", ExitCode: 0, Success: true, ExecutionTimeMs: 12}
	if err := s.Complete(ctx, job.ID, result, base, base.Add(time.Minute)); !errors.Is(err, domain.ErrJobNotActive) {
		t.Fatalf("completing a queued job should fail with ErrJobNotActive, got %v", err)
	}

	_, _ = s.Fetch(ctx, base, 1)
	if err := s.Complete(ctx, job.ID, result, base, base.Add(time.Minute)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := s.Get(ctx, job.ID)
	if got.State != domain.StateCompleted || got.Result == nil || *got.Result != *result {
		t.Errorf("unexpected completed job: %+v", got)
	}
	if got.KeepUntil == nil || !got.KeepUntil.Equal(base.Add(time.Minute)) {
		t.Errorf("keepUntil not recorded: %v", got.KeepUntil)
	}

	// Exactly one terminal transition.
	if err := s.Fail(ctx, job.ID, nil, "late", base, base); !errors.Is(err, domain.ErrJobNotActive) {
		t.Errorf("expected ErrJobNotActive, got %v", err)
	}
	if err := s.Complete(ctx, uuid.New(), result, base, base); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob(0, base)
	_, _ = s.Insert(ctx, job)
	_, _ = s.Fetch(ctx, base, 1)

	if err := s.Release(ctx, job.ID, base); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := s.Get(ctx, job.ID)
	if got.State != domain.StateCreated || got.RetryCount != 0 || got.StartedOn != nil {
		t.Errorf("unexpected released job: %+v", got)
	}
	if err := s.Release(ctx, job.ID, base); !errors.Is(err, domain.ErrJobNotActive) {
		t.Errorf("expected ErrJobNotActive, got %v", err)
	}
	if jobs, _ := s.Fetch(ctx, base, 1); len(jobs) != 1 {
		t.Error("a released job should be claimable again")
	}
}

func TestRetryAndFail(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	job := newJob(0, base)
	_, _ = s.Insert(ctx, job)
	_, _ = s.Fetch(ctx, base, 1)

	if err := s.Retry(ctx, job.ID, "boom", base.Add(2*time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ := s.Get(ctx, job.ID)
	if got.State != domain.StateRetry || got.RetryCount != 1 || got.Error != "boom" || got.StartedOn != nil {
		t.Errorf("unexpected retried job: %+v", got)
	}

	if jobs, _ := s.Fetch(ctx, base.Add(time.Second), 1); len(jobs) != 0 {
		t.Error("a retry must not be claimable before startAfter")
	}
	if jobs, _ := s.Fetch(ctx, base.Add(2*time.Second), 1); len(jobs) != 1 {
		t.Fatal("a retry should be claimable once due")
	}

	if err := s.Fail(ctx, job.ID, nil, "boom again", base, base.Add(time.Hour)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ = s.Get(ctx, job.ID)
	if got.State != domain.StateFailed || got.Result != nil || got.Error != "boom again" {
		t.Errorf("unexpected failed job: %+v", got)
	}
}

func TestCancel(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	running := newJob(0, base)
	queued := newJob(0, base.Add(time.Second))
	_, _ = s.Insert(ctx, running)
	_, _ = s.Insert(ctx, queued)
	_, _ = s.Fetch(ctx, base.Add(time.Second), 1) // claims the older job

	if err := s.Cancel(ctx, running.ID, base, base); !errors.Is(err, domain.ErrJobNotCancellable) {
		t.Errorf("expected ErrJobNotCancellable for an active job, got %v", err)
	}
	if err := s.Cancel(ctx, queued.ID, base, base.Add(time.Minute)); err != nil {
		t.Errorf("cancel queued job: %v", err)
	}
	if got, _ := s.Get(ctx, queued.ID); got.State != domain.StateCancelled {
		t.Errorf("expected cancelled, got %s", got.State)
	}
	if err := s.Cancel(ctx, uuid.New(), base, base); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStaleDueAndPurge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, b, c := newJob(0, base), newJob(5, base), newJob(0, base)
	for _, j := range []*domain.Job{a, b, c} {
		_, _ = s.Insert(ctx, j)
	}
	claimed, _ := s.Fetch(ctx, base, 1) // b, highest priority
	if len(claimed) != 1 || claimed[0].ID != b.ID {
		t.Fatalf("expected b to be claimed, got %v", ids(claimed))
	}

	stale, err := s.Stale(ctx, base.Add(time.Minute), 10)
	if err != nil || len(stale) != 1 || stale[0].ID != b.ID {
		t.Errorf("expected b to be stale, got %v %v", ids(stale), err)
	}
	if stale, _ := s.Stale(ctx, base, 10); len(stale) != 0 {
		t.Error("nothing started before base")
	}

	due, err := s.Due(ctx, base, 10)
	if err != nil || len(due) != 2 {
		t.Errorf("expected a and c to be due, got %v %v", due, err)
	}

	_ = s.Complete(ctx, b.ID, &domain.JobResult{}, base, base.Add(time.Minute))
	_ = s.Cancel(ctx, a.ID, base, base.Add(time.Hour))

	n, err := s.Purge(ctx, base.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Errorf("expected one purged record, got %d %v", n, err)
	}
	if _, err := s.Get(ctx, b.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Error("b should have been purged")
	}
	if _, err := s.Get(ctx, a.ID); err != nil {
		t.Error("a is retained until its keepUntil")
	}
}

func ids(jobs []*domain.Job) []uuid.UUID {
	out := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
