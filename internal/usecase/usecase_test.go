package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/repository/mock"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
	"github.com/Harsh-BH/gauntlet/internal/usecase"
)

type harness struct {
	store  *mock.JobStore
	runner *mock.Runner
	queue  *queue.Queue
	uc     *usecase.ExecuteJobUsecase
}

func newHarness(runner *mock.Runner) *harness {
	store := &mock.JobStore{}
	q := queue.New(store, nil, nil, queue.Options{
		Retry: domain.RetryPolicy{Limit: 1, Delay: time.Second},
	}, zap.NewNop())
	return &harness{
		store:  store,
		runner: runner,
		queue:  q,
		uc:     usecase.NewExecuteJobUsecase(q, runner, zap.NewNop()),
	}
}

// claim enqueues spec and claims it, as a worker would.
func (h *harness) claim(t *testing.T, spec domain.JobSpec) *domain.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := h.queue.Enqueue(ctx, spec, domain.EnqueueOptions{Timeout: 3 * time.Second}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobs, err := h.queue.Fetch(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("fetch: %v %v", jobs, err)
	}
	return jobs[0]
}

func (h *harness) state(t *testing.T, id uuid.UUID) domain.JobState {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return job.State
}

var pythonSpec = domain.JobSpec{Code: "print('hello')", Language: "python", Input: "x"}

// Test: a successful run completes the job with the runner's output.
func TestExecute_Success(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{Success: true, Stdout: "hello", ExitCode: 0}, nil
		},
	})
	job := h.claim(t, pythonSpec)

	if err := h.uc.Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := h.runner.RunCalls[0]
	if req.Code != pythonSpec.Code || req.Input != "x" || req.Timeout != 3*time.Second || req.JobID != job.ID.String() {
		t.Errorf("unexpected sandbox request: %+v", req)
	}
	if len(h.store.Completed) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(h.store.Completed))
	}
	if res := h.store.Completed[0].Result; res.Stdout != "hello" || !res.Success || res.ExecutionTimeMs < 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

// Test: a non-zero exit is still a completed job; the verdict belongs to the caller.
func TestExecute_RuntimeErrorCompletes(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{Stderr: "SyntaxError: invalid syntax", ExitCode: 1}, nil
		},
	})
	job := h.claim(t, pythonSpec)
	_ = h.uc.Execute(context.Background(), job)

	if h.state(t, job.ID) != domain.StateCompleted {
		t.Errorf("expected completed, got %s", h.state(t, job.ID))
	}
	if h.store.Completed[0].Result.ExitCode != 1 {
		t.Error("exit code should be preserved")
	}
}

// Test: missing fields fail fast without touching the sandbox or retrying.
func TestExecute_MissingFields(t *testing.T) {
	for _, tc := range []struct {
		spec  domain.JobSpec
		field string
	}{
		{domain.JobSpec{Language: "python"}, "code"},
		{domain.JobSpec{Code: "print(1)"}, "language"},
	} {
		h := newHarness(&mock.Runner{})
		job := h.claim(t, tc.spec)
		if err := h.uc.Execute(context.Background(), job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(h.runner.RunCalls) != 0 {
			t.Error("runner must not be called for an invalid job")
		}
		if h.state(t, job.ID) != domain.StateFailed || len(h.store.Retried) != 0 {
			t.Errorf("expected a terminal failure without retry")
		}
		if reason := h.store.Failed[0].Reason; !strings.Contains(reason, tc.field) {
			t.Errorf("reason %q should name %q", reason, tc.field)
		}
	}
}

// Test: an unknown language is permanent.
func TestExecute_UnsupportedLanguageNotRetried(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return nil, &domain.UnsupportedLanguageError{Language: "cobol", Supported: []string{"python"}}
		},
	})
	job := h.claim(t, domain.JobSpec{Code: "x", Language: "cobol"})
	_ = h.uc.Execute(context.Background(), job)

	if h.state(t, job.ID) != domain.StateFailed || len(h.store.Retried) != 0 {
		t.Error("expected a terminal failure")
	}
	if res := h.store.Failed[0].Result; !strings.Contains(res.Error, "cobol") {
		t.Errorf("result should embed the runner error, got %+v", res)
	}
}

// Test: other runner errors are retried.
func TestExecute_RunnerErrorRetried(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return nil, errors.New("docker daemon unreachable")
		},
	})
	job := h.claim(t, pythonSpec)
	if err := h.uc.Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.state(t, job.ID) != domain.StateRetry || h.store.Retried[0].Reason != "docker daemon unreachable" {
		t.Errorf("expected a retry, got %s", h.state(t, job.ID))
	}
}

// Test: a panic in the runner never escapes and becomes a failed result.
func TestExecute_PanicRecovered(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			panic("nil map write")
		},
	})
	job := h.claim(t, pythonSpec)
	job.RetryCount = job.Retry.Limit // no retries left

	if err := h.uc.Execute(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.state(t, job.ID) != domain.StateFailed {
		t.Fatalf("expected failed, got %s", h.state(t, job.ID))
	}
	if res := h.store.Failed[0].Result; !strings.Contains(res.Error, "nil map write") || res.ExecutionTimeMs < 0 {
		t.Errorf("result should embed the panic, got %+v", res)
	}
}

// Test: a spawn failure is an infrastructure error and is retried.
func TestExecute_SpawnFailureRetried(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{ExitCode: sandbox.ExitSpawnFailure, Stderr: "exec: docker: not found"}, nil
		},
	})
	job := h.claim(t, pythonSpec)
	_ = h.uc.Execute(context.Background(), job)

	if h.state(t, job.ID) != domain.StateRetry {
		t.Errorf("expected retry, got %s", h.state(t, job.ID))
	}
}

// Test: a timeout is a completed job with exit 124, not a retry.
func TestExecute_TimeoutCompletes(t *testing.T) {
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{ExitCode: sandbox.ExitTimeout, TimedOut: true, Stderr: "Execution timeout"}, nil
		},
	})
	job := h.claim(t, pythonSpec)
	_ = h.uc.Execute(context.Background(), job)

	if len(h.store.Completed) != 1 || !h.store.Completed[0].Result.TimedOut {
		t.Error("expected a completed timed-out result")
	}
}

// Test: shutdown mid-run releases the job without spending a retry, even
// when no retries are left.
func TestExecute_ShutdownReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			cancel()
			return &sandbox.Result{ExitCode: sandbox.ExitTimeout, Stderr: "Execution cancelled"}, nil
		},
	})
	job := h.claim(t, pythonSpec)
	job.RetryCount = job.Retry.Limit

	if err := h.uc.Execute(ctx, job); err != nil {
		t.Fatalf("recording must survive cancellation: %v", err)
	}
	if h.state(t, job.ID) != domain.StateCreated {
		t.Errorf("expected created, got %s", h.state(t, job.ID))
	}
	if len(h.store.Retried) != 0 || len(h.store.Failed) != 0 || len(h.store.Released) != 1 {
		t.Errorf("expected a single release, got retried=%d failed=%d released=%d",
			len(h.store.Retried), len(h.store.Failed), len(h.store.Released))
	}
	st, _ := h.queue.GetStatus(context.Background(), job.ID)
	if st.Status != domain.StatusQueued {
		t.Errorf("expected queued, got %s", st.Status)
	}
}

// Test: a runner error caused by shutdown also releases the job.
func TestExecute_ShutdownRunnerErrorReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(&mock.Runner{
		RunFn: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			cancel()
			return nil, ctx.Err()
		},
	})
	job := h.claim(t, pythonSpec)

	if err := h.uc.Execute(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.state(t, job.ID) != domain.StateCreated || len(h.store.Retried) != 0 {
		t.Errorf("expected release, got %s with %d retries", h.state(t, job.ID), len(h.store.Retried))
	}
}
