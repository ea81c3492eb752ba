package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
	"github.com/Harsh-BH/gauntlet/internal/wrapper"
)

// Queue is the part of the job queue the orchestrator needs.
type Queue interface {
	Enqueue(ctx context.Context, spec domain.JobSpec, opts domain.EnqueueOptions) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.JobStatus, error)
}

// Catalog answers which languages the sandbox can run.
type Catalog interface {
	Lookup(language string) (*sandbox.Profile, bool)
	Languages() []string
}

// pollOverhead covers queueing, container start and compilation on top of a
// profile's run timeout when the poll budget is derived.
const pollOverhead = 30 * time.Second

// maxUnavailable is how many consecutive failed status reads end the wait.
const maxUnavailable = 5

// Options bound the wait for each test. A zero MaxPollAttempts derives the
// budget from the language's timeout.
type Options struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Priority        int
}

// Orchestrator runs submitted code against test cases through the job queue.
type Orchestrator struct {
	queue    Queue
	wrappers *wrapper.Registry
	catalog  Catalog
	opts     Options
	logger   *zap.Logger
}

// New creates an Orchestrator. wrappers may be nil.
func New(q Queue, wrappers *wrapper.Registry, catalog Catalog, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{queue: q, wrappers: wrappers, catalog: catalog, opts: opts, logger: logger}
}

// Languages lists the runnable languages.
func (o *Orchestrator) Languages() []string { return o.catalog.Languages() }

// ExecuteCodeTests enqueues one job per test case, waits for all of them and
// grades the outputs. Invalid input fails before any job is created; a test
// that never finishes is reported as a timeout instead of blocking the rest.
func (o *Orchestrator) ExecuteCodeTests(ctx context.Context, req *domain.TestRequest) (*domain.TestReport, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}
	log := o.logger.With(
		zap.String("language", req.Language),
		zap.String("user_id", req.UserID),
		zap.String("submission_id", req.SubmissionID),
	)

	inputs := make([]string, len(req.TestCases))
	for i, tc := range req.TestCases {
		input, err := serializeInput(tc.Input)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("testCases[%d].input", i), err.Error())
		}
		inputs[i] = input
	}

	code := o.wrap(req.Language, req.Code, log)
	subID, stable := domain.ParseStableID(req.SubmissionID)
	attempts := o.pollAttempts(req.Language)

	results := make([]domain.TestResult, len(req.TestCases))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range req.TestCases {
		g.Go(func() error {
			opts := domain.EnqueueOptions{Priority: o.opts.Priority}
			if stable {
				opts.ID = uuid.NewSHA1(subID, []byte(fmt.Sprintf("test-%d", i))).String()
			}
			id, err := o.queue.Enqueue(gctx, domain.JobSpec{
				Code:         code,
				Language:     req.Language,
				Input:        inputs[i],
				UserID:       req.UserID,
				SubmissionID: req.SubmissionID,
				MatchID:      req.MatchID,
			}, opts)
			if err != nil {
				return fmt.Errorf("enqueue test %d: %w", i, err)
			}

			status, err := o.await(gctx, id, attempts)
			if err != nil {
				return err
			}
			results[i] = grade(i, tc, status, attempts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := summarize(results)
	for _, r := range results {
		verdict := "fail"
		if r.Passed {
			verdict = "pass"
		}
		metrics.TestVerdicts.WithLabelValues(req.Language, verdict).Inc()
	}
	log.Info("Test run evaluated",
		zap.Int("total", report.Summary.Total),
		zap.Int("passed", report.Summary.Passed),
		zap.Bool("is_compiled", report.IsCompiled),
		zap.Bool("is_passed", report.IsPassed),
	)
	return report, nil
}

func (o *Orchestrator) validate(req *domain.TestRequest) error {
	switch {
	case req == nil:
		return domain.NewValidationError("", "request is required")
	case strings.TrimSpace(req.Code) == "":
		return domain.NewValidationError("code", "is required")
	case strings.TrimSpace(req.Language) == "":
		return domain.NewValidationError("language", "is required")
	case len(req.TestCases) == 0:
		return domain.NewValidationError("testCases", "must contain at least one test case")
	}
	if _, ok := o.catalog.Lookup(req.Language); !ok {
		return &domain.UnsupportedLanguageError{Language: req.Language, Supported: o.catalog.Languages()}
	}
	return nil
}

// pollAttempts is the configured budget, or enough polls to cover the
// language's timeout plus overhead.
func (o *Orchestrator) pollAttempts(language string) int {
	if o.opts.MaxPollAttempts > 0 {
		return o.opts.MaxPollAttempts
	}
	budget := pollOverhead
	if p, ok := o.catalog.Lookup(language); ok {
		budget += p.Timeout
	}
	return int((budget + o.opts.PollInterval - 1) / o.opts.PollInterval)
}

// wrap falls back to the raw code when wrapping fails.
func (o *Orchestrator) wrap(language, code string, log *zap.Logger) string {
	if o.wrappers == nil || !o.wrappers.HasWrapper(language) {
		return code
	}
	wrapped, err := o.wrappers.WrapCode(language, code)
	if err != nil {
		log.Warn("Wrapper failed, running code unwrapped", zap.Error(err))
		return code
	}
	return wrapped
}

// await polls until the job is terminal. It returns a nil status when the
// poll budget runs out, and an error when ctx ends or the queue stays
// unreachable for maxUnavailable reads in a row.
func (o *Orchestrator) await(ctx context.Context, id uuid.UUID, attempts int) (*domain.JobStatus, error) {
	timer := time.NewTimer(o.opts.PollInterval)
	defer timer.Stop()

	failures := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		status, err := o.queue.GetStatus(ctx, id)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return nil, err
		case err != nil && errors.Is(err, domain.ErrQueueUnavailable):
			failures++
			if failures >= maxUnavailable {
				return nil, fmt.Errorf("poll job %s: %w", id, err)
			}
			o.logger.Warn("Status poll failed", zap.String("job_id", id.String()), zap.Int("attempt", attempt), zap.Error(err))
		case err != nil:
			failures = 0
			o.logger.Debug("Status poll failed", zap.String("job_id", id.String()), zap.Int("attempt", attempt), zap.Error(err))
		case status.Status.IsTerminal():
			return status, nil
		default:
			failures = 0
		}
		timer.Reset(o.opts.PollInterval)
	}

	o.logger.Warn("Gave up waiting for job", zap.String("job_id", id.String()), zap.Int("attempts", attempts))
	return nil, nil
}
