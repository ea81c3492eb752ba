package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
	"github.com/Harsh-BH/gauntlet/internal/queue"
	"github.com/Harsh-BH/gauntlet/internal/repository"
	"github.com/Harsh-BH/gauntlet/internal/sandbox"
)

// ExecuteJobUsecase runs one claimed job and records its single outcome.
type ExecuteJobUsecase struct {
	queue  *queue.Queue
	runner repository.Runner
	logger *zap.Logger
}

// NewExecuteJobUsecase creates a new ExecuteJobUsecase.
func NewExecuteJobUsecase(q *queue.Queue, runner repository.Runner, logger *zap.Logger) *ExecuteJobUsecase {
	return &ExecuteJobUsecase{
		queue:  q,
		runner: runner,
		logger: logger,
	}
}

// Execute validates the job, runs it in the sandbox and completes or fails it.
// Runner errors and panics become failed (retryable) job results, and a run cut
// short by shutdown is released back to the queue. The returned error only
// reports that the outcome could not be recorded.
func (uc *ExecuteJobUsecase) Execute(ctx context.Context, job *domain.Job) (err error) {
	start := time.Now()
	// The outcome must be recorded even when the worker is shutting down.
	rctx := context.WithoutCancel(ctx)
	log := uc.logger.With(zap.String("job_id", job.ID.String()), zap.String("language", job.Spec.Language))

	defer func() {
		if r := recover(); r != nil {
			metrics.SandboxFailures.Inc()
			reason := fmt.Sprintf("execution panicked: %v", r)
			log.Error("Recovered panic while executing job", zap.Any("panic", r))
			err = uc.queue.Fail(rctx, job, failure(reason, start), reason, true)
		}
	}()

	if field := missingField(job.Spec); field != "" {
		reason := "missing required field: " + field
		log.Warn("Rejecting invalid job", zap.String("reason", reason))
		return uc.queue.Fail(rctx, job, failure(reason, start), reason, false)
	}

	res, runErr := uc.runner.Run(ctx, sandbox.Request{
		JobID:    job.ID.String(),
		Code:     job.Spec.Code,
		Language: job.Spec.Language,
		Input:    job.Spec.Input,
		Timeout:  job.Timeout,
	})
	if runErr != nil && ctx.Err() != nil {
		log.Info("Job interrupted by shutdown, releasing", zap.Error(runErr))
		return uc.queue.Release(rctx, job)
	}
	if runErr != nil {
		retryable := !errors.Is(runErr, domain.ErrValidation)
		if retryable {
			metrics.SandboxFailures.Inc()
		}
		log.Error("Sandbox execution failed", zap.Error(runErr), zap.Bool("retryable", retryable))
		return uc.queue.Fail(rctx, job, failure(runErr.Error(), start), runErr.Error(), retryable)
	}

	result := &domain.JobResult{
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		ExitCode:        res.ExitCode,
		Success:         res.Success,
		TimedOut:        res.TimedOut,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}

	switch {
	case ctx.Err() != nil && !res.TimedOut:
		// Killed by shutdown rather than by its own limit: let another worker take it.
		log.Info("Job interrupted by shutdown, releasing")
		return uc.queue.Release(rctx, job)
	case res.ExitCode == sandbox.ExitSpawnFailure:
		metrics.SandboxFailures.Inc()
		result.Error = res.Stderr
		log.Error("Sandbox failed to start", zap.String("stderr", res.Stderr))
		return uc.queue.Fail(rctx, job, result, "sandbox failed to start: "+res.Stderr, true)
	}

	if err := uc.queue.Complete(rctx, job, result); err != nil {
		log.Error("Failed to store result", zap.Error(err))
		return err
	}

	log.Info("Job executed",
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Int64("time_ms", result.ExecutionTimeMs),
	)
	return nil
}

func missingField(spec domain.JobSpec) string {
	switch {
	case strings.TrimSpace(spec.Code) == "":
		return "code"
	case strings.TrimSpace(spec.Language) == "":
		return "language"
	}
	return ""
}

func failure(reason string, start time.Time) *domain.JobResult {
	return &domain.JobResult{
		Stderr:          reason,
		ExitCode:        sandbox.ExitSpawnFailure,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Error:           reason,
	}
}
