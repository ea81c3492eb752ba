package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
	"github.com/Harsh-BH/gauntlet/internal/metrics"
)

const (
	// ExitTimeout is the synthetic exit code of a run killed at its wall-clock limit.
	ExitTimeout = 124

	// ExitSpawnFailure is the exit code of a run whose instance never started.
	ExitSpawnFailure = -1

	// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
	waitDelay = 2 * time.Second

	// controlTimeout bounds each out-of-band Exists/Terminate call.
	controlTimeout = 10 * time.Second
)

// Request is one execution.
type Request struct {
	JobID    string
	Code     string
	Language string
	Input    string
	Timeout  time.Duration // zero means the configured default
}

// Result is the outcome of one execution. Runner-level failures are reported
// here, never as errors.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Options tune the runner.
type Options struct {
	WorkDir         string        // host directory for temp files, os.TempDir() when empty
	TimeoutOverride time.Duration // replaces profile defaults when set
	ReapDelay       time.Duration // wait before checking for a lingering instance
}

// Runner executes untrusted code in one fresh sandbox instance per request.
type Runner struct {
	backend  Backend
	profiles Profiles
	opts     Options
	logger   *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(backend Backend, profiles Profiles, opts Options, logger *zap.Logger) *Runner {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Runner{backend: backend, profiles: profiles, opts: opts, logger: logger}
}

// Languages lists the languages this runner can execute.
func (r *Runner) Languages() []string {
	return r.profiles.Languages()
}

// Supports reports whether language resolves to a profile.
func (r *Runner) Supports(language string) bool {
	_, ok := r.profiles.Lookup(language)
	return ok
}

// Run executes req. The only error it returns is *domain.UnsupportedLanguageError;
// spawn failures, timeouts and cancellations resolve to a Result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	profile, ok := r.profiles.Lookup(req.Language)
	if !ok {
		return nil, &domain.UnsupportedLanguageError{Language: req.Language, Supported: r.Languages()}
	}

	ex := &execution{
		req:     req,
		profile: profile,
		logger:  r.logger.With(zap.String("job_id", req.JobID), zap.String("language", profile.Name)),
	}
	defer ex.cleanup()

	res := r.execute(ctx, ex, r.timeoutFor(profile, req))
	ex.advance(phaseDone)

	outcome := "success"
	switch {
	case res.TimedOut:
		outcome = "timeout"
	case res.ExitCode == ExitSpawnFailure:
		outcome = "spawn_failure"
	case !res.Success:
		outcome = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(profile.Name, outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(profile.Name).Observe(res.Duration.Seconds())
	return res, nil
}

func (r *Runner) timeoutFor(p *Profile, req Request) time.Duration {
	switch {
	case req.Timeout > 0:
		return req.Timeout
	case r.opts.TimeoutOverride > 0:
		return r.opts.TimeoutOverride
	}
	return p.Timeout
}

func (r *Runner) execute(ctx context.Context, ex *execution, timeout time.Duration) *Result {
	// materializing
	files, err := ex.materialize(r.opts.WorkDir)
	if err != nil {
		return ex.spawnFailure(err)
	}
	layout, extra, err := r.backend.Prepare(ex.profile, files)
	ex.track(extra...)
	if err != nil {
		return ex.spawnFailure(err)
	}
	p, err := ex.profile.Command.expand(layout)
	if err != nil {
		return ex.spawnFailure(err)
	}

	cmd := r.backend.Command(files, layout, buildScript(layout, p))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay
	stdout, stderr := newLimitedBuffer(maxOutputBytes), newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ex.advance(phaseRunning)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ex.spawnFailure(err)
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		ex.advance(phaseFinalizing)
		res := &Result{Stdout: stdout.Text(), Stderr: stderr.Text(), Duration: time.Since(start)}
		res.ExitCode, err = exitCode(err)
		if err != nil {
			return ex.spawnFailure(err)
		}
		res.Success = res.ExitCode == 0
		r.reap(ctx, ex)
		return res

	case <-runCtx.Done():
		ex.advance(phaseFinalizing)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitErr
		r.terminate(ctx, ex)

		res := &Result{ExitCode: ExitTimeout, Stdout: stdout.Text(), Duration: time.Since(start)}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.TimedOut = true
			res.Stderr = "Execution timeout"
			metrics.SandboxTimeouts.Inc()
			ex.logger.Info("execution timed out", zap.Duration("timeout", timeout))
		} else {
			res.Stderr = "Execution cancelled"
			ex.logger.Info("execution cancelled")
		}
		return res
	}
}

// terminate kills the instance named in the id file, whatever state it is in.
func (r *Runner) terminate(ctx context.Context, ex *execution) {
	id := ex.instanceID()
	if id == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()
	if err := r.backend.Terminate(cctx, id); err != nil {
		ex.logger.Warn("out-of-band termination failed", zap.String("instance", id), zap.Error(err))
	}
}

// reap covers runtimes that report exit before the instance is fully torn down.
func (r *Runner) reap(ctx context.Context, ex *execution) {
	id := ex.instanceID()
	if id == "" {
		return
	}
	if r.opts.ReapDelay > 0 {
		t := time.NewTimer(r.opts.ReapDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()
	alive, err := r.backend.Exists(cctx, id)
	if err != nil {
		ex.logger.Debug("instance lookup failed", zap.String("instance", id), zap.Error(err))
		return
	}
	if !alive {
		return
	}
	metrics.SandboxReaped.Inc()
	ex.logger.Warn("instance outlived its process, terminating", zap.String("instance", id))
	if err := r.backend.Terminate(cctx, id); err != nil {
		ex.logger.Warn("terminate lingering instance failed", zap.String("instance", id), zap.Error(err))
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return 0, nil
	}
	return 0, err
}

// ──────────────────────────────────────────────────────
// Execution state
// ──────────────────────────────────────────────────────

type phase int

const (
	phaseMaterializing phase = iota
	phaseRunning
	phaseFinalizing
	phaseDone
)

func (p phase) String() string {
	return [...]string{"materializing", "running", "finalizing", "done"}[p]
}

// execution is owned by the goroutine calling Run. Phases only move forward.
type execution struct {
	req       Request
	profile   *Profile
	phase     phase
	files     Files
	artifacts []string
	once      sync.Once
	logger    *zap.Logger
}

func (ex *execution) advance(to phase) {
	if to <= ex.phase {
		return
	}
	ex.logger.Debug("execution phase", zap.Stringer("from", ex.phase), zap.Stringer("to", to))
	ex.phase = to
}

func (ex *execution) track(paths ...string) {
	ex.artifacts = append(ex.artifacts, paths...)
}

// materialize writes the code and input files under uniquely-named paths.
// The id file is only reserved; the backend creates it.
func (ex *execution) materialize(workDir string) (Files, error) {
	base := filepath.Join(workDir, uniqueName())

	ex.files.ID = base + ".id"
	ex.track(ex.files.ID)

	ex.files.Code = base + ex.profile.Extension
	ex.track(ex.files.Code)
	if err := os.WriteFile(ex.files.Code, []byte(ex.req.Code), 0o644); err != nil {
		return Files{}, fmt.Errorf("write code file: %w", err)
	}

	if ex.req.Input != "" {
		ex.files.Input = base + ".in"
		ex.track(ex.files.Input)
		if err := os.WriteFile(ex.files.Input, []byte(ex.req.Input), 0o644); err != nil {
			return Files{}, fmt.Errorf("write input file: %w", err)
		}
	}
	return ex.files, nil
}

func (ex *execution) instanceID() string {
	data, err := os.ReadFile(ex.files.ID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (ex *execution) spawnFailure(err error) *Result {
	metrics.SandboxFailures.Inc()
	ex.logger.Error("sandbox spawn failed", zap.Stringer("phase", ex.phase), zap.Error(err))
	ex.advance(phaseFinalizing)
	return &Result{ExitCode: ExitSpawnFailure, Stderr: err.Error()}
}

// cleanup removes every tracked artifact exactly once and never fails.
func (ex *execution) cleanup() {
	ex.once.Do(func() {
		for _, p := range ex.artifacts {
			if err := os.RemoveAll(p); err != nil {
				ex.logger.Debug("cleanup failed", zap.String("path", p), zap.Error(err))
			}
		}
	})
}

func uniqueName() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("gauntlet-%d-%s", time.Now().UnixNano(), hex.EncodeToString(b[:]))
}
