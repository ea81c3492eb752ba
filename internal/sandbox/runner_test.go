package sandbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

// ──────────────────────────────────────────────────────
// Local-backend tests (only /bin/sh needed)
// ──────────────────────────────────────────────────────

func shellProfiles() Profiles {
	return Profiles{
		"shell": {
			Name: "shell", Extension: ".sh", Timeout: 5 * time.Second,
			Command: Interpreted{Run: "sh {src}"},
		},
		"shellc": {
			Name: "shellc", Extension: ".sh", Timeout: 5 * time.Second,
			Command: Compiled{Compile: "cp {src} {bin}", Run: "sh {bin}"},
		},
	}
}

// recordingBackend counts out-of-band terminations.
type recordingBackend struct {
	*LocalBackend
	terminated atomic.Int32
}

func (b *recordingBackend) Terminate(ctx context.Context, id string) error {
	b.terminated.Add(1)
	return b.LocalBackend.Terminate(ctx, id)
}

func newTestRunner(t *testing.T) (*Runner, *recordingBackend, string) {
	t.Helper()
	dir := t.TempDir()
	backend := &recordingBackend{LocalBackend: NewLocalBackend()}
	r := NewRunner(backend, shellProfiles(), Options{WorkDir: dir, ReapDelay: 10 * time.Millisecond}, zap.NewNop())
	return r, backend, dir
}

func assertNoArtifacts(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("leaked artifact: %s", e.Name())
	}
}

func TestRun_Echo(t *testing.T) {
	r, _, dir := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{JobID: "j1", Language: "shell", Code: "echo hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Errorf("expected success, got exit %d stderr %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "hello" {
		t.Errorf("expected trimmed stdout %q, got %q", "hello", res.Stdout)
	}
	assertNoArtifacts(t, dir)
}

func TestRun_FeedsStdin(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{
		Language: "shell",
		Code:     `read a; read b; echo "$((a + b))"`,
		Input:    "2\n40\n",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "42" {
		t.Errorf("expected 42, got %q (stderr %q)", res.Stdout, res.Stderr)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Language: "shell", Code: "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected Success=false")
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
	if res.Stderr != "oops" {
		t.Errorf("expected stderr oops, got %q", res.Stderr)
	}
}

func TestRun_CompiledVariant(t *testing.T) {
	r, _, dir := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Language: "shellc", Code: "echo compiled"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "compiled" || res.ExitCode != 0 {
		t.Errorf("got stdout %q exit %d stderr %q", res.Stdout, res.ExitCode, res.Stderr)
	}
	assertNoArtifacts(t, dir)
}

func TestRun_Timeout(t *testing.T) {
	r, backend, dir := newTestRunner(t)
	timeout := 300 * time.Millisecond

	start := time.Now()
	res, err := r.Run(context.Background(), Request{
		Language: "shell",
		Code:     "while :; do :; done",
		Timeout:  timeout,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitTimeout {
		t.Errorf("expected exit %d, got %d", ExitTimeout, res.ExitCode)
	}
	if !res.TimedOut || !strings.Contains(strings.ToLower(res.Stderr), "timeout") {
		t.Errorf("expected timeout result, got %+v", res)
	}
	if elapsed > timeout+3*time.Second {
		t.Errorf("run took %v, expected about %v", elapsed, timeout)
	}
	if backend.terminated.Load() != 1 {
		t.Errorf("expected one out-of-band termination, got %d", backend.terminated.Load())
	}
	assertNoArtifacts(t, dir)
}

func TestRun_TimeoutOverride(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(NewLocalBackend(), shellProfiles(), Options{
		WorkDir:         dir,
		TimeoutOverride: 200 * time.Millisecond,
	}, zap.NewNop())

	res, err := r.Run(context.Background(), Request{Language: "shell", Code: "sleep 10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("expected the override to apply, got %+v", res)
	}
}

func TestRun_ParentCancellation(t *testing.T) {
	r, _, dir := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := r.Run(ctx, Request{Language: "shell", Code: "sleep 10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitTimeout || res.TimedOut {
		t.Errorf("expected a cancelled result, got %+v", res)
	}
	if res.Stderr != "Execution cancelled" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
	assertNoArtifacts(t, dir)
}

func TestRun_ReapsLingeringInstance(t *testing.T) {
	r, backend, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{
		Language: "shell",
		Code:     "sleep 30 >/dev/null 2>&1 &\necho started",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "started" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if backend.terminated.Load() != 1 {
		t.Errorf("expected the lingering group to be terminated once, got %d", backend.terminated.Load())
	}
}

func TestRun_NoReapForCleanExit(t *testing.T) {
	r, backend, _ := newTestRunner(t)

	if _, err := r.Run(context.Background(), Request{Language: "shell", Code: "true"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.terminated.Load() != 0 {
		t.Errorf("expected no termination, got %d", backend.terminated.Load())
	}
}

func TestRun_UnsupportedLanguage(t *testing.T) {
	r, _, dir := newTestRunner(t)

	_, err := r.Run(context.Background(), Request{Language: "cobol", Code: "DISPLAY 'HI'."})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ule *domain.UnsupportedLanguageError
	if !errors.As(err, &ule) {
		t.Fatalf("expected UnsupportedLanguageError, got %T", err)
	}
	if !strings.Contains(err.Error(), "shell") {
		t.Errorf("error should enumerate supported languages: %v", err)
	}
	assertNoArtifacts(t, dir)
}

func TestRun_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	backend := &LocalBackend{shell: "/nonexistent/sh"}
	r := NewRunner(backend, shellProfiles(), Options{WorkDir: dir}, zap.NewNop())

	res, err := r.Run(context.Background(), Request{Language: "shell", Code: "echo hi"})
	if err != nil {
		t.Fatalf("spawn failure must not surface as an error: %v", err)
	}
	if res.Success || res.ExitCode != ExitSpawnFailure {
		t.Errorf("expected spawn failure result, got %+v", res)
	}
	if res.Stderr == "" {
		t.Error("expected the spawn error message in stderr")
	}
	assertNoArtifacts(t, dir)
}

func TestRun_ConcurrentExecutionsDoNotCollide(t *testing.T) {
	r, _, dir := newTestRunner(t)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			res, err := r.Run(context.Background(), Request{Language: "shell", Code: "cat", Input: strings.Repeat("x", i+1)})
			if err != nil {
				errs <- err
				return
			}
			if res.Stdout != strings.Repeat("x", i+1) {
				errs <- errors.New("mismatched output: " + res.Stdout)
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
	assertNoArtifacts(t, dir)
}

func TestExecutionCleanup_Idempotent(t *testing.T) {
	dir := t.TempDir()
	ex := &execution{
		req:     Request{Code: "echo hi", Input: "1"},
		profile: shellProfiles()["shell"],
		logger:  zap.NewNop(),
	}
	files, err := ex.materialize(dir)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !strings.HasPrefix(files.Code, dir+"/gauntlet-") {
		t.Errorf("unexpected code path %s", files.Code)
	}

	// Remove one artifact behind the runner's back.
	_ = os.Remove(files.Input)

	ex.cleanup()
	ex.cleanup()
	assertNoArtifacts(t, dir)
}

func TestExecutionPhases_OnlyMoveForward(t *testing.T) {
	ex := &execution{logger: zap.NewNop()}
	ex.advance(phaseFinalizing)
	ex.advance(phaseRunning)
	if ex.phase != phaseFinalizing {
		t.Errorf("expected phase to stay finalizing, got %s", ex.phase)
	}
}

func TestLimitedBuffer_Truncates(t *testing.T) {
	lb := newLimitedBuffer(4)
	n, err := lb.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("write should report full length, got %d %v", n, err)
	}
	_, _ = lb.Write([]byte("more"))
	if got := lb.Text(); got != "abcd"+outputTruncatedMsg {
		t.Errorf("unexpected text %q", got)
	}
}
