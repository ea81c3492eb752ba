package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// LocalBackend runs programs as a plain process group on the host. It provides no
// isolation beyond the process group and is meant for development and tests.
type LocalBackend struct {
	shell string
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{shell: "/bin/sh"}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Prepare(p *Profile, files Files) (Layout, []string, error) {
	dir := files.Code + ".d"
	if err := os.Mkdir(dir, 0o700); err != nil {
		return Layout{}, nil, fmt.Errorf("create scratch dir: %w", err)
	}
	l := p.LayoutIn(dir)
	l.StagedCode = files.Code
	l.StagedInput = files.Input
	return l, []string{dir}, nil
}

func (b *LocalBackend) Command(files Files, _ Layout, script string) *exec.Cmd {
	// $$ survives the final exec, so the recorded pid is the program's pid and,
	// with Setpgid, its process group id.
	return exec.Command(b.shell, "-c", "echo $$ > "+shellQuote(files.ID)+" && "+script)
}

func (b *LocalBackend) Exists(_ context.Context, id string) (bool, error) {
	pgid, err := strconv.Atoi(id)
	if err != nil || pgid <= 0 {
		return false, fmt.Errorf("invalid local instance id %q", id)
	}
	err = syscall.Kill(-pgid, 0)
	switch {
	case err == nil, errors.Is(err, syscall.EPERM):
		return true, nil
	case errors.Is(err, syscall.ESRCH):
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Terminate(_ context.Context, id string) error {
	pgid, err := strconv.Atoi(id)
	if err != nil || pgid <= 0 {
		return fmt.Errorf("invalid local instance id %q", id)
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

