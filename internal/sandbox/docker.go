package sandbox

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

const (
	dockerScratch = "/sandbox"
	dockerInput   = "/input"
)

// dockerAPI is the subset of the Docker Engine client used for out-of-band control.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerOptions configures the container limits.
type DockerOptions struct {
	DockerPath string
	Image      string
	MemoryMB   int
	CPUs       float64
	PidsLimit  int
}

// DockerBackend launches one throwaway container per execution through the docker CLI
// and controls it out-of-band through the Engine API.
type DockerBackend struct {
	opts DockerOptions
	api  dockerAPI
}

// NewDockerBackend connects to the Docker daemon using the standard DOCKER_* environment.
func NewDockerBackend(opts DockerOptions) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerBackend(opts, cli), nil
}

func newDockerBackend(opts DockerOptions, api dockerAPI) *DockerBackend {
	if opts.DockerPath == "" {
		opts.DockerPath = "docker"
	}
	return &DockerBackend{opts: opts, api: api}
}

func (b *DockerBackend) Name() string { return "docker" }

func (b *DockerBackend) Prepare(p *Profile, files Files) (Layout, []string, error) {
	l := p.LayoutIn(dockerScratch)
	l.StagedCode = path.Join(dockerInput, "code"+p.Extension)
	if files.Input != "" {
		l.StagedInput = path.Join(dockerInput, "input.txt")
	}
	return l, nil, nil
}

func (b *DockerBackend) Command(files Files, l Layout, script string) *exec.Cmd {
	return exec.Command(b.opts.DockerPath, b.runArgs(files, l, script)...)
}

func (b *DockerBackend) runArgs(files Files, l Layout, script string) []string {
	args := []string{
		"run", "--rm",
		"--cidfile", files.ID,
		"--network", "none",
		"--read-only",
		"--tmpfs", dockerScratch + ":rw,exec,size=64m",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--workdir", dockerScratch,
	}
	if b.opts.MemoryMB > 0 {
		mem := strconv.Itoa(b.opts.MemoryMB) + "m"
		args = append(args, "--memory", mem, "--memory-swap", mem)
	}
	if b.opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(b.opts.CPUs, 'f', -1, 64))
	}
	if b.opts.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(b.opts.PidsLimit))
	}
	args = append(args, "-v", bindMount(files.Code, l.StagedCode))
	if files.Input != "" {
		args = append(args, "-v", bindMount(files.Input, l.StagedInput))
	}
	return append(args, b.opts.Image, "sh", "-c", script)
}

func bindMount(host, target string) string {
	abs, err := filepath.Abs(host)
	if err != nil {
		abs = host
	}
	return abs + ":" + target + ":ro"
}

func (b *DockerBackend) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := b.api.ContainerInspect(ctx, id); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *DockerBackend) Terminate(ctx context.Context, id string) error {
	if err := b.api.ContainerKill(ctx, id, "KILL"); err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("kill container %s: %w", id, err)
	}
	if err := b.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// Close releases the Engine API client.
func (b *DockerBackend) Close() error {
	if c, ok := b.api.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
