package sandbox

import (
	"context"
	"os/exec"
)

// Files are the host-side artifacts of one execution.
type Files struct {
	Code  string
	Input string // empty when the request has no input
	ID    string // the backend writes the instance id here once the instance exists
}

// Controller locates and terminates sandbox instances out-of-band, by the id
// recorded in the id file rather than through the spawning process.
type Controller interface {
	Exists(ctx context.Context, id string) (bool, error)
	Terminate(ctx context.Context, id string) error
}

// Backend launches isolated instances.
type Backend interface {
	Controller

	Name() string

	// Prepare lays out the profile's files for this backend. It returns any extra
	// host paths it created so the runner can track them for cleanup.
	Prepare(p *Profile, files Files) (Layout, []string, error)

	// Command builds the process that runs script inside a fresh instance.
	// The process must record the instance id in files.ID.
	Command(files Files, l Layout, script string) *exec.Cmd
}
