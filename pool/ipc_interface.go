package pool

import (
	"context"
	"os/exec"

	"github.com/hostkit/procman/worker"
)

// Factory is responsible for wrapping a configured command into a routable
// worker Process.
type Factory interface {
	// SpawnWorkerWithTimeout creates a new worker process bound to addr and
	// waits for its endpoint to come up. Process must not be started.
	SpawnWorkerWithTimeout(context.Context, *exec.Cmd, string, ...worker.Options) (*worker.Process, error)
	// ReserveAddr resolves a configured binding into a concrete endpoint
	// address a worker can claim.
	ReserveAddr(binding string) (string, error)
	// Close the factory and underlying connections.
	Close() error
}
