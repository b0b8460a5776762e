package pool

import (
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/hostkit/procman/internal"
	"github.com/roadrunner-server/errors"
)

// Environment the worker reads its host contract from.
const (
	envAddress         = "WORKER_ADDRESS"
	envAppPath         = "WORKER_APP_PATH"
	envAppVirtualPath  = "WORKER_APP_VIRTUAL_PATH"
	envAppPhysicalPath = "WORKER_APP_PHYSICAL_PATH"
	envWindowsAuth     = "WORKER_WINDOWS_AUTH"
	envBasicAuth       = "WORKER_BASIC_AUTH"
	envAnonymousAuth   = "WORKER_ANONYMOUS_AUTH"
	envWebsockets      = "WORKER_WEBSOCKETS_SUPPORTED"
)

// commandForConfig renders the worker command for one spawn. The returned
// closer (possibly nil) owns the stdout log file and must be closed after the
// process exits.
func commandForConfig(cfg *Config, addr string, websocketSupported bool) (*exec.Cmd, io.Closer, error) {
	const op = errors.Op("pool_command_for_config")

	cmd := exec.Command(cfg.ProcessPath, cfg.Arguments...)
	if cfg.AppPhysicalPath != "" {
		cmd.Dir = cfg.AppPhysicalPath
	}

	env := append(os.Environ(),
		envAddress+"="+addr,
		envAppPath+"="+cfg.AppPath,
		envAppVirtualPath+"="+cfg.AppVirtualPath,
		envAppPhysicalPath+"="+cfg.AppPhysicalPath,
		envWindowsAuth+"="+strconv.FormatBool(cfg.WindowsAuthEnabled),
		envBasicAuth+"="+strconv.FormatBool(cfg.BasicAuthEnabled),
		envAnonymousAuth+"="+strconv.FormatBool(cfg.AnonymousAuthEnabled),
		envWebsockets+"="+strconv.FormatBool(websocketSupported),
	)
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	// stdout must never point at the inherited console buffer, batch wrappers
	// block on it. Either the configured log file or the shared null sink.
	switch {
	case cfg.StdoutLogEnabled && cfg.StdoutLogFile != "":
		f, err := os.OpenFile(cfg.StdoutLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.E(op, err)
		}
		cmd.Stdout = f
		return cmd, f, nil
	case cfg.ConsoleRedirectionEnabled:
		sink, err := internal.NullSink()
		if err != nil {
			return nil, nil, errors.E(op, err)
		}
		// shared handle, not ours to close
		cmd.Stdout = sink
	}

	return cmd, nil, nil
}
