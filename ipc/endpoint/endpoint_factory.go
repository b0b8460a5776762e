package endpoint

import (
	"context"
	"net"
	"os/exec"
	"time"

	"github.com/hostkit/procman/fsm"
	"github.com/hostkit/procman/worker"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tcplisten"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

// Factory spawns workers that expose a TCP endpoint for forwarded requests
// and blocks until the endpoint accepts connections.
type Factory struct {
	log *zap.Logger
	// how often to probe the worker endpoint while it is starting
	probeInterval time.Duration
}

// NewFactory returns an endpoint factory
func NewFactory(log *zap.Logger) *Factory {
	return &Factory{
		log:           log,
		probeInterval: time.Millisecond * 20,
	}
}

// ReserveAddr binds the requested address once to validate the binding and to
// resolve a ":0" port to a concrete one, then releases the socket for the
// worker to claim. SO_REUSEPORT keeps the lingering socket from shadowing the
// worker's own bind.
func (f *Factory) ReserveAddr(binding string) (string, error) {
	const op = errors.Op("endpoint_factory_reserve_addr")

	cfg := tcplisten.Config{
		ReusePort: true,
	}

	ln, err := cfg.NewListener("tcp4", binding)
	if err != nil {
		return "", errors.E(op, err)
	}

	addr := ln.Addr().String()
	err = ln.Close()
	if err != nil {
		return "", errors.E(op, err)
	}

	return addr, nil
}

type spawnResult struct {
	w   *worker.Process
	err error
}

// SpawnWorkerWithTimeout creates a Process bound to addr and waits for its
// endpoint to come up, or returns an error. The context bounds the whole
// spawn, a worker that never reaches the ready state is killed and discarded.
func (f *Factory) SpawnWorkerWithTimeout(ctx context.Context, cmd *exec.Cmd, addr string, options ...worker.Options) (*worker.Process, error) {
	c := make(chan spawnResult)
	go func() {
		w, err := worker.InitWorker(cmd, addr, append(options, worker.WithLog(f.log))...)
		if err != nil {
			select {
			case c <- spawnResult{
				w:   nil,
				err: err,
			}:
				return
			default:
				return
			}
		}

		err = w.Start()
		if err != nil {
			select {
			case c <- spawnResult{
				w:   nil,
				err: err,
			}:
				return
			default:
				return
			}
		}

		err = f.waitEndpoint(ctx, w)
		if err != nil {
			go func() {
				// read the exit status to prevent the process from becoming a zombie
				_ = w.Wait()
			}()
			_ = w.Kill()
			select {
			// try to write result
			case c <- spawnResult{
				w:   nil,
				err: err,
			}:
				return
				// if no receivers - return
			default:
				return
			}
		}

		w.State().Transition(fsm.StateReady)

		select {
		case c <- spawnResult{
			w:   w,
			err: nil,
		}:
			return
		default:
			_ = w.Kill()
			return
		}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.E(errors.TimeOut)
	case res := <-c:
		if res.err != nil {
			return nil, res.err
		}

		return res.w, nil
	}
}

// Close the factory. Nothing is held open between spawns.
func (f *Factory) Close() error {
	return nil
}

// waits for the worker endpoint to accept a TCP connection, failing fast when
// the child process is already gone
func (f *Factory) waitEndpoint(ctx context.Context, w *worker.Process) error {
	const op = errors.Op("endpoint_factory_wait_endpoint")
	ticker := time.NewTicker(f.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.E(op, errors.TimeOut)
		case <-ticker.C:
			// check for the process exists
			p, err := process.NewProcess(int32(w.Pid()))
			if err != nil {
				return errors.E(op, errors.Str("worker exited before the endpoint came up"))
			}

			if status, _ := p.Status(); status == "Z" {
				return errors.E(op, errors.Str("worker exited before the endpoint came up"))
			}

			conn, err := net.DialTimeout("tcp", w.Address(), f.probeInterval)
			if err != nil {
				continue
			}

			_ = conn.Close()
			return nil
		}
	}
}
