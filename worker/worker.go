package worker

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hostkit/procman/fsm"
	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Process - supervised OS process serving forwarded requests on its endpoint.
type Process struct {
	// created indicates at what time Process has been created.
	created time.Time
	log     *zap.Logger

	// fsm holds information about current Process state.
	// publicly this object is receive-only and protected using atomics.
	fsm *fsm.Fsm

	// underlying command with associated process, command must be
	// provided to Process from outside in non-started form. Its
	// stdErr direction will be handled by Process to aggregate error message.
	cmd *exec.Cmd

	// pid of the process, points to pid of underlying process and
	// can be 0 while process is not started.
	pid    int
	doneCh chan struct{}

	// endpoint the worker listens on for forwarded requests.
	addr string

	// stdout log file, closed once the process exits. Nil when stdout goes to
	// the shared null sink.
	stdout io.Closer

	// for how long to wait after a graceful stop signal before killing.
	shutdownTimeout time.Duration

	// shared ownership, underlying process is reaped on last release.
	refs int64
}

// InitWorker creates new Process over given non-started exec.Cmd bound to addr.
func InitWorker(cmd *exec.Cmd, addr string, options ...Options) (*Process, error) {
	if cmd.Process != nil {
		return nil, fmt.Errorf("can't attach to running process")
	}

	w := &Process{
		created:         time.Now(),
		cmd:             cmd,
		addr:            addr,
		doneCh:          make(chan struct{}, 1),
		shutdownTimeout: time.Second * 10,
		refs:            1,
	}

	// add options
	for i := 0; i < len(options); i++ {
		options[i](w)
	}

	if w.log == nil {
		z, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}

		w.log = z
	}

	w.fsm = fsm.NewFSM(fsm.StateInactive)

	// set self as stderr implementation (Writer interface)
	rc, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	go func() {
		// https://linux.die.net/man/7/pipe
		// see pipe capacity
		buf := make([]byte, 65536)
		errCopy := copyBuffer(w, rc, buf)
		if errCopy != nil {
			w.log.Debug("stderr", zap.Error(errCopy))
		}
	}()

	return w, nil
}

// Pid returns worker pid.
func (w *Process) Pid() int64 {
	return int64(w.pid)
}

// Created returns time, worker was created at.
func (w *Process) Created() time.Time {
	return w.created
}

// Address returns the endpoint the worker accepts forwarded requests on.
func (w *Process) Address() string {
	return w.addr
}

// State returns receive-only Process state object, state can be used to safely
// access Process status and time of the last status change.
func (w *Process) State() *fsm.Fsm {
	return w.fsm
}

// IsReady reports whether the worker finished starting and accepts requests.
func (w *Process) IsReady() bool {
	return w.fsm.Compare(fsm.StateReady)
}

// String returns Process description. fmt.Stringer interface
func (w *Process) String() string {
	st := w.fsm.String()
	// we can safely compare pid to 0
	if w.pid != 0 {
		st = st + ", pid:" + strconv.Itoa(w.pid)
	}

	return fmt.Sprintf(
		"(`%s` [%s], addr: %s)",
		strings.Join(w.cmd.Args, " "),
		st,
		w.addr,
	)
}

func (w *Process) Start() error {
	err := w.cmd.Start()
	if err != nil {
		w.fsm.Transition(fsm.StateErrored)
		return err
	}
	w.pid = w.cmd.Process.Pid
	w.fsm.Transition(fsm.StateStarting)
	w.fsm.SetLastStateChange(uint64(time.Now().UnixNano()))
	return nil
}

// Wait must be called once for each Process, call will be released once Process is
// complete and will return process error (if any). An exit observed while the
// worker was routable marks it errored so the manager replaces it instead of
// reusing the slot entry.
func (w *Process) Wait() error {
	const op = errors.Op("worker_wait")
	var err error
	err = w.cmd.Wait()
	w.doneCh <- struct{}{}

	if w.stdout != nil {
		// cleanup failure must not mask the exit status
		_ = w.stdout.Close()
	}

	// If worker was destroyed, just exit
	if w.fsm.Compare(fsm.StateDestroyed) {
		return nil
	}

	// an exit we asked for is not a failure, whatever the exit code says
	if w.fsm.Compare(fsm.StateStopping) || w.fsm.Compare(fsm.StateKilling) || w.fsm.Compare(fsm.StateStopped) {
		w.fsm.Transition(fsm.StateStopped)
		return nil
	}

	if err != nil {
		w.fsm.Transition(fsm.StateErrored)
		return multierr.Append(err, errors.E(op, err))
	}

	// a clean exit while routable is still an unexpected one, the worker is
	// gone and only a replacement can serve the slot
	if w.fsm.Compare(fsm.StateReady) || w.fsm.Compare(fsm.StateStarting) {
		w.fsm.Transition(fsm.StateErrored)
		return errors.E(op, errors.Str("worker exited unexpectedly"))
	}

	w.fsm.Transition(fsm.StateStopped)
	return nil
}

// SendSignal asks the worker to exit gracefully. Non-blocking, the caller does
// not wait for the process to finish.
func (w *Process) SendSignal() error {
	const op = errors.Op("worker_send_signal")
	if w.cmd.Process == nil || w.fsm.Compare(fsm.StateStopped) || w.fsm.Compare(fsm.StateErrored) {
		return nil
	}

	w.fsm.Transition(fsm.StateStopping)
	err := w.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil {
		// the process may be gone already, cleanup failure is not propagated
		w.log.Debug("send signal", zap.Int64("pid", w.Pid()), zap.Error(err))
		return errors.E(op, err)
	}

	return nil
}

// Stop sends soft termination signal to the Process and waits for completion
// up to the shutdown timeout, then escalates to kill.
func (w *Process) Stop() error {
	const op = errors.Op("worker_stop")

	if w.cmd.Process == nil || w.fsm.Compare(fsm.StateStopped) || w.fsm.Compare(fsm.StateErrored) {
		return nil
	}

	t := time.After(w.shutdownTimeout)

	w.fsm.Transition(fsm.StateStopping)
	_ = w.cmd.Process.Signal(syscall.SIGTERM)

	select {
	// finished
	case <-w.doneCh:
		w.fsm.Transition(fsm.StateStopped)
		return nil
	case <-t:
		// kill process
		w.log.Warn("worker doesn't respond on stop signal, killing process", zap.Int64("pid", w.Pid()))
		w.fsm.Transition(fsm.StateKilling)
		_ = w.cmd.Process.Kill()
		w.fsm.Transition(fsm.StateStopped)
		return errors.E(op, errors.Network)
	}
}

// Kill kills underlying process, make sure to call Wait() func to gather
// error log from the stderr. Does not wait for process completion!
func (w *Process) Kill() error {
	if w.fsm.Compare(fsm.StateDestroyed) {
		err := w.cmd.Process.Kill()
		if err != nil {
			return err
		}

		return nil
	}

	w.fsm.Transition(fsm.StateKilling)
	err := w.cmd.Process.Kill()
	if err != nil {
		return err
	}
	w.fsm.Transition(fsm.StateStopped)
	return nil
}

// Acquire registers another holder of the worker reference. Every component
// that stashes the pointer across an asynchronous boundary must pair it with
// Release.
func (w *Process) Acquire() {
	atomic.AddInt64(&w.refs, 1)
}

// Release drops one reference, the underlying process is destroyed when the
// last holder releases. An in-flight request may keep a worker alive after
// its slot has already been cleared.
func (w *Process) Release() {
	if atomic.AddInt64(&w.refs, -1) != 0 {
		return
	}

	stopped := w.fsm.Compare(fsm.StateStopped) || w.fsm.Compare(fsm.StateErrored)
	w.fsm.Transition(fsm.StateDestroyed)

	if !stopped && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// Worker stderr
func (w *Process) Write(p []byte) (int, error) {
	w.log.Info(string(p))
	return len(p), nil
}

// copyBuffer is the actual implementation of Copy and CopyBuffer.
func copyBuffer(dst io.Writer, src io.Reader, buf []byte) error {
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = errors.Str("invalid write result")
				}
			}
			if ew != nil {
				return ew
			}
			if nr != nw {
				return io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return er
			}
			break
		}
	}

	return nil
}
