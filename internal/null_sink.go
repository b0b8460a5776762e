package internal

import (
	"os"
	"sync"
)

//
// The null sink is used to redirect stdout/stderr of the spawned workers to
// the OS null device. If the worker executable is a batch/shell wrapper it
// writes to the console buffer by default and fails to start when that
// buffer is owned by the parent process. Redirecting to the null device (or
// to a log file, anything other than the parent's console buffer) avoids it.
//
// One handle per host process, shared by every manager, with explicit teardown.
//

var (
	mu     sync.Mutex
	opened bool
	sink   *os.File
)

// NullSink opens the process-wide null device handle. The handle is opened
// once and shared, callers must not close it directly, use CloseNullSink.
func NullSink() (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()

	if opened {
		return sink, nil
	}

	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	sink = f
	opened = true
	return sink, nil
}

// CloseNullSink releases the shared handle. Safe to call multiple times.
func CloseNullSink() error {
	mu.Lock()
	defer mu.Unlock()

	if !opened {
		return nil
	}

	err := sink.Close()
	sink = nil
	opened = false
	return err
}
