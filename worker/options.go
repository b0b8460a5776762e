package worker

import (
	"io"
	"time"

	"go.uber.org/zap"
)

type Options func(p *Process)

func WithLog(z *zap.Logger) Options {
	return func(p *Process) {
		p.log = z
	}
}

// WithShutdownTimeout overrides for how long Stop waits for a graceful exit
// before escalating to kill.
func WithShutdownTimeout(t time.Duration) Options {
	return func(p *Process) {
		if t > 0 {
			p.shutdownTimeout = t
		}
	}
}

// WithStdout hands the worker ownership of its stdout log file, closed after
// the process exits.
func WithStdout(c io.Closer) Options {
	return func(p *Process) {
		p.stdout = c
	}
}
