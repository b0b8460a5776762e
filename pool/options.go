package pool

import (
	"time"
)

type Options func(m *Manager)

// WithClock overrides the clock the rapid-fail window is measured with.
func WithClock(now func() time.Time) Options {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
