package fsm

import (
	"sync/atomic"

	"github.com/roadrunner-server/errors"
)

// NewFSM returns new FSM implementation based on initial state
func NewFSM(initialState int64) *Fsm {
	return &Fsm{
		currentState: &initialState,
	}
}

// Fsm is general https://en.wikipedia.org/wiki/Finite-state_machine to transition between worker states
type Fsm struct {
	// to be lightweight, use UnixNano
	lastStateChange uint64
	currentState    *int64
}

// CurrentState returns the current state atomically
func (s *Fsm) CurrentState() int64 {
	return atomic.LoadInt64(s.currentState)
}

func (s *Fsm) Compare(state int64) bool {
	return atomic.LoadInt64(s.currentState) == state
}

/*
Transition moves the worker from one state to another
*/
func (s *Fsm) Transition(to int64) {
	err := s.recognizer(to)
	if err != nil {
		return
	}

	atomic.StoreInt64(s.currentState, to)
}

// String returns current state as string.
func (s *Fsm) String() string {
	switch atomic.LoadInt64(s.currentState) {
	case StateInactive:
		return "inactive"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateKilling:
		return "killing"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	case StateDestroyed:
		return "destroyed"
	}

	return "undefined"
}

// IsActive returns true if the worker can still become (or already is) routable
func (s *Fsm) IsActive() bool {
	return atomic.LoadInt64(s.currentState) == StateStarting ||
		atomic.LoadInt64(s.currentState) == StateReady
}

// SetLastStateChange updates the state change timestamp
func (s *Fsm) SetLastStateChange(ts uint64) {
	atomic.StoreUint64(&s.lastStateChange, ts)
}

func (s *Fsm) LastStateChange() uint64 {
	return atomic.LoadUint64(&s.lastStateChange)
}

// Acceptors (also called detectors or recognizers) produce binary output,
// indicating whether or not the received input is accepted.
// Each event of an acceptor is either accepting or non accepting.
func (s *Fsm) recognizer(to int64) error {
	const op = errors.Op("fsm_recognizer")
	switch to {
	// to
	case StateInactive:
		// from
		if atomic.LoadInt64(s.currentState) != StateInactive {
			return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
		}
	// to
	case StateStarting:
		// from
		if atomic.LoadInt64(s.currentState) == StateInactive {
			return nil
		}

		return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
	// to
	case StateReady:
		// from
		// a worker becomes ready at most once, only while it is starting;
		// stopped/errored/destroyed instances are replaced, never revived
		if atomic.LoadInt64(s.currentState) == StateStarting {
			return nil
		}

		return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
	// to
	case StateStopping:
		// from
		switch atomic.LoadInt64(s.currentState) {
		case StateStopped, StateErrored, StateDestroyed:
			return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
		}
	// to
	case StateKilling:
		// from
		if atomic.LoadInt64(s.currentState) == StateDestroyed {
			return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
		}
	// to
	case StateStopped:
		// from
		if atomic.LoadInt64(s.currentState) == StateDestroyed {
			return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
		}
	// to
	case StateErrored:
		// from
		if atomic.LoadInt64(s.currentState) == StateDestroyed {
			return errors.E(op, errors.Errorf("can't transition from state: %s", s.String()))
		}
	// to
	case StateDestroyed:
		return nil
	}

	return nil
}
