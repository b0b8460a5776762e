package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_NewState(t *testing.T) {
	st := NewFSM(StateErrored)

	assert.Equal(t, "errored", st.String())

	assert.Equal(t, "inactive", NewFSM(StateInactive).String())
	assert.Equal(t, "starting", NewFSM(StateStarting).String())
	assert.Equal(t, "ready", NewFSM(StateReady).String())
	assert.Equal(t, "stopping", NewFSM(StateStopping).String())
	assert.Equal(t, "stopped", NewFSM(StateStopped).String())
	assert.Equal(t, "undefined", NewFSM(1000).String())
}

func Test_IsActive(t *testing.T) {
	assert.False(t, NewFSM(StateInactive).IsActive())
	assert.True(t, NewFSM(StateStarting).IsActive())
	assert.True(t, NewFSM(StateReady).IsActive())
	assert.False(t, NewFSM(StateStopped).IsActive())
	assert.False(t, NewFSM(StateErrored).IsActive())
}

func Test_ReadyOnlyFromStarting(t *testing.T) {
	st := NewFSM(StateInactive)

	// not spawned yet, can't be ready
	st.Transition(StateReady)
	assert.True(t, st.Compare(StateInactive))

	st.Transition(StateStarting)
	st.Transition(StateReady)
	assert.True(t, st.Compare(StateReady))
}

func Test_TerminalStatesNeverReady(t *testing.T) {
	for _, terminal := range []int64{StateStopped, StateErrored, StateDestroyed} {
		st := NewFSM(terminal)
		st.Transition(StateReady)
		assert.True(t, st.Compare(terminal), st.String())
	}
}

func Test_StoppedIsNotRevivable(t *testing.T) {
	st := NewFSM(StateInactive)
	st.Transition(StateStarting)
	st.Transition(StateReady)
	st.Transition(StateStopping)
	st.Transition(StateStopped)

	st.Transition(StateStarting)
	assert.True(t, st.Compare(StateStopped))

	st.Transition(StateStopping)
	assert.True(t, st.Compare(StateStopped))
}
