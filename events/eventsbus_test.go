package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SubscribeAll(t *testing.T) {
	eb, id := NewEventBus()
	defer eb.Unsubscribe(id)

	ch := make(chan Event, 10)
	require.NoError(t, eb.SubscribeAll(id, ch))

	eb.Send(NewEvent(EventWorkerCrashed, "process_manager", "process exited, pid: 42"))

	select {
	case ev := <-ch:
		assert.Equal(t, EventWorkerCrashed.String(), ev.Type().String())
		assert.Equal(t, "process_manager", ev.Plugin())
		assert.Equal(t, "process exited, pid: 42", ev.Message())
	case <-time.After(time.Second * 2):
		t.Fatal("no event received")
	}
}

func Test_SubscribeP_Pattern(t *testing.T) {
	eb, id := NewEventBus()
	defer eb.Unsubscribe(id)

	ch := make(chan Event, 10)
	require.NoError(t, eb.SubscribeP(id, "process_manager.*", ch))

	eb.Send(NewEvent(EventPoolShutdown, "process_manager", "pool teardown started"))

	select {
	case ev := <-ch:
		assert.Equal(t, EventPoolShutdown.String(), ev.Type().String())
	case <-time.After(time.Second * 2):
		t.Fatal("no event received")
	}
}

func Test_SubscribeP_NoMatch(t *testing.T) {
	eb, id := NewEventBus()
	defer eb.Unsubscribe(id)

	ch := make(chan Event, 10)
	require.NoError(t, eb.SubscribeP(id, "other_plugin.*", ch))

	eb.Send(NewEvent(EventWorkerConstruct, "process_manager", "worker allocated"))

	select {
	case <-ch:
		t.Fatal("event should have been filtered out")
	case <-time.After(time.Millisecond * 300):
	}
}

func Test_Subscribe_Validation(t *testing.T) {
	eb, id := NewEventBus()
	defer eb.Unsubscribe(id)

	assert.Error(t, eb.SubscribeAll("", make(chan Event)))
	assert.Error(t, eb.SubscribeAll(id, nil))
	assert.Error(t, eb.SubscribeP(id, "", make(chan Event)))
	assert.Error(t, eb.SubscribeP(id, "*.crashed.*", make(chan Event)))
}
