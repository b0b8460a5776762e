package events

import (
	"fmt"
)

type EventType int

// Pool and worker lifecycle events
const (
	// EventWorkerConstruct thrown when new worker is spawned
	EventWorkerConstruct EventType = iota
	// EventWorkerCrashed thrown when a worker exits unexpectedly
	EventWorkerCrashed
	// EventWorkerStopped thrown after a requested worker stop completes
	EventWorkerStopped
	// EventRapidFailTripped thrown when the crash budget for the window is exceeded
	EventRapidFailTripped
	// EventPoolShutdown thrown once when the manager begins its teardown
	EventPoolShutdown
)

func (et EventType) String() string {
	switch et {
	case EventWorkerConstruct:
		return "EventWorkerConstruct"
	case EventWorkerCrashed:
		return "EventWorkerCrashed"
	case EventWorkerStopped:
		return "EventWorkerStopped"
	case EventRapidFailTripped:
		return "EventRapidFailTripped"
	case EventPoolShutdown:
		return "EventPoolShutdown"
	}

	return "UnknownEventType"
}

type event struct {
	// event typ
	typ fmt.Stringer
	// plugin
	plugin string
	// message
	message string
}

// NewEvent initializes new event
func NewEvent(t fmt.Stringer, plugin string, message string) *event {
	if t.String() == "" || plugin == "" {
		return nil
	}

	return &event{
		typ:     t,
		plugin:  plugin,
		message: message,
	}
}

func (r *event) Type() fmt.Stringer {
	return r.typ
}

func (r *event) Message() string {
	return r.message
}

func (r *event) Plugin() string {
	return r.plugin
}
