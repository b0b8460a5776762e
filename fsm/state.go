package fsm

// All worker states
const (
	// StateInactive - process object exists, OS process not spawned yet
	StateInactive int64 = iota
	// StateStarting - OS process spawned, endpoint not accepting connections yet
	StateStarting
	// StateReady - endpoint is up, worker can accept forwarded requests
	StateReady
	// StateStopping - process is being softly stopped
	StateStopping
	// StateKilling - process is being terminated forcefully
	StateKilling
	// StateStopped - process has exited
	StateStopped
	// StateErrored - process exited unexpectedly or failed to start (can't be used)
	StateErrored
	// StateDestroyed - last reference released, instance will never be handed out again
	StateDestroyed
)
