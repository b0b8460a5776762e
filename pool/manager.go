package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/hostkit/procman/events"
	"github.com/hostkit/procman/internal"
	"github.com/hostkit/procman/state/process"
	"github.com/hostkit/procman/worker"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const pluginName = "process_manager"

// crash counters are reset once this much time has passed since the window start
const rapidFailWindow = time.Minute

// Manager owns the fixed slot table of worker processes for one application,
// performs round-robin selection, lazy creation, crash replacement,
// rapid-fail circuit breaking and coordinated shutdown of the whole pool.
type Manager struct {
	// guards the slot table. Routing to an already-ready worker takes the
	// shared mode, every slot mutation takes the exclusive mode.
	mu sync.RWMutex

	log     *zap.Logger
	factory Factory

	// slot table, sized once from the first configuration read.
	// A worker's position does not change after creation.
	slots    []*worker.Process
	numSlots uint64

	// round-robin cursor, incremented atomically on every selection
	routeIdx uint64

	// crash budget bookkeeping, windowStart is only touched under the
	// exclusive lock, the counter is bumped from the reaper goroutines too
	rapidFailCount int64
	windowStart    time.Time

	slotsReady atomic.Bool
	stopping   atomic.Bool

	// shared ownership of the manager itself, destroyed on last release
	refs int64

	// clock source for the rapid-fail window
	now func() time.Time

	eventBus *events.Bus
}

// NewManager sets up the pool for one application. The process-wide null sink
// must be available before any worker is spawned, failing to open it is not
// recoverable for the manager.
func NewManager(factory Factory, log *zap.Logger, options ...Options) (*Manager, error) {
	const op = errors.Op("process_manager_init")

	if factory == nil {
		return nil, errors.E(op, errors.Str("no factory initialized"))
	}

	if log == nil {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	_, err := internal.NullSink()
	if err != nil {
		return nil, errors.E(op, errors.Init, err)
	}

	m := &Manager{
		log:     log,
		factory: factory,
		refs:    1,
		now:     time.Now,
	}

	for i := 0; i < len(options); i++ {
		options[i](m)
	}

	m.windowStart = m.now()
	m.eventBus, _ = events.NewEventBus()

	return m, nil
}

// GetProcess returns a ready worker for the next round-robin slot, creating
// or replacing one as needed. It never returns a non-ready worker. The first
// request after a cold start or crash pays up to cfg.StartupTimeout here.
func (m *Manager) GetProcess(ctx context.Context, cfg *Config, websocketSupported bool) (*worker.Process, error) {
	const op = errors.Op("process_manager_get_process")

	if m.stopping.Load() {
		return nil, errors.E(op, errors.Stop, errors.Str("application is exiting"))
	}

	if cfg == nil {
		return nil, errors.E(op, errors.Str("nil configuration provided"))
	}

	if !m.slotsReady.Load() {
		m.mu.Lock()
		if !m.slotsReady.Load() {
			cfg.InitDefaults()
			m.slots = make([]*worker.Process, cfg.ProcessesPerApp)
			atomic.StoreUint64(&m.numSlots, uint64(cfg.ProcessesPerApp))
			m.slotsReady.Store(true)
		}
		m.mu.Unlock()
	}

	// round robin through to the next slot
	idx := atomic.AddUint64(&m.routeIdx, 1) % atomic.LoadUint64(&m.numSlots)

	m.mu.RLock()
	if w := m.slots[idx]; w != nil && w.IsReady() {
		m.mu.RUnlock()
		return w, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// configurations may differ between calls, normalize the one we spawn with
	cfg.InitDefaults()

	if w := m.slots[idx]; w != nil {
		// another request may have repaired the slot while we waited for the lock
		if w.IsReady() {
			return w, nil
		}

		// terminate the existing process that is not ready
		// before creating a new one
		m.shutdownProcessLocked(w)
	}

	if m.rapidFailsExceeded(cfg.RapidFailsPerMinute) {
		m.log.Warn("rapid fail count exceeded, worker creation disabled",
			zap.Int64("rapid_fails_per_minute", cfg.RapidFailsPerMinute),
			zap.String("internal_event_name", events.EventRapidFailTripped.String()))
		m.eventBus.Send(events.NewEvent(events.EventRapidFailTripped, pluginName, "rapid fails per minute exceeded"))
		return nil, errors.E(op, errors.Disabled, errors.Str("rapid fails per minute exceeded"))
	}

	w, err := m.spawn(ctx, cfg, websocketSupported)
	if err != nil {
		// a worker that dies or hangs while starting counts against the
		// crash budget, the slot stays empty for the next attempt
		m.IncrementRapidFailCount()
		return nil, errors.E(op, errors.WorkerAllocate, err)
	}

	if !w.IsReady() {
		// crashed between spawn and adoption, discard instead of storing
		w.Release()
		return nil, errors.E(op, errors.WorkerAllocate, errors.Str("worker did not reach the ready state"))
	}

	m.slots[idx] = w
	return w, nil
}

// IncrementRapidFailCount records one unexpected worker exit in the current
// measurement window. This is the manager's only failure-memory signal.
func (m *Manager) IncrementRapidFailCount() {
	atomic.AddInt64(&m.rapidFailCount, 1)
}

// RapidFailCount returns the crash count of the current window.
func (m *Manager) RapidFailCount() int64 {
	return atomic.LoadInt64(&m.rapidFailCount)
}

// SendShutdownSignal asks every pooled worker to exit gracefully without
// waiting for them, used for recycling while the manager keeps running.
func (m *Manager) SendShutdownSignal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < len(m.slots); i++ {
		if m.slots[i] != nil {
			_ = m.slots[i].SendSignal()
			m.slots[i].Release()
			m.slots[i] = nil
		}
	}
}

// ShutdownProcess stops the given worker in place. Slots are matched by
// endpoint rather than identity, which tolerates the worker having already
// been replaced.
func (m *Manager) ShutdownProcess(w *worker.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownProcessLocked(w)
}

// ShutdownAllProcesses synchronously stops every pooled worker and clears the
// table.
func (m *Manager) ShutdownAllProcesses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownAllProcessesLocked()
}

// Shutdown is one-shot: the first caller flips the manager into the exiting
// state and tears the pool down, concurrent and later callers are no-ops.
func (m *Manager) Shutdown() {
	if m.stopping.CompareAndSwap(false, true) {
		m.log.Info("shutdown signal received, stopping the pool")
		m.eventBus.Send(events.NewEvent(events.EventPoolShutdown, pluginName, "pool teardown started"))
		m.ShutdownAllProcesses()
	}
}

// Reference registers another holder of the manager. Any component stashing
// the manager pointer across an asynchronous boundary must pair this with
// Deref.
func (m *Manager) Reference() {
	atomic.AddInt64(&m.refs, 1)
}

// Deref releases one hold on the manager, the last release tears the pool
// down and closes the factory.
func (m *Manager) Deref() {
	if atomic.AddInt64(&m.refs, -1) != 0 {
		return
	}

	m.Shutdown()
	err := m.factory.Close()
	if err != nil {
		m.log.Debug("factory close", zap.Error(err))
	}
}

// Workers returns a copy of the currently occupied slots.
func (m *Manager) Workers() []*worker.Process {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*worker.Process, 0, len(m.slots))
	for i := 0; i < len(m.slots); i++ {
		if m.slots[i] != nil {
			out = append(out, m.slots[i])
		}
	}

	return out
}

// WorkerStates returns best-effort OS snapshots of the live workers. Workers
// that exit mid-snapshot are skipped.
func (m *Manager) WorkerStates() []*process.State {
	workers := m.Workers()
	states := make([]*process.State, 0, len(workers))

	for i := 0; i < len(workers); i++ {
		st, err := process.WorkerProcessState(workers[i])
		if err != nil {
			continue
		}
		states = append(states, st)
	}

	return states
}

// WorkersStateJSON serializes the worker snapshots for the host introspection
// surface.
func (m *Manager) WorkersStateJSON() ([]byte, error) {
	return json.Marshal(m.WorkerStates())
}

// spawn builds the worker command from configuration and starts it, bounded
// by the startup time limit. Failed spawns are discarded, never adopted.
func (m *Manager) spawn(ctx context.Context, cfg *Config, websocketSupported bool) (*worker.Process, error) {
	addr, err := m.factory.ReserveAddr(cfg.Bindings[0])
	if err != nil {
		return nil, err
	}

	cmd, stdout, err := commandForConfig(cfg, addr, websocketSupported)
	if err != nil {
		return nil, err
	}

	ctxT, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	w, err := m.factory.SpawnWorkerWithTimeout(ctxT, cmd, addr,
		worker.WithShutdownTimeout(cfg.ShutdownTimeout),
		worker.WithStdout(stdout),
	)
	if err != nil {
		if stdout != nil {
			_ = stdout.Close()
		}
		if errors.Is(errors.TimeOut, err) {
			return nil, errors.Str("worker did not reach the ready state within the startup time limit")
		}
		return nil, err
	}

	m.log.Debug("worker is allocated",
		zap.Int64("pid", w.Pid()),
		zap.String("address", w.Address()),
		zap.String("internal_event_name", events.EventWorkerConstruct.String()))
	m.watch(w)

	return w, nil
}

// watch reaps the worker exit status and feeds unexpected exits into the
// rapid-fail counter.
func (m *Manager) watch(w *worker.Process) {
	m.Reference()
	go func() {
		err := w.Wait()
		if err != nil && !m.stopping.Load() {
			m.log.Warn("worker exited unexpectedly",
				zap.Int64("pid", w.Pid()),
				zap.String("internal_event_name", events.EventWorkerCrashed.String()),
				zap.Error(err))
			m.IncrementRapidFailCount()
			m.eventBus.Send(events.NewEvent(events.EventWorkerCrashed, pluginName, fmt.Sprintf("process exited, pid: %d", w.Pid())))
		}
		m.Deref()
	}()
}

// reset counters every minute, trip strictly above the configured budget
func (m *Manager) rapidFailsExceeded(rapidFailsPerMinute int64) bool {
	now := m.now()

	if now.Sub(m.windowStart) >= rapidFailWindow {
		atomic.StoreInt64(&m.rapidFailCount, 0)
		m.windowStart = now
	}

	return atomic.LoadInt64(&m.rapidFailCount) > rapidFailsPerMinute
}

func (m *Manager) shutdownProcessLocked(w *worker.Process) {
	for i := 0; i < len(m.slots); i++ {
		if m.slots[i] != nil && m.slots[i].Address() == w.Address() {
			// stop if not already stopped
			err := m.slots[i].Stop()
			if err != nil {
				m.log.Debug("worker stop", zap.Int64("pid", m.slots[i].Pid()), zap.Error(err))
			}
			m.eventBus.Send(events.NewEvent(events.EventWorkerStopped, pluginName, fmt.Sprintf("process stopped, pid: %d", m.slots[i].Pid())))
			m.slots[i].Release()
			m.slots[i] = nil
		}
	}
}

func (m *Manager) shutdownAllProcessesLocked() {
	for i := 0; i < len(m.slots); i++ {
		if m.slots[i] != nil {
			err := m.slots[i].Stop()
			if err != nil {
				m.log.Debug("worker stop", zap.Int64("pid", m.slots[i].Pid()), zap.Error(err))
			}
			m.eventBus.Send(events.NewEvent(events.EventWorkerStopped, pluginName, fmt.Sprintf("process stopped, pid: %d", m.slots[i].Pid())))
			m.slots[i].Release()
			m.slots[i] = nil
		}
	}
}
