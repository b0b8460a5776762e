package pool

import (
	"context"
	"sync/atomic"

	"github.com/hostkit/procman/worker"
	"github.com/roadrunner-server/errors"
	"golang.org/x/sync/errgroup"
)

// Prewarm spawns a worker for every empty slot so the first requests don't
// pay the cold-start latency. All-or-nothing: on any failure the freshly
// spawned workers are stopped and the table is left as it was.
func (m *Manager) Prewarm(ctx context.Context, cfg *Config, websocketSupported bool) error {
	const op = errors.Op("process_manager_prewarm")

	if m.stopping.Load() {
		return errors.E(op, errors.Stop, errors.Str("application is exiting"))
	}

	if cfg == nil {
		return errors.E(op, errors.Str("nil configuration provided"))
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

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg.InitDefaults()

	spawned := make([]*worker.Process, len(m.slots))
	eg := new(errgroup.Group)

	for i := 0; i < len(m.slots); i++ {
		if m.slots[i] != nil && m.slots[i].IsReady() {
			continue
		}

		ii := i
		eg.Go(func() error {
			w, err := m.spawn(ctx, cfg, websocketSupported)
			if err != nil {
				return errors.E(op, errors.WorkerAllocate, err)
			}

			spawned[ii] = w
			return nil
		})
	}

	err := eg.Wait()
	if err != nil {
		for j := 0; j < len(spawned); j++ {
			if spawned[j] != nil {
				_ = spawned[j].Stop()
				spawned[j].Release()
			}
		}
		return err
	}

	for i := 0; i < len(spawned); i++ {
		if spawned[i] != nil {
			if m.slots[i] != nil {
				m.shutdownProcessLocked(m.slots[i])
			}
			m.slots[i] = spawned[i]
		}
	}

	return nil
}
