package process

import (
	"github.com/hostkit/procman/worker"
	"github.com/roadrunner-server/errors"
	"github.com/shirou/gopsutil/process"
)

// State is an OS-level snapshot of one worker, consumed by metrics and the
// host introspection surface.
type State struct {
	Pid         int     `json:"pid"`
	Status      string  `json:"status"`
	Addr        string  `json:"addr"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsage uint64  `json:"memory_usage"`
	Created     int64   `json:"created"`
}

// WorkerProcessState creates new worker state definition.
func WorkerProcessState(w *worker.Process) (*State, error) {
	const op = errors.Op("worker_process_state")
	p, err := process.NewProcess(int32(w.Pid()))
	if err != nil {
		return nil, errors.E(op, err)
	}

	i, err := p.MemoryInfo()
	if err != nil {
		return nil, errors.E(op, err)
	}

	percent, err := p.CPUPercent()
	if err != nil {
		return nil, err
	}

	return &State{
		Pid:         int(w.Pid()),
		Status:      w.State().String(),
		Addr:        w.Address(),
		CPUPercent:  percent,
		MemoryUsage: i.RSS,
		Created:     w.Created().UnixNano(),
	}, nil
}
