package metrics

import (
	"strconv"

	"github.com/hostkit/procman/state/process"
	"github.com/prometheus/client_golang/prometheus"
)

// Informer is the view of the process manager the exporter scrapes.
type Informer interface {
	WorkerStates() []*process.State
	RapidFailCount() int64
}

type StatsExporter struct {
	TotalMemoryDesc  *prometheus.Desc
	StateDesc        *prometheus.Desc
	WorkerMemoryDesc *prometheus.Desc
	TotalWorkersDesc *prometheus.Desc

	WorkersReady    *prometheus.Desc
	WorkersStarting *prometheus.Desc
	WorkersInvalid  *prometheus.Desc

	RapidFailsDesc *prometheus.Desc

	Manager Informer
}

// NewStatsExporter builds the collector for one process manager.
func NewStatsExporter(informer Informer) *StatsExporter {
	return &StatsExporter{
		TotalWorkersDesc: prometheus.NewDesc("pool_total_workers", "Total number of workers used by the application", nil, nil),
		TotalMemoryDesc:  prometheus.NewDesc("pool_workers_memory_bytes", "Memory usage by workers", nil, nil),
		StateDesc:        prometheus.NewDesc("pool_worker_state", "Worker current state", []string{"state", "pid"}, nil),
		WorkerMemoryDesc: prometheus.NewDesc("pool_worker_memory_bytes", "Worker memory usage", []string{"pid"}, nil),

		WorkersReady:    prometheus.NewDesc("pool_workers_ready", "Workers ready to accept forwarded requests", nil, nil),
		WorkersStarting: prometheus.NewDesc("pool_workers_starting", "Workers spawned but not accepting connections yet", nil, nil),
		WorkersInvalid:  prometheus.NewDesc("pool_workers_invalid", "Workers in a terminal state awaiting replacement", nil, nil),

		RapidFailsDesc: prometheus.NewDesc("pool_rapid_fails", "Worker start failures and crashes within the current one-minute window", nil, nil),

		Manager: informer,
	}
}

func (s *StatsExporter) Describe(d chan<- *prometheus.Desc) {
	// send description
	d <- s.TotalWorkersDesc
	d <- s.TotalMemoryDesc
	d <- s.StateDesc
	d <- s.WorkerMemoryDesc

	d <- s.WorkersReady
	d <- s.WorkersStarting
	d <- s.WorkersInvalid

	d <- s.RapidFailsDesc
}

func (s *StatsExporter) Collect(ch chan<- prometheus.Metric) {
	// get the copy of the processes
	workerStates := s.Manager.WorkerStates()

	// cumulative RSS memory in bytes
	var cum float64

	var ready float64
	var starting float64
	var invalid float64

	// collect the memory
	for i := 0; i < len(workerStates); i++ {
		cum += float64(workerStates[i].MemoryUsage)

		ch <- prometheus.MustNewConstMetric(s.StateDesc, prometheus.GaugeValue, 0, workerStates[i].Status, strconv.Itoa(workerStates[i].Pid))
		ch <- prometheus.MustNewConstMetric(s.WorkerMemoryDesc, prometheus.GaugeValue, float64(workerStates[i].MemoryUsage), strconv.Itoa(workerStates[i].Pid))

		// keep in sync with fsm String()
		switch workerStates[i].Status {
		case "ready":
			ready++
		case "starting":
			starting++
		default:
			invalid++
		}
	}

	ch <- prometheus.MustNewConstMetric(s.WorkersReady, prometheus.GaugeValue, ready)
	ch <- prometheus.MustNewConstMetric(s.WorkersStarting, prometheus.GaugeValue, starting)
	ch <- prometheus.MustNewConstMetric(s.WorkersInvalid, prometheus.GaugeValue, invalid)

	// send the values to the prometheus
	ch <- prometheus.MustNewConstMetric(s.TotalWorkersDesc, prometheus.GaugeValue, float64(len(workerStates)))
	ch <- prometheus.MustNewConstMetric(s.TotalMemoryDesc, prometheus.GaugeValue, cum)

	ch <- prometheus.MustNewConstMetric(s.RapidFailsDesc, prometheus.GaugeValue, float64(s.Manager.RapidFailCount()))
}
