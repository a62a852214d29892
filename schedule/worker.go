package schedule

import (
	"github.com/meshtdma/tdmh/core/worker"
	"github.com/meshtdma/tdmh/uplink"
)

// Worker runs the schedule-computation pass on its own cooperative task,
// woken by Notify whenever uplink observes the topology graph or SME map
// changed (spec §4.6: "runs on a separate cooperative task signaled by
// the uplink when (topology changed) or (SME set changed)").
type Worker struct {
	worker.Worker
	comp   *Computation
	graph  *uplink.Graph
	smeMap *uplink.SMEMap
	signal chan struct{}

	// OnPlan, if set, is invoked with every newly computed Plan so the
	// schedule distribution phase can pick it up.
	OnPlan func(*Plan)
}

// NewWorker constructs a schedule-computation worker.
func NewWorker(comp *Computation, graph *uplink.Graph, smeMap *uplink.SMEMap) *Worker {
	return &Worker{comp: comp, graph: graph, smeMap: smeMap, signal: make(chan struct{}, 1)}
}

// Notify wakes the worker to check for pending topology/SME changes.
// Safe to call from the uplink phase after every tile; non-blocking.
func (w *Worker) Notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Start launches the worker's goroutine.
func (w *Worker) Start() {
	w.Go(func() {
		for {
			select {
			case <-w.HaltCh():
				return
			case <-w.signal:
				topologyChanged := w.graph.Modified()
				smeChanged := w.smeMap.Modified()
				if !topologyChanged && !smeChanged {
					continue
				}
				plan := w.comp.Compute(topologyChanged)
				if w.OnPlan != nil {
					w.OnPlan(plan)
				}
			}
		}
	})
}
