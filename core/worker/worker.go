// Package worker provides a cooperative-task embeddable helper used by
// every long-running loop in this repository: the MAC top-level loop, the
// schedule-computation worker, the wake-up scheduler and stream readers.
package worker

import "sync"

// Worker is an embeddable type that tracks goroutines spawned with Go and
// provides a channel that closes when Halt is called, so that loops can
// select on it instead of polling a boolean.
type Worker struct {
	sync.WaitGroup

	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// Go spawns fn as a goroutine tracked by the Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.init()
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// HaltCh returns a channel that is closed when Halt is called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltCh
}

// Halt signals all goroutines spawned via Go to stop, by closing HaltCh.
// Safe to call more than once.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}
