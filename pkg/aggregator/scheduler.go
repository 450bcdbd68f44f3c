package aggregator

import (
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/rs/zerolog"
)

// task is a unit of work submitted to the single-worker scheduler: a
// membership change or a per-broker data change.
type task func()

// worker is the single goroutine that drives every aggregator task. Running
// all aggregation on one goroutine eliminates interleaving within the
// LoadView without per-field locking,
type worker struct {
	logger zerolog.Logger
	tasks chan task
	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorker() *worker {
	return &worker{
		logger: log.WithComponent("aggregator"),
		tasks: make(chan task, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// start begins draining submitted tasks. Safe to call once.
func (w *worker) start() {
	go w.run()
}

func (w *worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case t := <-w.tasks:
			w.safeRun(t)
		case <-w.stopCh:
			// Drain whatever is already queued before exiting so a stop
			// racing a just-submitted reaction doesn't silently drop it.
			for {
				select {
				case t := <-w.tasks:
					w.safeRun(t)
				default:
					return
				}
			}
		}
	}
}

func (w *worker) safeRun(t task) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("aggregator task panicked")
		}
	}()
	t()
}

// submit enqueues a task. Watcher callbacks call this and return
// immediately; they never mutate shared state on the delivery goroutine.
func (w *worker) submit(t task) {
	select {
	case w.tasks <- t:
	case <-w.stopCh:
	}
}

// stop cancels the scheduler. In-flight tasks finish; anything still queued
// at the moment of the call is drained once more before exit.
func (w *worker) stop() {
	close(w.stopCh)
	<-w.doneCh
}
