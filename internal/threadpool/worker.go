package threadpool

import (
	"github.com/antonlok/aggregator-threadpool/internal/metrics"
)

// worker is one slot of the pool. busy and task are guarded by the pool's
// workersMu; wake is a binary signal telling the goroutine a task is ready.
type worker struct {
	id   int
	wake chan struct{}
	task Task
	busy bool
}

func newWorker(id int) *worker {
	return &worker{
		id:   id,
		wake: make(chan struct{}, 1),
	}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// assign hands task to a slot already marked busy and wakes it.
func (w *worker) assign(p *Pool, task Task) {
	p.workersMu.Lock()
	w.task = task
	p.workersMu.Unlock()
	w.signal()
}

func (p *Pool) runWorker(w *worker) {
	defer p.workerWG.Done()
	for {
		<-w.wake
		if p.shuttingDown.Load() {
			return
		}

		p.workersMu.Lock()
		task := w.task
		w.task = nil
		p.workersMu.Unlock()

		p.execute(task)
		p.finishTask()

		p.workersMu.Lock()
		w.busy = false
		p.workersMu.Unlock()
		p.free.Release(1)
	}
}

// execute runs task to completion. A panic is reported to the panic handler
// and swallowed so the slot and the pending counter stay consistent.
func (p *Pool) execute(task Task) {
	metrics.IncPoolBusy(p.name)
	defer metrics.DecPoolBusy(p.name)
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.ObservePoolPanic(p.name)
			p.panicHandler(recovered)
		}
	}()
	task()
}
