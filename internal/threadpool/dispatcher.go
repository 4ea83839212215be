package threadpool

import (
	"go.uber.org/zap"

	"github.com/antonlok/aggregator-threadpool/internal/metrics"
)

// dispatch matches queued tasks to free workers until the pool shuts down.
func (p *Pool) dispatch() {
	defer close(p.dispatcherDone)
	for {
		if !p.awaitTask() {
			return
		}
		if err := p.free.Acquire(p.stopCtx, 1); err != nil {
			return
		}
		if p.shuttingDown.Load() {
			p.free.Release(1)
			return
		}
		w := p.claimWorker()
		w.assign(p, p.popTask())
	}
}

// awaitTask blocks until the queue holds a task. It reports false once the
// pool is shutting down.
func (p *Pool) awaitTask() bool {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	for len(p.queue) == 0 && !p.shuttingDown.Load() {
		p.queueCond.Wait()
	}
	return !p.shuttingDown.Load()
}

// popTask removes the head of the queue. Only the dispatcher pops, so the
// task seen by awaitTask is still at the head.
func (p *Pool) popTask() Task {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	return task
}

// claimWorker marks the lowest-numbered free slot busy and returns it,
// spawning the slot's goroutine when the scan reaches the high-water mark.
// The caller holds one unit of free capacity, so a slot is always found.
func (p *Pool) claimWorker() *worker {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	for id := 0; id < p.capacity; id++ {
		if int32(id) == p.spawned.Load() {
			p.spawn(id)
		}
		if w := p.workers[id]; !w.busy {
			w.busy = true
			return w
		}
	}
	panic("threadpool: free capacity acquired but every slot is busy")
}

// spawn starts the goroutine for slot id. Caller holds workersMu.
func (p *Pool) spawn(id int) {
	w := newWorker(id)
	p.workers[id] = w
	spawned := p.spawned.Add(1)
	p.workerWG.Add(1)
	go p.runWorker(w)

	metrics.SetPoolSpawned(p.name, int(spawned))
	p.logger.Debug("worker spawned",
		zap.String("pool", p.name),
		zap.Int("worker", id),
	)
}
