// Package threadpool implements a bounded pool of worker goroutines fed by a
// single dispatcher goroutine.
//
// Tasks are admitted in FIFO order. Worker goroutines are spawned lazily, the
// first time the dispatcher needs a slot it has never used, so a short
// workload never pays for capacity it does not touch. Wait blocks until every
// scheduled task has finished, including tasks scheduled while Wait is
// blocked. Close drains the pool before stopping its goroutines and never
// interrupts a running task.
//
// A task may block on Wait of a different pool; the pools own disjoint
// goroutine sets, so this is composition and cannot deadlock on its own. A
// task must never call Wait or Close on the pool it is running on.
package threadpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/antonlok/aggregator-threadpool/internal/metrics"
)

var (
	// ErrInvalidCapacity is returned by New when capacity is below one.
	ErrInvalidCapacity = errors.New("threadpool: capacity must be at least 1")
	// ErrPoolClosed is returned by Schedule once Close has started.
	ErrPoolClosed = errors.New("threadpool: pool is closed")
	// ErrNilTask is returned by Schedule for a nil task.
	ErrNilTask = errors.New("threadpool: nil task")
)

// Task is a zero-argument unit of work. Tasks handle their own errors.
type Task func()

// Option customizes a Pool.
type Option func(*Pool)

// WithName labels the pool in logs and metrics.
func WithName(name string) Option {
	return func(p *Pool) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets the logger used for worker diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPanicHandler replaces the default handler invoked when a task panics.
// The pool keeps running after the handler returns.
func WithPanicHandler(handler func(any)) Option {
	return func(p *Pool) {
		p.panicHandler = handler
	}
}

// Pool runs scheduled tasks on at most Capacity worker goroutines.
type Pool struct {
	name         string
	capacity     int
	logger       *zap.Logger
	panicHandler func(any)

	// queueMu guards queue; queueCond signals "new task" to the dispatcher.
	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []Task

	// pendingMu guards pending and closed; drained fires when pending hits zero.
	pendingMu sync.Mutex
	drained   *sync.Cond
	pending   int
	closed    bool

	// workersMu guards every slot's busy flag and task.
	workersMu sync.Mutex
	workers   []*worker
	spawned   atomic.Int32

	free         *semaphore.Weighted
	stopCtx      context.Context
	stop         context.CancelFunc
	shuttingDown atomic.Bool

	workerWG       sync.WaitGroup
	dispatcherDone chan struct{}
	closeOnce      sync.Once
}

// New creates a pool with the given capacity and starts its dispatcher.
// No worker goroutine exists until the first task is dispatched.
func New(capacity int, opts ...Option) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	stopCtx, stop := context.WithCancel(context.Background())
	p := &Pool{
		name:           "default",
		capacity:       capacity,
		logger:         zap.NewNop(),
		workers:        make([]*worker, capacity),
		free:           semaphore.NewWeighted(int64(capacity)),
		stopCtx:        stopCtx,
		stop:           stop,
		dispatcherDone: make(chan struct{}),
	}
	p.queueCond = sync.NewCond(&p.queueMu)
	p.drained = sync.NewCond(&p.pendingMu)
	for _, opt := range opts {
		opt(p)
	}
	if p.panicHandler == nil {
		p.panicHandler = p.logPanic
	}
	metrics.Init()

	go p.dispatch()
	return p, nil
}

// Name returns the pool's label.
func (p *Pool) Name() string {
	return p.name
}

// Capacity returns the maximum number of worker goroutines.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Spawned returns how many worker goroutines have been created so far.
func (p *Pool) Spawned() int {
	return int(p.spawned.Load())
}

// Pending returns the number of scheduled tasks that have not finished.
func (p *Pool) Pending() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return p.pending
}

// Schedule queues task for execution. It never waits for a free worker.
func (p *Pool) Schedule(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	// Count the task before it becomes visible to the dispatcher so the
	// counter can never dip below zero.
	p.pendingMu.Lock()
	if p.closed {
		p.pendingMu.Unlock()
		return ErrPoolClosed
	}
	p.pending++
	pending := p.pending
	p.pendingMu.Unlock()
	metrics.SetPoolPending(p.name, pending)

	p.queueMu.Lock()
	p.queue = append(p.queue, task)
	p.queueMu.Unlock()
	p.queueCond.Signal()
	return nil
}

// Wait blocks until every scheduled task has finished executing.
func (p *Pool) Wait() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for p.pending > 0 {
		p.drained.Wait()
	}
}

// Close waits for the pool to drain, then stops every spawned worker and the
// dispatcher. Schedule fails with ErrPoolClosed afterwards. Close is
// idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.pendingMu.Lock()
		for p.pending > 0 {
			p.drained.Wait()
		}
		p.closed = true
		p.pendingMu.Unlock()

		p.shuttingDown.Store(true)

		p.workersMu.Lock()
		spawned := append([]*worker(nil), p.workers[:p.spawned.Load()]...)
		p.workersMu.Unlock()
		for _, w := range spawned {
			w.signal()
		}
		p.workerWG.Wait()

		p.queueMu.Lock()
		p.queueCond.Broadcast()
		p.queueMu.Unlock()
		p.stop()
		<-p.dispatcherDone

		p.logger.Debug("pool closed",
			zap.String("pool", p.name),
			zap.Int("spawned", len(spawned)),
		)
	})
}

func (p *Pool) finishTask() {
	p.pendingMu.Lock()
	p.pending--
	pending := p.pending
	if pending == 0 {
		p.drained.Broadcast()
	}
	p.pendingMu.Unlock()
	metrics.SetPoolPending(p.name, pending)
	metrics.ObservePoolTask(p.name)
}

func (p *Pool) logPanic(recovered any) {
	p.logger.Error("task panicked",
		zap.String("pool", p.name),
		zap.Any("panic", recovered),
		zap.Stack("stack"),
	)
}
