package sse

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// AsyncDispatcher serializes Handler callbacks onto a single dedicated
// worker goroutine, so callbacks are totally ordered and never overlap.
//
// Tasks are spooled onto an unbounded in-memory queue: Submit never blocks
// the stream worker on enqueueing itself, regardless of maxInFlight,
// matching the "never blocked by slow handlers" requirement for the
// unbounded (zero) default. Backpressure, when maxInFlight is positive, is
// a weighted semaphore (golang.org/x/sync/semaphore): Submit acquires one
// unit before queueing a task and the worker releases it after running the
// task, so Submit blocks once that many tasks are queued or running.
type AsyncDispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	running bool

	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	once sync.Once
}

// NewAsyncDispatcher starts the worker goroutine. maxInFlight <= 0 means
// unbounded.
func NewAsyncDispatcher(maxInFlight int) *AsyncDispatcher {
	d := &AsyncDispatcher{}
	d.cond = sync.NewCond(&d.mu)
	if maxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	d.mu.Lock()
	for {
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.running = true
		d.mu.Unlock()

		task()

		d.mu.Lock()
		d.running = false
	}
}

// Submit queues task for execution on the dispatcher's worker. It blocks
// the caller only when a positive maxInFlight's permits are exhausted;
// queueing itself is never bounded. It is a no-op once the dispatcher has
// been shut down.
func (d *AsyncDispatcher) Submit(task func()) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	if d.sem != nil {
		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
	}
	release := func() {
		if d.sem != nil {
			d.sem.Release(1)
		}
	}
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				logger().Error("sse: handler panicked", zap.Any("recovered", r))
			}
			release()
		}()
		task()
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		release()
		return
	}
	d.queue = append(d.queue, wrapped)
	d.mu.Unlock()
	d.cond.Signal()
}

// Drain blocks until every task queued (or already running) at the time of
// the call has finished, without stopping the dispatcher — unlike Wait, a
// caller may keep submitting afterward. It is used wherever a handler
// callback must run directly on the caller's own goroutine instead of
// through Submit (so it can block on a live read, or so it strictly
// precedes the next callback): draining first guarantees that call never
// overlaps with, or races ahead of, a still-running queued one. A no-op if
// the dispatcher has already stopped and drained on its own.
func (d *AsyncDispatcher) Drain() {
	d.mu.Lock()
	if d.stopped && len(d.queue) == 0 && !d.running {
		d.mu.Unlock()
		return
	}
	done := make(chan struct{})
	d.queue = append(d.queue, func() { close(done) })
	d.mu.Unlock()
	d.cond.Signal()
	<-done
}

// Stop signals the worker to accept no further tasks. It does not wait for
// the worker goroutine to exit or for any queued task to finish; callers
// that need that guarantee use Wait. Idempotent.
func (d *AsyncDispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		d.cond.Broadcast()
	})
}

// Wait blocks until the worker goroutine has exited (which happens once
// Stop has been called and every task already queued has run) or ctx ends
// first, reporting which happened.
func (d *AsyncDispatcher) Wait(ctx context.Context) bool {
	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return true
	case <-ctx.Done():
		return false
	}
}
