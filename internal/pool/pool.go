// Package pool provides a small bounded worker pool for running compute
// write-backs off the caller's goroutine.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task is a unit of background work.
type Task func()

// Pool runs tasks on a fixed set of workers with a bounded queue.
type Pool struct {
	tasks  chan Task
	wg     sync.WaitGroup
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// New starts a pool with the given worker count and queue size.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	p := &Pool{tasks: make(chan Task, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
		p.completed.Add(1)
	}
}

// Submit enqueues a task without blocking. It fails if the pool is closed or
// the queue is full; the caller decides whether that matters.
func (p *Pool) Submit(task Task) error {
	if p.closed.Load() {
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// Shutdown stops accepting work and waits for queued tasks to drain, or for
// the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns submitted/completed/rejected counts.
func (p *Pool) Stats() (submitted, completed, rejected int64) {
	return p.submitted.Load(), p.completed.Load(), p.rejected.Load()
}
