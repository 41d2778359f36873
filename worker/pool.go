// Package worker provides the bounded goroutine pool that caps how many
// watcher and workflow runs execute concurrently.
package worker

import (
	"sync"
)

// Pool manages a fixed number of goroutines draining a shared job queue.
//
// Design choices:
//   - size goroutines are started once and reused, avoiding a goroutine per
//     scheduled run.
//   - jobQueue is a buffered channel (capacity size*4): workers pick up the
//     next job immediately after finishing the current one.  The scheduler
//     submits with TrySubmit, so a full buffer defers a run to the next tick
//     instead of blocking the tick loop.
//   - Stop closes the channel and waits for every in-flight job to finish
//     before returning, so shutdown never abandons a half-written run.
type Pool struct {
	size     int
	jobQueue chan func()
	wg       sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a Pool with size goroutines ready to receive jobs.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:     size,
		jobQueue: make(chan func(), size*4),
	}
}

// Start launches the worker goroutines.  It must be called exactly once
// before any jobs are submitted.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobQueue {
				job()
			}
		}()
	}
}

// TrySubmit enqueues job unless the queue is full or the pool is stopping.
// It reports whether the job was accepted; a refused job is simply retried
// on a later scheduler tick.
func (p *Pool) TrySubmit(job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Stop refuses further submissions, lets queued jobs drain, and waits for
// all workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
}
