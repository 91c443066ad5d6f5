package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned by Do after the pool has shut down.
var ErrPoolStopped = errors.New("ingest: worker pool stopped")

type job struct {
	fn     func() error
	result chan error
}

// pool is a fixed-size worker pool for CPU-bound batch work
// (tokenize/parse/segment), so that heavy batches never stall message
// receipt on other connections. Do submits and waits, which lets a
// batch failure propagate back to the buffer's re-queue path.
type pool struct {
	jobs chan job
	wg   sync.WaitGroup

	// submitMu is held shared by submitters and exclusively by Stop, so
	// the jobs channel is never closed while a submit is in flight.
	submitMu sync.RWMutex
	stopped  bool
}

func newPool(workers, queueDepth int) *pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = workers * 2
	}

	p := &pool{jobs: make(chan job, queueDepth)}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.result <- j.fn()
	}
}

// Do runs fn on a pool worker and waits for its result.
func (p *pool) Do(ctx context.Context, fn func() error) error {
	p.submitMu.RLock()
	if p.stopped {
		p.submitMu.RUnlock()
		return ErrPoolStopped
	}
	j := job{fn: fn, result: make(chan error, 1)}
	p.jobs <- j
	p.submitMu.RUnlock()

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The job still runs; the submitter stops waiting.
		return ctx.Err()
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *pool) Stop() {
	p.submitMu.Lock()
	if p.stopped {
		p.submitMu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.submitMu.Unlock()

	p.wg.Wait()
}
