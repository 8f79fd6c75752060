package executor

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool is a fixed-size set of worker goroutines fed by an unbounded FIFO
// queue. Submit never blocks; at most Size jobs run at once.
type Pool struct {
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg sync.WaitGroup
}

// NewPool starts size workers. size must be positive.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{size: size, logger: discardLogger(logger)}
	p.cond = sync.NewCond(&p.mu)
	for range size {
		p.wg.Go(p.work)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Submit queues fn for execution.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting jobs and waits up to timeout for queued and
// running jobs to finish. If the wait times out, jobs still queued are
// dropped; running jobs cannot be interrupted and finish in the background.
// It reports whether the pool drained completely.
func (p *Pool) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
	}

	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	p.logger.Warn("worker pool shutdown timed out",
		"timeout", timeout.String(),
		"dropped_jobs", dropped,
	)
	return false
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(fn)
	}
}

// run executes one job, keeping the worker alive if it panics.
func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", "panic", r)
		}
	}()
	fn()
}
