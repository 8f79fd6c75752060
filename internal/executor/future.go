package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/seantiz/foundry/internal/model"
)

// future states.
const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateAbandoned
)

// future tracks one submitted task. The worker and the collector race to
// move it out of pending/running; whichever wins owns the TaskResult, so a
// result is produced exactly once.
type future struct {
	task   model.Task
	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	started chan struct{}
	done    chan struct{}

	// startedAt is written before started is closed.
	startedAt time.Time

	// result and hasResult are written before done is closed.
	result    model.TaskResult
	hasResult bool
}

func newFuture(ctx context.Context, task model.Task) *future {
	tctx, cancel := context.WithCancel(ctx)
	return &future{
		task:    task,
		ctx:     tctx,
		cancel:  cancel,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// begin moves the future to running. It returns false if the collector has
// already abandoned it, in which case the task must not run.
func (f *future) begin() bool {
	if !f.state.CompareAndSwap(statePending, stateRunning) {
		return false
	}
	f.startedAt = time.Now()
	close(f.started)
	return true
}

// complete records the worker's result. It returns false if the collector
// abandoned the task while it ran; the result is then discarded.
func (f *future) complete(res model.TaskResult) bool {
	f.result = res
	f.hasResult = true
	return f.state.CompareAndSwap(stateRunning, stateDone)
}

// resolve settles a future that never reached a worker.
func (f *future) resolve(res model.TaskResult) {
	f.result = res
	f.hasResult = true
	f.state.Store(stateDone)
	close(f.done)
}

// abandon gives up on the task and signals cooperative cancellation. It
// returns false if the worker already completed it.
func (f *future) abandon() bool {
	if f.state.CompareAndSwap(statePending, stateAbandoned) || f.state.CompareAndSwap(stateRunning, stateAbandoned) {
		f.cancel()
		return true
	}
	return false
}
