package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

// Worker and timeout bounds for the parallel executor.
const (
	MinWorkers     = 1
	MaxWorkers     = 32
	DefaultWorkers = 4
	DefaultTimeout = 3600 * time.Second
)

// Parallel runs tasks on a bounded worker pool. Each task gets its own
// isolation context derived at the base context's level, and a timeout after
// which its result is abandoned.
type Parallel struct {
	selector Selector
	fallback backend.Backend
	timeout  time.Duration
	logger   *slog.Logger
	pool     *Pool

	mu     sync.Mutex
	closed bool
}

// Compile-time interface satisfaction check.
var _ Executor = (*Parallel)(nil)

// NewParallel validates opts and creates a parallel executor. Invalid worker
// counts or timeouts fail with ErrConfiguration before any worker starts.
func NewParallel(sel Selector, fallback backend.Backend, opts Options) (*Parallel, error) {
	if opts.MaxWorkers < MinWorkers || opts.MaxWorkers > MaxWorkers {
		return nil, fmt.Errorf("%w: max workers must be between %d and %d, got %d",
			ErrConfiguration, MinWorkers, MaxWorkers, opts.MaxWorkers)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", ErrConfiguration, opts.Timeout)
	}
	if sel == nil && fallback == nil {
		return nil, fmt.Errorf("%w: parallel executor requires a router or a default backend", ErrConfiguration)
	}

	logger := discardLogger(opts.Logger)
	return &Parallel{
		selector: sel,
		fallback: fallback,
		timeout:  opts.Timeout,
		logger:   logger,
		pool:     NewPool(opts.MaxWorkers, logger),
	}, nil
}

// Mode implements Executor.
func (p *Parallel) Mode() Mode { return ModeParallel }

// Workers returns the pool size.
func (p *Parallel) Workers() int { return p.pool.Size() }

// Timeout returns the per-task timeout.
func (p *Parallel) Timeout() time.Duration { return p.timeout }

// ExecuteTasks implements Executor.
//
// All tasks are submitted before any result is awaited, so the caller only
// blocks while collecting. Results are collected by walking the input list,
// which keeps them in input order regardless of completion order. A task's
// timeout budget starts when the collector begins waiting for it or when it
// starts on a worker, whichever is later.
func (p *Parallel) ExecuteTasks(ctx context.Context, tasks []model.Task, ictx isolation.Context, cb *Callbacks) ([]model.TaskResult, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}
	if len(tasks) == 0 {
		return []model.TaskResult{}, nil
	}

	futures := make([]*future, len(tasks))
	for i, task := range tasks {
		cb.start(p.logger, task)

		f := newFuture(ctx, task)
		futures[i] = f
		if err := p.pool.Submit(func() { p.run(f, ictx, cb) }); err != nil {
			f.resolve(model.FailedResult(task, model.ExitFailure, fmt.Sprintf("submit task: %v", err), 0))
		}
	}
	p.logger.Info("batch submitted",
		"tasks", len(tasks),
		"workers", p.pool.Size(),
		"timeout", p.timeout.String(),
	)

	results := make([]model.TaskResult, len(tasks))
	for i, f := range futures {
		results[i] = p.await(ctx, f, cb)
		observe(ModeParallel, results[i])
	}

	return finish(results)
}

// await waits for one future, synthesizing a result on timeout or caller
// cancellation.
func (p *Parallel) await(ctx context.Context, f *future, cb *Callbacks) model.TaskResult {
	defer f.cancel()

	waitStart := time.Now()
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	started := f.started
	for {
		select {
		case <-f.done:
			return p.collect(f)

		case <-started:
			started = nil
			if f.startedAt.After(waitStart) {
				timer.Reset(p.timeout - time.Since(f.startedAt))
			}

		case <-timer.C:
			if !f.abandon() {
				<-f.done
				return p.collect(f)
			}
			res := model.FailedResult(f.task, model.ExitTimeout, timeoutMessage(f.task, p.timeout), p.elapsed(f, waitStart))
			p.logger.Warn("task timed out",
				"task_id", f.task.ID,
				"timeout", p.timeout.String(),
			)
			cb.failed(p.logger, res)
			return res

		case <-ctx.Done():
			if !f.abandon() {
				<-f.done
				return p.collect(f)
			}
			res := model.FailedResult(f.task, model.ExitCancelled, "abandoned: "+ctx.Err().Error(), p.elapsed(f, waitStart))
			cb.failed(p.logger, res)
			return res
		}
	}
}

// collect reads a settled future's result. A missing result is an internal
// error, reported as a generic failure rather than propagated.
func (p *Parallel) collect(f *future) model.TaskResult {
	if !f.hasResult {
		p.logger.Error("task finished without a result", "task_id", f.task.ID)
		return model.FailedResult(f.task, model.ExitFailure, "task finished without a result", 0)
	}
	return f.result
}

// elapsed reports how long an abandoned task ran, or waited if it never started.
func (p *Parallel) elapsed(f *future, waitStart time.Time) time.Duration {
	select {
	case <-f.started:
		return time.Since(f.startedAt)
	default:
		return time.Since(waitStart)
	}
}

// run is the worker body for one task.
func (p *Parallel) run(f *future, ictx isolation.Context, cb *Callbacks) {
	if !f.begin() {
		p.logger.Debug("skipping abandoned task", "task_id", f.task.ID)
		return
	}
	defer close(f.done)

	if err := f.ctx.Err(); err != nil {
		res := model.FailedResult(f.task, model.ExitCancelled, "not started: "+err.Error(), 0)
		if f.complete(res) {
			cb.failed(p.logger, res)
		}
		return
	}

	tasksInflight.Inc()
	res := cancelled(f.ctx, p.execute(f, ictx))
	tasksInflight.Dec()

	if !f.complete(res) {
		p.logger.Debug("discarding result of abandoned task",
			"task_id", f.task.ID,
			"exit_code", res.ExitCode,
		)
		return
	}
	logResult(p.logger, ModeParallel, res)
	cb.finished(p.logger, res)
}

// execute derives the task's isolation context and runs it, converting any
// panic into a failed result.
func (p *Parallel) execute(f *future, ictx isolation.Context) (res model.TaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "task_id", f.task.ID, "panic", r)
			res = model.FailedResult(f.task, model.ExitFailure, fmt.Sprintf("task panicked: %v", r), time.Since(start))
		}
	}()

	tctx, err := isolation.Derive(ictx, f.task.ID, ictx.Level)
	if err != nil {
		return model.FailedResult(f.task, model.ExitFailure, fmt.Sprintf("derive isolation context: %v", err), time.Since(start))
	}

	p.logger.Info("task started",
		"task_id", f.task.ID,
		"mode", ModeParallel,
		"working_directory", tctx.WorkingDirectory,
		"branch", tctx.BranchName,
	)
	return runTask(f.ctx, p.selector, p.fallback, f.task, tctx, p.logger)
}

// Shutdown implements Executor. It stops accepting batches and waits up to
// timeout for the pool to drain; later calls return nil immediately.
func (p *Parallel) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if !p.pool.Shutdown(timeout) {
		p.logger.Warn("parallel executor shutdown did not drain", "timeout", timeout.String())
		return nil
	}
	p.logger.Info("parallel executor shut down")
	return nil
}
