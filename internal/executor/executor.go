package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

// Mode names an execution strategy.
type Mode string

// Execution modes.
const (
	ModeSequential Mode = model.ModeSequential
	ModeParallel   Mode = model.ModeParallel
)

var (
	// ErrConfiguration is returned for invalid construction parameters.
	ErrConfiguration = model.ErrConfiguration

	// ErrShutdown is returned by ExecuteTasks after Shutdown has been called.
	ErrShutdown = errors.New("executor is shut down")
)

// Executor is the contract shared by every execution strategy.
type Executor interface {
	// ExecuteTasks runs every task and returns one result per task in input
	// order. A failed task is reported in its result, not as an error; the
	// error is non-nil only for usage errors (ErrShutdown) or when every task
	// failed (*AggregateError).
	ExecuteTasks(ctx context.Context, tasks []model.Task, ictx isolation.Context, cb *Callbacks) ([]model.TaskResult, error)

	// Mode reports the strategy.
	Mode() Mode

	// Shutdown releases pooled resources, waiting up to timeout for in-flight
	// work. It is idempotent.
	Shutdown(timeout time.Duration) error
}

// Selector chooses the backend for a task. *router.Router implements it.
type Selector interface {
	Select(task model.Task, ictx isolation.Context) (backend.Backend, error)
}

// AggregateError is returned when every task in a batch failed.
type AggregateError struct {
	Failed []model.TaskResult
}

func (e *AggregateError) Error() string {
	if len(e.Failed) == 0 {
		return "all tasks failed"
	}
	first := e.Failed[0]
	return fmt.Sprintf("all %d tasks failed; first: task %s: %s", len(e.Failed), first.Task.ID, first.Error)
}

// Options configures executors built with New.
type Options struct {
	// MaxWorkers bounds concurrent backend invocations in parallel mode.
	MaxWorkers int

	// Timeout bounds each task in parallel mode.
	Timeout time.Duration

	Logger *slog.Logger
}

// New builds the executor for mode.
func New(mode Mode, sel Selector, fallback backend.Backend, opts Options) (Executor, error) {
	switch mode {
	case ModeSequential:
		return NewSequential(sel, fallback, opts.Logger)
	case ModeParallel:
		return NewParallel(sel, fallback, opts)
	default:
		return nil, fmt.Errorf("%w: unknown execution mode %q", ErrConfiguration, mode)
	}
}

// finish applies the batch-level error rule to a complete result list.
func finish(results []model.TaskResult) ([]model.TaskResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	for _, r := range results {
		if r.Success() {
			return results, nil
		}
	}
	return nil, &AggregateError{Failed: results}
}

// runTask resolves a backend and runs one task in ictx. It never panics and
// never returns an error: every failure is folded into the result.
func runTask(ctx context.Context, sel Selector, fallback backend.Backend, task model.Task, ictx isolation.Context, logger *slog.Logger) (res model.TaskResult) {
	start := time.Now()

	b, err := resolveBackend(sel, fallback, task, ictx, logger)
	if err != nil {
		return model.FailedResult(task, model.ExitBackendMissing, fmt.Sprintf("select backend: %v", err), time.Since(start))
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("backend panicked", "task_id", task.ID, "backend", b.Name(), "panic", p)
			res = model.FailedResult(task, model.ExitFailure, fmt.Sprintf("backend %s panicked: %v", b.Name(), p), time.Since(start))
			res.Backend = b.Name()
		}
	}()

	files, err := b.Execute(ctx, backend.BuildPrompt(task), ictx.WorkingDirectory)
	elapsed := time.Since(start)
	if err != nil {
		res = model.FailedResult(task, model.ExitFailure, err.Error(), elapsed)
		res.Backend = b.Name()
		return res
	}
	if len(files) == 0 {
		res = model.FailedResult(task, model.ExitFailure, fmt.Sprintf("backend %s produced no files", b.Name()), elapsed)
		res.Backend = b.Name()
		return res
	}

	return model.TaskResult{
		Task:          task,
		ExitCode:      model.ExitSuccess,
		Stdout:        fmt.Sprintf("generated %d files: %v", len(files), files.Paths()),
		Duration:      elapsed,
		ArtifactsPath: ictx.WorkingDirectory,
		Backend:       b.Name(),
	}
}

// resolveBackend prefers the selector and uses the fallback backend when there
// is no selector or selection fails.
func resolveBackend(sel Selector, fallback backend.Backend, task model.Task, ictx isolation.Context, logger *slog.Logger) (backend.Backend, error) {
	if sel == nil {
		return fallback, nil
	}
	b, err := sel.Select(task, ictx)
	if err == nil && b != nil {
		return b, nil
	}
	if err == nil {
		err = errors.New("selector returned no backend")
	}
	if fallback == nil {
		return nil, err
	}
	logger.Warn("backend selection failed, using fallback backend",
		"task_id", task.ID,
		"fallback", fallback.Name(),
		"error", err,
	)
	return fallback, nil
}

// cancelled folds a failure caused by caller cancellation into ExitCancelled
// so it is not reported as a backend failure.
func cancelled(ctx context.Context, res model.TaskResult) model.TaskResult {
	err := ctx.Err()
	if err == nil || res.Success() || res.ExitCode == model.ExitCancelled {
		return res
	}
	out := model.FailedResult(res.Task, model.ExitCancelled, "cancelled: "+err.Error(), res.Duration)
	out.Backend = res.Backend
	return out
}

// timeoutMessage formats the error for a task that exceeded its budget.
func timeoutMessage(task model.Task, timeout time.Duration) string {
	return fmt.Sprintf("task %s timed out after %vs", task.ID, timeout.Seconds())
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
