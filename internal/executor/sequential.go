package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

// Sequential runs tasks one at a time on the caller's goroutine. It does not
// derive per-task isolation contexts; every task runs in the context the
// caller passes.
type Sequential struct {
	selector Selector
	fallback backend.Backend
	logger   *slog.Logger
	closed   atomic.Bool
}

// Compile-time interface satisfaction check.
var _ Executor = (*Sequential)(nil)

// NewSequential creates a sequential executor. At least one of sel and
// fallback is required; when both are given sel is used and fallback covers
// selection failures.
func NewSequential(sel Selector, fallback backend.Backend, logger *slog.Logger) (*Sequential, error) {
	if sel == nil && fallback == nil {
		return nil, fmt.Errorf("%w: sequential executor requires a router or a default backend", ErrConfiguration)
	}
	return &Sequential{
		selector: sel,
		fallback: fallback,
		logger:   discardLogger(logger),
	}, nil
}

// Mode implements Executor.
func (s *Sequential) Mode() Mode { return ModeSequential }

// ExecuteTasks implements Executor. Once ctx is cancelled the remaining tasks
// are not started and are reported with model.ExitCancelled.
func (s *Sequential) ExecuteTasks(ctx context.Context, tasks []model.Task, ictx isolation.Context, cb *Callbacks) ([]model.TaskResult, error) {
	if s.closed.Load() {
		return nil, ErrShutdown
	}

	results := make([]model.TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			res := model.FailedResult(task, model.ExitCancelled, "not started: "+err.Error(), 0)
			observe(ModeSequential, res)
			cb.failed(s.logger, res)
			results = append(results, res)
			continue
		}

		cb.start(s.logger, task)
		s.logger.Info("task started", "task_id", task.ID, "mode", ModeSequential)

		tasksInflight.Inc()
		res := cancelled(ctx, runTask(ctx, s.selector, s.fallback, task, ictx, s.logger))
		tasksInflight.Dec()

		observe(ModeSequential, res)
		logResult(s.logger, ModeSequential, res)
		cb.finished(s.logger, res)
		results = append(results, res)
	}

	return finish(results)
}

// Shutdown implements Executor. There is nothing to release; later
// ExecuteTasks calls fail with ErrShutdown.
func (s *Sequential) Shutdown(_ time.Duration) error {
	s.closed.Store(true)
	return nil
}

func logResult(logger *slog.Logger, mode Mode, res model.TaskResult) {
	if res.Success() {
		logger.Info("task completed",
			"task_id", res.Task.ID,
			"mode", mode,
			"backend", res.Backend,
			"duration_ms", res.Duration.Milliseconds(),
		)
		return
	}
	logger.Warn("task failed",
		"task_id", res.Task.ID,
		"mode", mode,
		"backend", res.Backend,
		"exit_code", res.ExitCode,
		"error", res.Error,
		"duration_ms", res.Duration.Milliseconds(),
	)
}
