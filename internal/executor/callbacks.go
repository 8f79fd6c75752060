package executor

import (
	"log/slog"

	"github.com/seantiz/foundry/internal/model"
)

// Callbacks receive progress notifications. Every field is optional. A
// panicking callback is recovered and logged; it never affects other tasks.
type Callbacks struct {
	// OnTaskStart fires before a task is handed to a backend.
	OnTaskStart func(task model.Task)

	// OnTaskComplete fires when a backend call returns, successful or not.
	OnTaskComplete func(result model.TaskResult)

	// OnTaskError fires for every failed task, including timeouts.
	OnTaskError func(task model.Task, result model.TaskResult)
}

func (c *Callbacks) start(logger *slog.Logger, task model.Task) {
	if c == nil || c.OnTaskStart == nil {
		return
	}
	guard(logger, "on_task_start", task.ID, func() { c.OnTaskStart(task) })
}

// finished fires OnTaskComplete and, for failures, OnTaskError.
func (c *Callbacks) finished(logger *slog.Logger, res model.TaskResult) {
	if c == nil {
		return
	}
	if c.OnTaskComplete != nil {
		guard(logger, "on_task_complete", res.Task.ID, func() { c.OnTaskComplete(res) })
	}
	if !res.Success() {
		c.failed(logger, res)
	}
}

// failed fires OnTaskError only; used for results synthesized without a
// completed backend call.
func (c *Callbacks) failed(logger *slog.Logger, res model.TaskResult) {
	if c == nil || c.OnTaskError == nil {
		return
	}
	guard(logger, "on_task_error", res.Task.ID, func() { c.OnTaskError(res.Task, res) })
}

func guard(logger *slog.Logger, name, taskID string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("progress callback panicked",
				"callback", name,
				"task_id", taskID,
				"panic", p,
			)
		}
	}()
	fn()
}
