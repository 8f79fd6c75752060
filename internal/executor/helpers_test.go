package executor_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/executor"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

// funcBackend delegates Execute to fn.
type funcBackend struct {
	name string
	fn   func(ctx context.Context, description, outputDir string) (backend.Files, error)
}

func (f *funcBackend) Name() string { return f.name }

func (f *funcBackend) Execute(ctx context.Context, description, outputDir string) (backend.Files, error) {
	return f.fn(ctx, description, outputDir)
}

func (f *funcBackend) HealthCheck(_ context.Context) bool { return true }

// okBackend succeeds immediately with one file.
func okBackend() *funcBackend {
	return &funcBackend{name: "ok", fn: func(context.Context, string, string) (backend.Files, error) {
		return backend.Files{"main.go": "package main"}, nil
	}}
}

// failBackend always fails.
func failBackend() *funcBackend {
	return &funcBackend{name: "fail", fn: func(context.Context, string, string) (backend.Files, error) {
		return nil, fmt.Errorf("generation failed")
	}}
}

// sleepBackend sleeps for d, honouring cancellation, then succeeds.
func sleepBackend(d time.Duration) *funcBackend {
	return &funcBackend{name: "sleep", fn: func(ctx context.Context, _, _ string) (backend.Files, error) {
		select {
		case <-time.After(d):
			return backend.Files{"out.txt": "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

// staticSelector always returns b, or err when set.
type staticSelector struct {
	b   backend.Backend
	err error
}

func (s staticSelector) Select(model.Task, isolation.Context) (backend.Backend, error) {
	return s.b, s.err
}

// perTaskSelector routes by task ID, defaulting to def.
type perTaskSelector struct {
	byID map[string]backend.Backend
	def  backend.Backend
}

func (s perTaskSelector) Select(task model.Task, _ isolation.Context) (backend.Backend, error) {
	if b, ok := s.byID[task.ID]; ok {
		return b, nil
	}
	return s.def, nil
}

func makeTasks(n int) []model.Task {
	tasks := make([]model.Task, n)
	for i := range tasks {
		tasks[i] = model.Task{
			ID:          fmt.Sprintf("task-%d", i),
			Description: fmt.Sprintf("implement step %d", i),
		}
	}
	return tasks
}

// executorFactory builds a fresh executor around a selector.
type executorFactory struct {
	name string
	new  func(sel executor.Selector) (executor.Executor, error)
}

func bothExecutors() []executorFactory {
	return []executorFactory{
		{"sequential", func(sel executor.Selector) (executor.Executor, error) {
			return executor.NewSequential(sel, nil, nil)
		}},
		{"parallel", func(sel executor.Selector) (executor.Executor, error) {
			return executor.NewParallel(sel, nil, executor.Options{MaxWorkers: 4, Timeout: 5 * time.Second})
		}},
	}
}

// recorder collects callback invocations.
type recorder struct {
	mu        sync.Mutex
	started   []string
	completed []string
	errored   []string
	calls     atomic.Int32
}

func (r *recorder) callbacks() *executor.Callbacks {
	return &executor.Callbacks{
		OnTaskStart: func(task model.Task) {
			r.calls.Add(1)
			r.mu.Lock()
			r.started = append(r.started, task.ID)
			r.mu.Unlock()
		},
		OnTaskComplete: func(res model.TaskResult) {
			r.calls.Add(1)
			r.mu.Lock()
			r.completed = append(r.completed, res.Task.ID)
			r.mu.Unlock()
		},
		OnTaskError: func(task model.Task, _ model.TaskResult) {
			r.calls.Add(1)
			r.mu.Lock()
			r.errored = append(r.errored, task.ID)
			r.mu.Unlock()
		},
	}
}
