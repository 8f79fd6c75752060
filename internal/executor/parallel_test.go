package executor_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/executor"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

func TestNewParallelValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    executor.Options
		wantErr bool
	}{
		{"zero workers", executor.Options{MaxWorkers: 0, Timeout: time.Second}, true},
		{"too many workers", executor.Options{MaxWorkers: 33, Timeout: time.Second}, true},
		{"negative workers", executor.Options{MaxWorkers: -1, Timeout: time.Second}, true},
		{"zero timeout", executor.Options{MaxWorkers: 4, Timeout: 0}, true},
		{"negative timeout", executor.Options{MaxWorkers: 4, Timeout: -time.Second}, true},
		{"min workers", executor.Options{MaxWorkers: 1, Timeout: time.Second}, false},
		{"max workers", executor.Options{MaxWorkers: 32, Timeout: time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := executor.NewParallel(staticSelector{b: okBackend()}, nil, tt.opts)
			if tt.wantErr {
				if !errors.Is(err, executor.ErrConfiguration) {
					t.Errorf("NewParallel error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewParallel: %v", err)
			}
			defer p.Shutdown(time.Second)
			if p.Workers() != tt.opts.MaxWorkers {
				t.Errorf("Workers() = %d, want %d", p.Workers(), tt.opts.MaxWorkers)
			}
			if p.Timeout() != tt.opts.Timeout {
				t.Errorf("Timeout() = %v, want %v", p.Timeout(), tt.opts.Timeout)
			}
		})
	}
}

func TestNewParallelRequiresBackendSource(t *testing.T) {
	_, err := executor.NewParallel(nil, nil, executor.Options{MaxWorkers: 2, Timeout: time.Second})
	if !errors.Is(err, executor.ErrConfiguration) {
		t.Errorf("NewParallel error = %v, want ErrConfiguration", err)
	}
}

func TestParallelRunsConcurrently(t *testing.T) {
	const (
		n     = 8
		delay = 200 * time.Millisecond
	)
	p, err := executor.NewParallel(staticSelector{b: sleepBackend(delay)}, nil,
		executor.Options{MaxWorkers: n, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	start := time.Now()
	results, err := p.ExecuteTasks(context.Background(), makeTasks(n), isolation.Context{}, nil)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	elapsed := time.Since(start)

	if len(results) != n {
		t.Fatalf("len(results) = %d, want %d", len(results), n)
	}
	if elapsed >= n*delay/2 {
		t.Errorf("elapsed = %v, want well under sequential time %v", elapsed, n*delay)
	}
}

func TestParallelBoundsConcurrency(t *testing.T) {
	const workers = 2
	var running, peak atomic.Int32
	b := &funcBackend{name: "bounded", fn: func(context.Context, string, string) (backend.Files, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return backend.Files{"a": ""}, nil
	}}

	p, err := executor.NewParallel(staticSelector{b: b}, nil,
		executor.Options{MaxWorkers: workers, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	if _, err := p.ExecuteTasks(context.Background(), makeTasks(8), isolation.Context{}, nil); err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d, want <= %d", got, workers)
	}
}

func TestParallelTimeout(t *testing.T) {
	tasks := makeTasks(3)
	slow := sleepBackend(5 * time.Second)
	sel := perTaskSelector{
		byID: map[string]backend.Backend{tasks[1].ID: slow},
		def:  okBackend(),
	}
	p, err := executor.NewParallel(sel, nil, executor.Options{MaxWorkers: 3, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	rec := &recorder{}
	start := time.Now()
	results, err := p.ExecuteTasks(context.Background(), tasks, isolation.Context{}, rec.callbacks())
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("elapsed = %v, timed-out task was waited on", elapsed)
	}

	got := results[1]
	if got.ExitCode != model.ExitTimeout {
		t.Errorf("ExitCode = %d, want %d", got.ExitCode, model.ExitTimeout)
	}
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("Error = %q, want it to mention timing out", got.Error)
	}
	if got.Task.ID != tasks[1].ID {
		t.Errorf("Task.ID = %q, want %q", got.Task.ID, tasks[1].ID)
	}
	if !results[0].Success() || !results[2].Success() {
		t.Error("tasks within budget should succeed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errored) != 1 || rec.errored[0] != tasks[1].ID {
		t.Errorf("errored = %v, want [%s]", rec.errored, tasks[1].ID)
	}
}

func TestParallelTimeoutCancelsBackend(t *testing.T) {
	cancelled := make(chan struct{})
	b := &funcBackend{name: "watcher", fn: func(ctx context.Context, _, _ string) (backend.Files, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}}
	p, err := executor.NewParallel(staticSelector{b: b}, nil, executor.Options{MaxWorkers: 1, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	_, err = p.ExecuteTasks(context.Background(), makeTasks(1), isolation.Context{}, nil)
	var agg *executor.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("error = %v, want *AggregateError", err)
	}
	if agg.Failed[0].ExitCode != model.ExitTimeout {
		t.Errorf("ExitCode = %d, want %d", agg.Failed[0].ExitCode, model.ExitTimeout)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("backend context was not cancelled after timeout")
	}
}

func TestParallelCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := executor.NewParallel(staticSelector{b: sleepBackend(5 * time.Second)}, nil,
		executor.Options{MaxWorkers: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = p.ExecuteTasks(ctx, makeTasks(3), isolation.Context{}, nil)
	var agg *executor.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("error = %v, want *AggregateError", err)
	}
	for _, res := range agg.Failed {
		if res.ExitCode != model.ExitCancelled {
			t.Errorf("%s ExitCode = %d, want %d", res.Task.ID, res.ExitCode, model.ExitCancelled)
		}
	}
}

func TestParallelCancelledQueuedTasksNeverStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	b := &funcBackend{name: "block", fn: func(ctx context.Context, _, _ string) (backend.Files, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p, err := executor.NewParallel(staticSelector{b: b}, nil, executor.Options{MaxWorkers: 1, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	var completed, failed atomic.Int32
	cb := &executor.Callbacks{
		OnTaskComplete: func(model.TaskResult) { completed.Add(1) },
		OnTaskError:    func(model.Task, model.TaskResult) { failed.Add(1) },
	}

	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = p.ExecuteTasks(ctx, makeTasks(4), isolation.Context{}, cb)
	var agg *executor.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("error = %v, want *AggregateError", err)
	}
	for _, res := range agg.Failed {
		if res.ExitCode != model.ExitCancelled {
			t.Errorf("%s ExitCode = %d, want %d (%s)", res.Task.ID, res.ExitCode, model.ExitCancelled, res.Error)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend ran %d times, want 1", got)
	}
	if got := failed.Load(); got != 4 {
		t.Errorf("OnTaskError fired %d times, want 4", got)
	}
	if got := completed.Load(); got > 1 {
		t.Errorf("OnTaskComplete fired %d times, want at most 1", got)
	}
}

func TestParallelShutdownIdempotent(t *testing.T) {
	p, err := executor.NewParallel(staticSelector{b: okBackend()}, nil, executor.Options{MaxWorkers: 2, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	if _, err := p.ExecuteTasks(context.Background(), makeTasks(4), isolation.Context{}, nil); err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	for i := range 3 {
		if err := p.Shutdown(time.Second); err != nil {
			t.Errorf("Shutdown #%d: %v", i+1, err)
		}
	}
}

func TestParallelReusableAcrossBatches(t *testing.T) {
	p, err := executor.NewParallel(staticSelector{b: okBackend()}, nil, executor.Options{MaxWorkers: 2, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	for batch := range 3 {
		results, err := p.ExecuteTasks(context.Background(), makeTasks(5), isolation.Context{}, nil)
		if err != nil {
			t.Fatalf("batch %d: %v", batch, err)
		}
		if len(results) != 5 {
			t.Fatalf("batch %d: len(results) = %d, want 5", batch, len(results))
		}
	}
}

func TestParallelInvalidTaskID(t *testing.T) {
	base := isolation.Context{WorkingDirectory: t.TempDir(), Level: isolation.LevelDirectory}
	p, err := executor.NewParallel(staticSelector{b: okBackend()}, nil, executor.Options{MaxWorkers: 2, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	defer p.Shutdown(time.Second)

	tasks := []model.Task{{ID: "good", Description: "x"}, {ID: "../escape", Description: "y"}}
	results, err := p.ExecuteTasks(context.Background(), tasks, base, nil)
	if err != nil {
		t.Fatalf("ExecuteTasks: %v", err)
	}
	if !results[0].Success() {
		t.Errorf("results[0] failed: %s", results[0].Error)
	}
	if results[1].Success() || !strings.Contains(results[1].Error, "derive isolation context") {
		t.Errorf("results[1] = %+v, want derive failure", results[1])
	}
}
