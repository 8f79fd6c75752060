package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/executor"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
	"github.com/seantiz/foundry/internal/store"
)

var (
	// ErrInvalidRequest is returned by Submit for malformed batch requests.
	ErrInvalidRequest = errors.New("invalid batch request")

	// ErrShutdown is returned by Submit after Shutdown has been called.
	ErrShutdown = errors.New("dispatcher is shut down")
)

// Config configures a Dispatcher.
type Config struct {
	// Workspace is the root directory; each batch runs in Workspace/<batch id>.
	Workspace string

	// BaseBranch is the branch name task branches are derived from.
	BaseBranch string

	// Level is the isolation level used when a request does not set one.
	Level isolation.Level

	// MaxWorkers and Timeout configure the parallel executor.
	MaxWorkers int
	Timeout    time.Duration
}

// BatchRequest describes a batch to run.
type BatchRequest struct {
	ProjectID string       `json:"project_id"`
	Mode      string       `json:"mode"`
	Isolation string       `json:"isolation_level,omitempty"`
	Tasks     []model.Task `json:"tasks"`
}

// Dispatcher runs batches asynchronously.
type Dispatcher struct {
	store      store.Store
	broker     *EventBroker
	executors  map[executor.Mode]executor.Executor
	workspace  string
	baseBranch string
	level      isolation.Level
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]struct{}
}

// NewDispatcher builds both executors up front so that invalid worker or
// timeout settings fail here with executor.ErrConfiguration.
func NewDispatcher(s store.Store, sel executor.Selector, fallback backend.Backend, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("%w: dispatcher workspace is required", executor.ErrConfiguration)
	}
	if _, err := isolation.ParseLevel(string(cfg.Level)); err != nil {
		return nil, fmt.Errorf("%w: %v", executor.ErrConfiguration, err)
	}

	seq, err := executor.NewSequential(sel, fallback, logger)
	if err != nil {
		return nil, err
	}
	par, err := executor.NewParallel(sel, fallback, executor.Options{
		MaxWorkers: cfg.MaxWorkers,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:  s,
		broker: NewEventBroker(),
		executors: map[executor.Mode]executor.Executor{
			executor.ModeSequential: seq,
			executor.ModeParallel:   par,
		},
		workspace:  cfg.Workspace,
		baseBranch: cfg.BaseBranch,
		level:      cfg.Level,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		running:    make(map[string]struct{}),
	}, nil
}

// Broker returns the dispatcher's event broker for SSE subscription.
func (d *Dispatcher) Broker() *EventBroker {
	return d.broker
}

// Submit validates req, stores the batch with status "pending" and launches
// asynchronous execution. The returned batch is a snapshot at submission.
func (d *Dispatcher) Submit(ctx context.Context, req BatchRequest) (*model.Batch, error) {
	mode, level, err := d.validate(req)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrShutdown
	}

	b := &model.Batch{
		ID:        model.NewID(),
		ProjectID: req.ProjectID,
		Mode:      string(mode),
		Status:    model.BatchPending,
		TaskCount: len(req.Tasks),
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	tasks := append([]model.Task(nil), req.Tasks...)
	ictx := isolation.Context{
		ProjectID:        req.ProjectID,
		WorkingDirectory: filepath.Join(d.workspace, b.ID),
		BranchName:       d.baseBranch,
		StateDirectory:   filepath.Join(d.workspace, b.ID, ".state"),
		Level:            level,
	}
	id := b.ID
	d.running[id] = struct{}{}
	d.wg.Go(func() {
		defer d.untrack(id)
		d.run(id, d.executors[mode], tasks, ictx)
	})

	d.logger.Info("batch submitted",
		"batch_id", b.ID,
		"project_id", b.ProjectID,
		"mode", b.Mode,
		"tasks", b.TaskCount,
	)
	snapshot := *b
	return &snapshot, nil
}

func (d *Dispatcher) validate(req BatchRequest) (executor.Mode, isolation.Level, error) {
	mode := executor.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if mode == "" {
		mode = executor.ModeSequential
	}
	if _, ok := d.executors[mode]; !ok {
		return "", "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	level := d.level
	if req.Isolation != "" {
		l, err := isolation.ParseLevel(req.Isolation)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		level = l
	}

	if len(req.Tasks) == 0 {
		return "", "", fmt.Errorf("%w: at least one task is required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Tasks))
	branches := make(map[string]string, len(req.Tasks))
	for i, task := range req.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			return "", "", fmt.Errorf("%w: task %d has no id", ErrInvalidRequest, i)
		}
		if seen[task.ID] {
			return "", "", fmt.Errorf("%w: duplicate task id %q", ErrInvalidRequest, task.ID)
		}
		seen[task.ID] = true
		if other, ok := branches[isolation.Sanitize(task.ID)]; ok {
			return "", "", fmt.Errorf("%w: task ids %q and %q map to the same branch", ErrInvalidRequest, other, task.ID)
		}
		branches[isolation.Sanitize(task.ID)] = task.ID
		if strings.TrimSpace(task.Description) == "" {
			return "", "", fmt.Errorf("%w: task %q has no description", ErrInvalidRequest, task.ID)
		}
	}
	return mode, level, nil
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	delete(d.running, id)
	d.mu.Unlock()
}

// Running returns the IDs of batches that have not finished.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until all in-flight batches complete.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// run executes one batch: pending→running→completed/failed.
func (d *Dispatcher) run(batchID string, ex executor.Executor, tasks []model.Task, ictx isolation.Context) {
	// Close the event stream when the batch finishes, regardless of outcome.
	defer d.broker.Close(batchID)

	if err := d.store.UpdateBatchStatus(context.Background(), batchID, model.BatchRunning); err != nil {
		d.logger.Error("failed to transition to running", "batch_id", batchID, "error", err)
		d.finish(batchID, model.BatchFailed, len(tasks), fmt.Sprintf("failed to start: %v", err))
		return
	}

	if err := os.MkdirAll(ictx.WorkingDirectory, 0o755); err != nil {
		d.finish(batchID, model.BatchFailed, len(tasks), fmt.Sprintf("create workspace: %v", err))
		return
	}

	start := time.Now()
	results, err := ex.ExecuteTasks(d.ctx, tasks, ictx, d.callbacks(batchID, tasks))

	var agg *executor.AggregateError
	switch {
	case errors.As(err, &agg):
		d.record(batchID, agg.Failed)
		d.finish(batchID, model.BatchFailed, len(agg.Failed), agg.Error())
	case err != nil:
		d.finish(batchID, model.BatchFailed, len(tasks), err.Error())
	default:
		d.record(batchID, results)
		failed := 0
		for _, res := range results {
			if !res.Success() {
				failed++
			}
		}
		d.finish(batchID, model.BatchCompleted, failed, "")
	}

	d.logger.Info("batch finished",
		"batch_id", batchID,
		"mode", ex.Mode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// callbacks translates executor progress into broker events.
func (d *Dispatcher) callbacks(batchID string, tasks []model.Task) *executor.Callbacks {
	seqs := make(map[string]int, len(tasks))
	for i, task := range tasks {
		seqs[task.ID] = i
	}

	publish := func(typ string, task model.Task, res *model.TaskResult) {
		ev := Event{
			Type:    typ,
			BatchID: batchID,
			Seq:     seqs[task.ID],
			TaskID:  task.ID,
			Time:    time.Now().UTC(),
		}
		if res != nil {
			ev.Backend = res.Backend
			ev.ExitCode = res.ExitCode
			ev.Error = res.Error
			ev.DurationMS = res.Duration.Milliseconds()
		}
		d.broker.Publish(ev)
	}

	return &executor.Callbacks{
		OnTaskStart: func(task model.Task) {
			publish(EventTaskStarted, task, nil)
		},
		OnTaskComplete: func(res model.TaskResult) {
			if res.Success() {
				publish(EventTaskCompleted, res.Task, &res)
			}
		},
		OnTaskError: func(task model.Task, res model.TaskResult) {
			publish(EventTaskFailed, task, &res)
		},
	}
}

func (d *Dispatcher) record(batchID string, results []model.TaskResult) {
	for i, res := range results {
		if err := d.store.InsertTaskResult(context.Background(), batchID, i, res); err != nil {
			d.logger.Error("failed to persist task result",
				"batch_id", batchID,
				"task_id", res.Task.ID,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) finish(batchID, status string, failed int, errMsg string) {
	if err := d.store.FinishBatch(context.Background(), batchID, status, failed, errMsg); err != nil {
		d.logger.Error("failed to finish batch", "batch_id", batchID, "status", status, "error", err)
	}
}

// Shutdown stops accepting batches and waits up to timeout for in-flight
// batches. Batches still running after timeout have their tasks cancelled and
// get one more timeout to wind down; any left after that are abandoned. The
// executors are shut down last.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		d.logger.Warn("batches still running at shutdown, cancelling", "timeout", timeout.String())
		d.cancel()
		timer.Reset(timeout)
		select {
		case <-drained:
		case <-timer.C:
			d.logger.Error("abandoning batches that ignored cancellation",
				"batch_ids", d.Running(),
				"timeout", timeout.String(),
			)
		}
	}
	d.cancel()

	var errs []error
	for _, ex := range d.executors {
		if err := ex.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s executor: %w", ex.Mode(), err))
		}
	}
	return errors.Join(errs...)
}
