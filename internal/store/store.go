package store

import (
	"context"
	"errors"

	"github.com/seantiz/foundry/internal/model"
)

var (
	// ErrNotFound is returned when a batch is not found.
	ErrNotFound = errors.New("batch not found")

	// ErrInvalidTransition is returned when a batch status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Stats holds aggregate execution statistics.
type Stats struct {
	TotalBatches      int            `json:"total_batches"`
	BatchesByStatus   map[string]int `json:"batches_by_status"`
	BatchesByMode     map[string]int `json:"batches_by_mode"`
	TotalTasks        int            `json:"total_tasks"`
	FailedTasks       int            `json:"failed_tasks"`
	TasksByBackend    map[string]int `json:"tasks_by_backend"`
	AvgTaskDurationMS float64        `json:"avg_task_duration_ms"`
}

// Store defines the persistence operations for batches and their results.
type Store interface {
	CreateBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*model.Batch, int, error)
	UpdateBatchStatus(ctx context.Context, id, status string) error
	FinishBatch(ctx context.Context, id, status string, failed int, errMsg string) error
	InsertTaskResult(ctx context.Context, batchID string, seq int, res model.TaskResult) error
	GetTaskResults(ctx context.Context, batchID string) ([]model.StoredResult, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
