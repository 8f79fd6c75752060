package model

import "time"

// Batch status constants.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// Execution mode constants.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// validTransitions maps each batch status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	BatchPending: {
		BatchRunning: true,
		BatchFailed:  true,
	},
	BatchRunning: {
		BatchCompleted: true,
		BatchFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a batch status is final.
func IsTerminal(status string) bool {
	return status == BatchCompleted || status == BatchFailed
}

// Batch is a group of tasks submitted together for execution.
type Batch struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	TaskCount  int        `json:"task_count"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StoredResult is a persisted TaskResult belonging to a batch.
type StoredResult struct {
	BatchID string     `json:"batch_id"`
	Seq     int        `json:"seq"`
	Result  TaskResult `json:"result"`
	// CreatedAt is when the result was recorded.
	CreatedAt time.Time `json:"created_at"`
}
