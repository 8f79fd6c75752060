package model

import (
	"errors"
	"time"
)

// ErrConfiguration marks invalid construction-time parameters: worker counts,
// timeouts, unresolvable backends. It is never retried.
var ErrConfiguration = errors.New("configuration error")

// Reserved task exit codes.
const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitBackendMissing = 2
	ExitTimeout        = 124
	ExitCancelled      = 125
)

// Task categories produced by classification.
const (
	CategoryPrototyping   = "prototyping"
	CategoryRefactoring   = "refactoring"
	CategoryTesting       = "testing"
	CategoryDocumentation = "documentation"
	CategoryGeneral       = "general"
)

// Categories lists every known category in classification priority order,
// followed by the catch-all.
var Categories = []string{
	CategoryPrototyping,
	CategoryRefactoring,
	CategoryTesting,
	CategoryDocumentation,
	CategoryGeneral,
}

// Task is one unit of work handed to a backend. It is not modified while a
// batch is executing.
type Task struct {
	ID                 string   `json:"id" yaml:"id"`
	Description        string   `json:"description" yaml:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria"`

	// Type is an optional explicit category hint. It wins over keyword
	// classification when it names a known category.
	Type string `json:"type,omitempty" yaml:"type"`
}

// TaskResult is the outcome of running a single task. Exactly one is
// produced per task and it is not mutated afterwards.
type TaskResult struct {
	Task          Task          `json:"task"`
	ExitCode      int           `json:"exit_code"`
	Stdout        string        `json:"stdout,omitempty"`
	Stderr        string        `json:"stderr,omitempty"`
	Duration      time.Duration `json:"duration"`
	ArtifactsPath string        `json:"artifacts_path,omitempty"`
	Error         string        `json:"error,omitempty"`
	Backend       string        `json:"backend,omitempty"`
}

// Success reports whether the task exited cleanly.
func (r TaskResult) Success() bool {
	return r.ExitCode == ExitSuccess
}

// FailedResult builds a failed TaskResult with the given exit code and message.
func FailedResult(task Task, exitCode int, msg string, d time.Duration) TaskResult {
	return TaskResult{
		Task:     task,
		ExitCode: exitCode,
		Stderr:   msg,
		Duration: d,
		Error:    msg,
	}
}
