package isolation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Level controls how much of a task's environment is private.
type Level string

// Isolation levels.
const (
	LevelNone      Level = "none"
	LevelDirectory Level = "directory"
	LevelBranch    Level = "branch"
	LevelFull      Level = "full"
)

// tasksDir is the subdirectory under which per-task directories are created.
const tasksDir = "tasks"

// dirPerm is the permission used for derived directories.
const dirPerm = 0o755

// ErrInvalidTaskID is returned when a task ID cannot be used to derive paths.
var ErrInvalidTaskID = errors.New("invalid task id")

// Context is a task's execution environment. It is a value type; Derive
// returns a new Context and never modifies its input.
type Context struct {
	ProjectID        string `json:"project_id" yaml:"project_id"`
	WorkingDirectory string `json:"working_directory" yaml:"working_directory"`
	BranchName       string `json:"branch_name" yaml:"branch_name"`
	StateDirectory   string `json:"state_directory" yaml:"state_directory"`
	Level            Level  `json:"isolation_level" yaml:"isolation_level"`
}

// ParseLevel converts a configuration string into a Level. The empty string
// maps to LevelNone.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelNone:
		return LevelNone, nil
	case LevelDirectory:
		return LevelDirectory, nil
	case LevelBranch:
		return LevelBranch, nil
	case LevelFull:
		return LevelFull, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", s)
	}
}

// isolatesDirectory reports whether the level gives the task its own working directory.
func (l Level) isolatesDirectory() bool {
	return l == LevelDirectory || l == LevelFull
}

// isolatesBranch reports whether the level gives the task its own branch.
func (l Level) isolatesBranch() bool {
	return l == LevelBranch || l == LevelFull
}

// Derive returns the context a task with the given ID should run in.
//
// Directory side effects happen here rather than lazily, and deriving twice
// with identical inputs yields identical paths without error. LevelNone
// returns base unchanged.
func Derive(base Context, taskID string, level Level) (Context, error) {
	if _, err := ParseLevel(string(level)); err != nil {
		return Context{}, err
	}
	if level == LevelNone || level == "" {
		return base, nil
	}
	if err := validateTaskID(taskID); err != nil {
		return Context{}, err
	}

	derived := base
	derived.Level = level

	if level.isolatesDirectory() {
		dir := filepath.Join(base.WorkingDirectory, tasksDir, taskID)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return Context{}, fmt.Errorf("create task working directory: %w", err)
		}
		derived.WorkingDirectory = dir
	}

	if level.isolatesBranch() {
		derived.BranchName = base.BranchName + "-task-" + Sanitize(taskID)
	}

	if level == LevelFull {
		dir := filepath.Join(base.StateDirectory, tasksDir, taskID)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return Context{}, fmt.Errorf("create task state directory: %w", err)
		}
		derived.StateDirectory = dir
	}

	return derived, nil
}

// Sanitize makes a task ID safe for use in a branch name by replacing
// whitespace and underscores with hyphens.
func Sanitize(taskID string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' {
			return '-'
		}
		return r
	}, taskID)
}

// validateTaskID rejects IDs that would collapse onto the parent directory or
// escape it.
func validateTaskID(taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTaskID)
	}
	if taskID == "." || taskID == ".." || strings.ContainsAny(taskID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return nil
}
