package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/seantiz/foundry/internal/model"
)

// Built-in backend type names.
const (
	TypeMock       = "mock"
	TypeClaudeCode = "claude-code"
	TypeCCPM       = "ccpm"
	TypeCodex      = "codex"
)

// Backend is the interface that all code-generation backends must implement.
// Implementations must be safe for concurrent use; per-call side effects are
// confined to outputDir.
type Backend interface {
	// Name returns the backend type name.
	Name() string

	// Execute generates code for the task description into outputDir and
	// returns the files it produced. The context carries deadlines and
	// cancellation; backends should honour it but are not required to.
	Execute(ctx context.Context, description, outputDir string) (Files, error)

	// HealthCheck reports whether the backend is usable right now.
	HealthCheck(ctx context.Context) bool
}

// Files maps a path relative to the output directory to its content.
type Files map[string]string

// Paths returns the file paths in sorted order.
func (f Files) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BuildPrompt renders a task into the text handed to a backend.
func BuildPrompt(task model.Task) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(task.Description))
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(c))
		}
	}
	return b.String()
}
