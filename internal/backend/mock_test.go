package backend_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/foundry/internal/backend"
)

func TestMockWritesTaskFile(t *testing.T) {
	m := backend.NewMock(backend.MockConfig{})
	dir := filepath.Join(t.TempDir(), "out")

	files, err := m.Execute(context.Background(), "build a parser", dir)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}

	data, err := os.ReadFile(filepath.Join(dir, "TASK.md"))
	if err != nil {
		t.Fatalf("read TASK.md: %v", err)
	}
	if !strings.Contains(string(data), "build a parser") {
		t.Errorf("TASK.md = %q, want it to contain the description", data)
	}
	if m.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", m.Calls())
	}
}

func TestMockWithoutOutputDir(t *testing.T) {
	m := backend.NewMock(backend.MockConfig{})

	files, err := m.Execute(context.Background(), "x", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := files["TASK.md"]; !ok {
		t.Errorf("files = %v, want TASK.md", files.Paths())
	}
}

func TestMockFail(t *testing.T) {
	m := backend.NewMock(backend.MockConfig{Fail: true, FailMessage: "quota exceeded"})

	_, err := m.Execute(context.Background(), "x", t.TempDir())
	if err == nil || err.Error() != "quota exceeded" {
		t.Errorf("Execute error = %v, want %q", err, "quota exceeded")
	}
}

func TestMockDelayHonoursContext(t *testing.T) {
	m := backend.NewMock(backend.MockConfig{Delay: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Execute(ctx, "x", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Execute took %v, expected early return on cancellation", time.Since(start))
	}
}

func TestMockHealthCheck(t *testing.T) {
	if !backend.NewMock(backend.MockConfig{}).HealthCheck(context.Background()) {
		t.Error("healthy mock reported unhealthy")
	}
	if backend.NewMock(backend.MockConfig{Unhealthy: true}).HealthCheck(context.Background()) {
		t.Error("unhealthy mock reported healthy")
	}
}

func TestMockFromConfig(t *testing.T) {
	b, err := backend.NewMockFromConfig(map[string]any{"delay": "10ms", "fail": "true"}, nil)
	if err != nil {
		t.Fatalf("NewMockFromConfig: %v", err)
	}
	if _, err := b.Execute(context.Background(), "x", ""); err == nil {
		t.Error("expected configured failure")
	}
}

func TestMockFromConfigRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
	}{
		{"unknown key", map[string]any{"dely": "1s"}},
		{"bad duration", map[string]any{"delay": "soon"}},
		{"negative delay", map[string]any{"delay": "-1s"}},
	}
	for _, tt := range tests {
		if _, err := backend.NewMockFromConfig(tt.cfg, nil); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}
