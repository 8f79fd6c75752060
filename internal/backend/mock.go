package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// mockOutputFile is the single file the mock backend generates.
const mockOutputFile = "TASK.md"

// MockConfig configures the mock backend.
type MockConfig struct {
	// Delay is how long each Execute call takes.
	Delay time.Duration `mapstructure:"delay"`

	// Fail makes every Execute call return an error.
	Fail bool `mapstructure:"fail"`

	// FailMessage overrides the error message used when Fail is set.
	FailMessage string `mapstructure:"fail_message"`

	// Unhealthy makes HealthCheck report false.
	Unhealthy bool `mapstructure:"unhealthy"`
}

// Mock is a backend that never touches the network. It writes a summary of
// the task into the output directory, which makes it the safe default.
type Mock struct {
	cfg   MockConfig
	calls atomic.Int64
}

// NewMock creates a mock backend.
func NewMock(cfg MockConfig) *Mock {
	return &Mock{cfg: cfg}
}

// NewMockFromConfig is the Factory for TypeMock.
func NewMockFromConfig(cfg map[string]any, _ *slog.Logger) (Backend, error) {
	var mc MockConfig
	if err := decodeConfig(cfg, &mc); err != nil {
		return nil, err
	}
	if mc.Delay < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %s", mc.Delay)
	}
	return NewMock(mc), nil
}

// Name implements Backend.
func (m *Mock) Name() string { return TypeMock }

// Calls returns how many times Execute has been invoked.
func (m *Mock) Calls() int64 { return m.calls.Load() }

// Execute implements Backend.
func (m *Mock) Execute(ctx context.Context, description, outputDir string) (Files, error) {
	m.calls.Add(1)

	if m.cfg.Delay > 0 {
		timer := time.NewTimer(m.cfg.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.cfg.Fail {
		msg := m.cfg.FailMessage
		if msg == "" {
			msg = "mock backend configured to fail"
		}
		return nil, errors.New(msg)
	}

	content := fmt.Sprintf("# Task\n\n%s\n", description)
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(outputDir, mockOutputFile), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", mockOutputFile, err)
		}
	}

	return Files{mockOutputFile: content}, nil
}

// HealthCheck implements Backend.
func (m *Mock) HealthCheck(_ context.Context) bool {
	return !m.cfg.Unhealthy
}
