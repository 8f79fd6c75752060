// testserver starts a Foundry API server whose every backend type is a slow
// mock, for exercising the API without code-generation CLIs installed.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/seantiz/foundry/internal/api"
	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/engine"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
	"github.com/seantiz/foundry/internal/router"
	"github.com/seantiz/foundry/internal/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("FOUNDRY_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Every type gets the mock factory. Testing tasks route to the codex slot,
	// which always fails, so failure paths can be seen too.
	reg := backend.NewRegistry()
	for _, name := range []string{backend.TypeMock, backend.TypeClaudeCode, backend.TypeCCPM, backend.TypeCodex} {
		reg.Register(name, backend.NewMockFromConfig)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rt, err := router.New(router.Config{
		DefaultBackend: backend.TypeMock,
		Rules:          map[string]string{model.CategoryTesting: backend.TypeCodex},
		Backends: map[string]map[string]any{
			backend.TypeMock:       {"delay": "500ms"},
			backend.TypeClaudeCode: {"delay": "1s"},
			backend.TypeCCPM:       {"delay": "2s"},
			backend.TypeCodex:      {"fail": true, "fail_message": "codex stub always fails"},
		},
	}, reg, logger)
	if err != nil {
		log.Fatalf("failed to create router: %v", err)
	}

	workspace, err := os.MkdirTemp("", "foundry-testserver-")
	if err != nil {
		log.Fatalf("failed to create workspace: %v", err)
	}
	defer os.RemoveAll(workspace)

	d, err := engine.NewDispatcher(db, rt, nil, engine.Config{
		Workspace:  filepath.Join(workspace, "batches"),
		BaseBranch: "main",
		Level:      isolation.LevelDirectory,
		MaxWorkers: 4,
		Timeout:    30 * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}

	srv := api.NewServer(addr, db, rt, d, logger)

	logger.Info("testserver: starting", "addr", addr, "workspace", workspace)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
