package main

import (
	"log"
	"os"

	"github.com/seantiz/foundry/internal/api"
	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/config"
	"github.com/seantiz/foundry/internal/engine"
	"github.com/seantiz/foundry/internal/router"
	"github.com/seantiz/foundry/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("foundry: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_backend", cfg.Routing.DefaultBackend,
		"max_workers", cfg.Parallel.MaxWorkers,
		"timeout", cfg.Parallel.Timeout.String(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	rt, err := router.New(cfg.RouterConfig(), backend.DefaultRegistry(), logger)
	if err != nil {
		log.Fatalf("failed to create router: %v", err)
	}

	d, err := engine.NewDispatcher(db, rt, nil, engine.Config{
		Workspace:  cfg.Isolation.Workspace,
		BaseBranch: cfg.Isolation.BaseBranch,
		Level:      cfg.Isolation.Level,
		MaxWorkers: cfg.Parallel.MaxWorkers,
		Timeout:    cfg.Parallel.Timeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, rt, d, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
