// foundry-run executes the tasks in a YAML task file once, without a server,
// and prints a JSON summary to stdout.
//
// Usage: foundry-run [flags] tasks.yaml
//
// Exit status is 0 when at least one task succeeded, 1 when every task
// failed and 2 for usage or configuration errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/config"
	"github.com/seantiz/foundry/internal/executor"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
	"github.com/seantiz/foundry/internal/router"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, backend.DefaultRegistry()))
}

// summary is the JSON document written to stdout.
type summary struct {
	ProjectID  string       `json:"project_id"`
	Mode       string       `json:"mode"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	Results    []taskReport `json:"results"`
}

type taskReport struct {
	TaskID        string `json:"task_id"`
	Backend       string `json:"backend,omitempty"`
	ExitCode      int    `json:"exit_code"`
	Error         string `json:"error,omitempty"`
	ArtifactsPath string `json:"artifacts_path,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, reg *backend.Registry) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "foundry-run: %v\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet("foundry-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", "", "execution mode: sequential or parallel (overrides the task file)")
	workers := fs.Int("workers", cfg.Parallel.MaxWorkers, "parallel worker count")
	timeout := fs.Duration("timeout", cfg.Parallel.Timeout, "per-task timeout in parallel mode")
	workspace := fs.String("workspace", "", "base working directory (overrides the task file)")
	defaultBackend := fs.String("backend", cfg.Routing.DefaultBackend, "default backend type")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: foundry-run [flags] tasks.yaml")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
			fmt.Fprintf(stderr, "foundry-run: %v\n", err)
			return exitUsage
		}
	}
	logger := config.NewLogger(stderr, level)

	tf, err := loadTaskFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "foundry-run: %v\n", err)
		return exitUsage
	}

	if *mode != "" {
		tf.Mode = *mode
	}
	if tf.Mode == "" {
		tf.Mode = model.ModeSequential
	}
	if *workspace != "" {
		tf.Workspace = *workspace
	}
	if tf.Workspace == "" {
		tf.Workspace = cfg.Isolation.Workspace
	}
	if tf.Branch == "" {
		tf.Branch = cfg.Isolation.BaseBranch
	}

	ilevel := cfg.Isolation.Level
	if tf.Isolation != "" {
		if ilevel, err = isolation.ParseLevel(tf.Isolation); err != nil {
			fmt.Fprintf(stderr, "foundry-run: %v\n", err)
			return exitUsage
		}
	}

	rcfg := cfg.RouterConfig()
	rcfg.DefaultBackend = *defaultBackend
	rt, err := router.New(rcfg, reg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "foundry-run: %v\n", err)
		return exitUsage
	}

	ex, err := executor.New(executor.Mode(tf.Mode), rt, nil, executor.Options{
		MaxWorkers: *workers,
		Timeout:    *timeout,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "foundry-run: %v\n", err)
		return exitUsage
	}
	defer ex.Shutdown(*timeout)

	base := isolation.Context{
		ProjectID:        tf.ProjectID,
		WorkingDirectory: tf.Workspace,
		BranchName:       tf.Branch,
		StateDirectory:   filepath.Join(tf.Workspace, ".state"),
		Level:            ilevel,
	}
	if err := os.MkdirAll(base.WorkingDirectory, 0o755); err != nil {
		fmt.Fprintf(stderr, "foundry-run: create workspace: %v\n", err)
		return exitUsage
	}

	cb := &executor.Callbacks{
		OnTaskStart: func(task model.Task) {
			logger.Info("task queued", "task_id", task.ID, "category", rt.Classify(task))
		},
	}

	start := time.Now()
	results, err := ex.ExecuteTasks(ctx, tf.Tasks, base, cb)

	sum := summary{
		ProjectID:  tf.ProjectID,
		Mode:       tf.Mode,
		Total:      len(tf.Tasks),
		DurationMS: time.Since(start).Milliseconds(),
	}
	code := exitOK
	var agg *executor.AggregateError
	switch {
	case errors.As(err, &agg):
		results = agg.Failed
		sum.Error = agg.Error()
		code = exitFailed
	case err != nil:
		fmt.Fprintf(stderr, "foundry-run: %v\n", err)
		return exitFailed
	}

	sum.Results = make([]taskReport, len(results))
	for i, res := range results {
		if res.Success() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		sum.Results[i] = taskReport{
			TaskID:        res.Task.ID,
			Backend:       res.Backend,
			ExitCode:      res.ExitCode,
			Error:         res.Error,
			ArtifactsPath: res.ArtifactsPath,
			DurationMS:    res.Duration.Milliseconds(),
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		fmt.Fprintf(stderr, "foundry-run: encode summary: %v\n", err)
		return exitFailed
	}
	return code
}
