package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// maxCollectedFileSize caps how much of a generated file is read back.
// Larger files are reported with empty content.
const maxCollectedFileSize = 1 << 20 // 1 MB

// defaultWaitDelay bounds how long Execute waits for output pipes after the
// command is killed.
const defaultWaitDelay = 5 * time.Second

// CLIConfig configures a backend that shells out to a code-generation CLI.
type CLIConfig struct {
	// Command is the executable name or path.
	Command string `mapstructure:"command"`

	// Args are passed before the prompt, which is always the last argument.
	Args []string `mapstructure:"args"`

	// APIKeyEnv names the environment variable holding the tool's credentials.
	// A missing value is logged at construction but does not fail it.
	APIKeyEnv string `mapstructure:"api_key_env"`

	// Env holds extra environment variables for the subprocess.
	Env map[string]string `mapstructure:"env"`

	// Timeout bounds a single invocation. Zero means no backend-level limit.
	Timeout time.Duration `mapstructure:"timeout"`

	// WaitDelay bounds the wait for I/O after a cancelled command is killed,
	// for tools whose children keep stdout open. Zero means defaultWaitDelay.
	WaitDelay time.Duration `mapstructure:"wait_delay"`
}

// CLI runs a code-generation tool as a subprocess inside the task's output
// directory and reports the files it created or modified.
type CLI struct {
	name   string
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLIFactory returns a Factory producing CLI backends named name. Values
// from the configuration section override defaults.
func NewCLIFactory(name string, defaults CLIConfig) Factory {
	return func(cfg map[string]any, logger *slog.Logger) (Backend, error) {
		c := defaults
		if err := decodeConfig(cfg, &c); err != nil {
			return nil, err
		}
		return NewCLI(name, c, logger)
	}
}

// NewCLI creates a CLI backend.
func NewCLI(name string, cfg CLIConfig, logger *slog.Logger) (*CLI, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("command is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.WaitDelay < 0 {
		return nil, fmt.Errorf("wait_delay must not be negative, got %s", cfg.WaitDelay)
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.APIKeyEnv != "" && os.Getenv(cfg.APIKeyEnv) == "" {
		logger.Warn("backend credentials not set",
			"backend", name,
			"env", cfg.APIKeyEnv,
		)
	}
	return &CLI{name: name, cfg: cfg, logger: logger}, nil
}

// Name implements Backend.
func (c *CLI) Name() string { return c.name }

// Execute implements Backend.
func (c *CLI) Execute(ctx context.Context, description, outputDir string) (Files, error) {
	if outputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	before, err := snapshot(outputDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot output dir: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.cfg.Args...), description)
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Dir = outputDir
	cmd.WaitDelay = c.cfg.WaitDelay
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s: %w: %s", c.cfg.Command, err, msg)
	}
	c.logger.Debug("backend command finished",
		"backend", c.name,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", stdout.Len(),
	)

	return collectChanged(outputDir, before)
}

// HealthCheck implements Backend. The tool is healthy when its executable
// can be found.
func (c *CLI) HealthCheck(_ context.Context) bool {
	_, err := exec.LookPath(c.cfg.Command)
	return err == nil
}

// snapshot records the modification time of every regular file under dir.
func snapshot(dir string) (map[string]time.Time, error) {
	seen := make(map[string]time.Time)
	err := walkFiles(dir, func(rel string, info fs.FileInfo) error {
		seen[rel] = info.ModTime()
		return nil
	})
	return seen, err
}

// collectChanged returns files under dir that are new or modified since before.
func collectChanged(dir string, before map[string]time.Time) (Files, error) {
	files := make(Files)
	err := walkFiles(dir, func(rel string, info fs.FileInfo) error {
		if mod, ok := before[rel]; ok && !info.ModTime().After(mod) {
			return nil
		}
		if info.Size() > maxCollectedFileSize {
			files[rel] = ""
			return nil
		}
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect generated files: %w", err)
	}
	return files, nil
}

// walkFiles calls fn for each regular file under dir, skipping .git.
func walkFiles(dir string, fn func(rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info)
	})
}
