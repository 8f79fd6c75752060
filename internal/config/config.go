package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/router"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "foundry.db"
	defaultWorkspace  = "foundry-work"
	defaultBranch     = "main"
	defaultMaxWorkers = 4
	defaultTimeout    = 3600 * time.Second

	envListenAddr     = "FOUNDRY_LISTEN_ADDR"
	envDBPath         = "FOUNDRY_DB_PATH"
	envLogLevel       = "FOUNDRY_LOG_LEVEL"
	envConfigFile     = "FOUNDRY_CONFIG"
	envMaxWorkers     = "FOUNDRY_MAX_WORKERS"
	envTimeoutS       = "FOUNDRY_TIMEOUT_S"
	envDefaultBackend = "FOUNDRY_DEFAULT_BACKEND"
	envWorkspace      = "FOUNDRY_WORKSPACE"
)

// Config holds application configuration loaded from an optional YAML file
// and environment variables. Environment variables win over the file.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	Routing   Routing
	Parallel  Parallel
	Isolation Isolation

	// Backends holds type-specific sections keyed by backend type.
	Backends map[string]map[string]any

	// Keywords overrides the classification table when non-empty.
	Keywords []router.CategoryKeywords
}

// Routing configures backend selection.
type Routing struct {
	DefaultBackend string
	Rules          map[string]string
}

// Parallel configures the parallel executor.
type Parallel struct {
	MaxWorkers int
	Timeout    time.Duration
}

// Isolation configures the base isolation context for batches.
type Isolation struct {
	Workspace  string
	BaseBranch string
	Level      isolation.Level
}

// file mirrors the YAML layout.
type file struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	Routing struct {
		DefaultBackend string            `yaml:"default_backend"`
		Rules          map[string]string `yaml:"rules"`
	} `yaml:"backend_routing"`

	Parallel struct {
		MaxWorkers *int     `yaml:"max_workers"`
		Timeout    *float64 `yaml:"timeout"`
	} `yaml:"parallel"`

	Isolation struct {
		Workspace  string `yaml:"workspace"`
		BaseBranch string `yaml:"base_branch"`
		Level      string `yaml:"level"`
	} `yaml:"isolation"`

	Backend map[string]map[string]interface{} `yaml:"backend"`

	Classification []router.CategoryKeywords `yaml:"classification"`
}

func defaults() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		Routing:    Routing{DefaultBackend: backend.TypeMock},
		Parallel:   Parallel{MaxWorkers: defaultMaxWorkers, Timeout: defaultTimeout},
		Isolation: Isolation{
			Workspace:  defaultWorkspace,
			BaseBranch: defaultBranch,
			Level:      isolation.LevelDirectory,
		},
	}
}

// Load reads configuration from the file named by FOUNDRY_CONFIG, if any, and
// then from environment variables, with sensible defaults.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads configuration from a YAML file only, ignoring the environment.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if err := cfg.loadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.ListenAddr != "" {
		c.ListenAddr = f.ListenAddr
	}
	if f.DBPath != "" {
		c.DBPath = f.DBPath
	}
	if f.LogLevel != "" {
		c.LogLevel = parseLogLevel(f.LogLevel)
	}

	if f.Routing.DefaultBackend != "" {
		c.Routing.DefaultBackend = f.Routing.DefaultBackend
	}
	if len(f.Routing.Rules) > 0 {
		c.Routing.Rules = f.Routing.Rules
	}

	if f.Parallel.MaxWorkers != nil {
		c.Parallel.MaxWorkers = *f.Parallel.MaxWorkers
	}
	if f.Parallel.Timeout != nil {
		c.Parallel.Timeout = seconds(*f.Parallel.Timeout)
	}

	if f.Isolation.Workspace != "" {
		c.Isolation.Workspace = f.Isolation.Workspace
	}
	if f.Isolation.BaseBranch != "" {
		c.Isolation.BaseBranch = f.Isolation.BaseBranch
	}
	if f.Isolation.Level != "" {
		level, err := isolation.ParseLevel(f.Isolation.Level)
		if err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		c.Isolation.Level = level
	}

	if len(f.Backend) > 0 {
		c.Backends = make(map[string]map[string]any, len(f.Backend))
		for typeName, section := range f.Backend {
			c.Backends[typeName] = normalizeMap(section)
		}
	}

	if len(f.Classification) > 0 {
		c.Keywords = f.Classification
	}
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDefaultBackend); v != "" {
		c.Routing.DefaultBackend = v
	}
	if v := os.Getenv(envWorkspace); v != "" {
		c.Isolation.Workspace = v
	}
	if v := os.Getenv(envMaxWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envMaxWorkers, err)
		}
		c.Parallel.MaxWorkers = n
	}
	if v := os.Getenv(envTimeoutS); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTimeoutS, err)
		}
		c.Parallel.Timeout = seconds(s)
	}
	return nil
}

// RouterConfig converts the routing sections into a router.Config.
func (c Config) RouterConfig() router.Config {
	return router.Config{
		DefaultBackend: c.Routing.DefaultBackend,
		Rules:          c.Routing.Rules,
		Backends:       c.Backends,
		Keywords:       c.Keywords,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// normalizeMap converts the map[interface{}]interface{} values produced by
// yaml.v2 into map[string]any so they can be decoded by mapstructure.
func normalizeMap(m map[string]interface{}) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case map[string]interface{}:
		return normalizeMap(t)
	case []interface{}:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
