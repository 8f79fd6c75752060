package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ErrUnknownType is returned when no factory is registered for a backend type.
var ErrUnknownType = errors.New("unknown backend type")

// Factory constructs a backend from its type-specific configuration section.
// cfg may be nil when no section is configured.
type Factory func(cfg map[string]any, logger *slog.Logger) (Backend, error)

// Registry holds backend factories keyed by type name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with every built-in backend type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeMock, NewMockFromConfig)
	r.Register(TypeClaudeCode, NewCLIFactory(TypeClaudeCode, CLIConfig{
		Command:   "claude",
		Args:      []string{"--print"},
		APIKeyEnv: "ANTHROPIC_API_KEY",
	}))
	r.Register(TypeCCPM, NewCLIFactory(TypeCCPM, CLIConfig{
		Command:   "ccpm",
		Args:      []string{"run"},
		APIKeyEnv: "ANTHROPIC_API_KEY",
	}))
	r.Register(TypeCodex, NewCLIFactory(TypeCodex, CLIConfig{
		Command:   "codex",
		Args:      []string{"exec"},
		APIKeyEnv: "OPENAI_API_KEY",
	}))
	return r
}

// Register adds a factory under the given type name, replacing any existing one.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

// Known reports whether a factory is registered for typeName.
func (r *Registry) Known(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}

// New constructs a backend of the given type.
func (r *Registry) New(typeName string, cfg map[string]any, logger *slog.Logger) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b, err := f(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("construct %s backend: %w", typeName, err)
	}
	if b == nil {
		return nil, fmt.Errorf("construct %s backend: factory returned nil", typeName)
	}
	return b, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// decodeConfig decodes a loosely typed configuration section into out.
// Unknown keys are rejected so that typos surface at construction time.
func decodeConfig(cfg map[string]any, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("create config decoder: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
