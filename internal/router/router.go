package router

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/seantiz/foundry/internal/backend"
	"github.com/seantiz/foundry/internal/isolation"
	"github.com/seantiz/foundry/internal/model"
)

// DefaultSentinel is a rule value meaning "use the configured default backend".
const DefaultSentinel = "default"

// defaultRules maps categories to backend types before configuration is applied.
var defaultRules = map[string]string{
	model.CategoryPrototyping:   backend.TypeCCPM,
	model.CategoryRefactoring:   backend.TypeClaudeCode,
	model.CategoryTesting:       backend.TypeClaudeCode,
	model.CategoryDocumentation: DefaultSentinel,
	model.CategoryGeneral:       DefaultSentinel,
}

// Config configures a Router.
type Config struct {
	// DefaultBackend is the type used for unmapped categories and as the
	// fallback when construction fails. Empty means backend.TypeMock.
	DefaultBackend string

	// Rules override the default category→type mapping.
	Rules map[string]string

	// Backends holds type-specific configuration sections keyed by type name.
	Backends map[string]map[string]any

	// Keywords overrides the classification table when non-nil.
	Keywords []CategoryKeywords
}

// Router selects and caches backends for tasks. It is safe for concurrent use.
type Router struct {
	registry    *backend.Registry
	classifier  *Classifier
	defaultType string
	rules       map[string]string
	backendCfg  map[string]map[string]any
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]backend.Backend
	group singleflight.Group
}

// New creates a router. Rules are merged over the defaults and every
// DefaultSentinel value is resolved to the default type here, once. A nil
// registry uses backend.DefaultRegistry.
func New(cfg Config, reg *backend.Registry, logger *slog.Logger) (*Router, error) {
	if reg == nil {
		reg = backend.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	defaultType := strings.TrimSpace(cfg.DefaultBackend)
	if defaultType == "" || defaultType == DefaultSentinel {
		defaultType = backend.TypeMock
	}
	if !reg.Known(defaultType) {
		return nil, fmt.Errorf("%w: default backend %q is not a known type (known: %v)",
			model.ErrConfiguration, defaultType, reg.Types())
	}

	rules := maps.Clone(defaultRules)
	for category, typeName := range cfg.Rules {
		rules[strings.ToLower(strings.TrimSpace(category))] = strings.TrimSpace(typeName)
	}
	for category, typeName := range rules {
		if typeName == "" || typeName == DefaultSentinel {
			rules[category] = defaultType
		}
	}

	return &Router{
		registry:    reg,
		classifier:  NewClassifier(cfg.Keywords),
		defaultType: defaultType,
		rules:       rules,
		backendCfg:  cfg.Backends,
		logger:      logger,
		cache:       make(map[string]backend.Backend),
	}, nil
}

// DefaultType returns the resolved default backend type.
func (r *Router) DefaultType() string {
	return r.defaultType
}

// Types returns every backend type the registry can construct, sorted.
func (r *Router) Types() []string {
	return r.registry.Types()
}

// Rules returns a copy of the resolved category→type table.
func (r *Router) Rules() map[string]string {
	return maps.Clone(r.rules)
}

// Classify returns the category the router assigns to task.
func (r *Router) Classify(task model.Task) string {
	return r.classifier.Classify(task)
}

// Route returns the backend type for category. Unmapped categories route to
// the default type.
func (r *Router) Route(category string) string {
	if typeName, ok := r.rules[strings.ToLower(category)]; ok {
		return typeName
	}
	return r.defaultType
}

// Select returns the backend that should run task. The isolation context is
// accepted for symmetry with the executors; selection does not depend on it.
// The returned backend is never nil when err is nil.
func (r *Router) Select(task model.Task, ictx isolation.Context) (backend.Backend, error) {
	category := r.Classify(task)
	typeName := r.Route(category)

	r.logger.Debug("routing task",
		"task_id", task.ID,
		"category", category,
		"backend", typeName,
		"project_id", ictx.ProjectID,
	)
	return r.Backend(typeName)
}

// Backend returns the cached instance of typeName, constructing it on first
// use. If construction fails it falls back to the default type exactly once;
// if the default type itself fails the error wraps model.ErrConfiguration.
func (r *Router) Backend(typeName string) (backend.Backend, error) {
	b, err := r.instance(typeName)
	if err == nil {
		return b, nil
	}

	if typeName == r.defaultType {
		return nil, fmt.Errorf("%w: default backend %q: %v", model.ErrConfiguration, typeName, err)
	}

	r.logger.Error("backend construction failed, falling back to default",
		"backend", typeName,
		"default_backend", r.defaultType,
		"error", err,
	)
	backendFallbacks.Inc()

	b, ferr := r.instance(r.defaultType)
	if ferr != nil {
		return nil, fmt.Errorf("%w: backend %q: %v; default backend %q: %v",
			model.ErrConfiguration, typeName, err, r.defaultType, ferr)
	}
	return b, nil
}

// instance returns a cached backend or constructs one. Concurrent first
// requests for the same type share a single construction.
func (r *Router) instance(typeName string) (backend.Backend, error) {
	r.mu.RLock()
	b, ok := r.cache[typeName]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	v, err, _ := r.group.Do(typeName, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[typeName]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		nb, err := r.registry.New(typeName, r.backendCfg[typeName], r.logger)
		if err != nil {
			backendConstructions.WithLabelValues(typeName, resultError).Inc()
			return nil, err
		}
		backendConstructions.WithLabelValues(typeName, resultOK).Inc()

		r.mu.Lock()
		r.cache[typeName] = nb
		r.mu.Unlock()

		r.logger.Info("backend constructed", "backend", typeName)
		return nb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(backend.Backend), nil
}

// CachedTypes returns the type names of constructed backends, sorted.
func (r *Router) CachedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.cache))
}

// HealthCheck runs HealthCheck on every constructed backend.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	snapshot := maps.Clone(r.cache)
	r.mu.RUnlock()

	health := make(map[string]bool, len(snapshot))
	for name, b := range snapshot {
		health[name] = b.HealthCheck(ctx)
	}
	return health
}
