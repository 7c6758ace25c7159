package sources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/cache"
	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// Deps carries the shared infrastructure every adapter is built with.
type Deps struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Factory creates a Source from provider configuration.
type Factory func(cfg Config, deps Deps) Source

// Registry manages source factories and the adapters built from them. It
// allows dynamic registration so deployments can plug in their own providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	sources   map[string]Source
}

// NewRegistry creates a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		sources:   make(map[string]Source),
	}

	r.RegisterFactory(alphaVantageName, func(cfg Config, deps Deps) Source { return NewAlphaVantage(cfg, deps) })
	r.RegisterFactory(fredName, func(cfg Config, deps Deps) Source { return NewFRED(cfg, deps) })
	r.RegisterFactory(blsName, func(cfg Config, deps Deps) Source { return NewBLS(cfg, deps) })
	r.RegisterFactory(censusName, func(cfg Config, deps Deps) Source { return NewCensus(cfg, deps) })
	r.RegisterFactory(worldBankName, func(cfg Config, deps Deps) Source { return NewWorldBank(cfg, deps) })

	return r
}

// RegisterFactory adds a source factory to the registry.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build instantiates the named source and keeps it for later lookup.
func (r *Registry) Build(name string, cfg Config, deps Deps) (Source, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown source type: %s (available: %v)", name, r.ListFactories())
	}

	src := factory(cfg, deps)

	r.mu.Lock()
	r.sources[name] = src
	r.mu.Unlock()

	return src, nil
}

// BuildAll instantiates every registered factory, taking per-provider
// configuration from cfgs where present and zero-value defaults otherwise.
func (r *Registry) BuildAll(cfgs map[string]Config, deps Deps) error {
	for _, name := range r.ListFactories() {
		if _, err := r.Build(name, cfgs[name], deps); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a built source by name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Resolve maps an ordered list of provider names to built sources, skipping
// names that were never built.
func (r *Registry) Resolve(names []string) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(names))
	for _, name := range names {
		if src, ok := r.sources[name]; ok {
			out = append(out, src)
		}
	}
	return out
}

// ListFactories returns the sorted names of registered factories.
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health reports health for every built source that exposes it.
func (r *Registry) Health() []SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceHealth, 0, len(r.sources))
	for _, src := range r.sources {
		if hr, ok := src.(HealthReporter); ok {
			out = append(out, hr.Health())
		}
	}
	return out
}
