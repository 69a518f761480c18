package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
)

// Factory constructs a fresh scenario instance per evaluation run.
type Factory func() scenario.Scenario

// Registry maps scenario names to factories. Built-in scenarios and
// plugin-provided ones share the same namespace.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty scenario registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// BuiltinRegistry returns a registry pre-populated with the scenarios
// that ship with the engine.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("sql_injection", func() scenario.Scenario {
		return scenario.NewSQLInjectionScenario()
	})
	r.MustRegister("prompt_injection", func() scenario.Scenario {
		return scenario.NewPromptInjectionScenario()
	})
	return r
}

// Register adds a scenario factory. Duplicate names are rejected so a
// plugin cannot silently shadow a built-in.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("scenario name is empty")
	}
	if factory == nil {
		return fmt.Errorf("scenario factory for %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("scenario %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister registers a factory and panics on conflict. Intended for
// built-ins wired at startup.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// RegisterPlugin registers a loaded plugin's scenario factory under the
// plugin's name.
func (r *Registry) RegisterPlugin(p ScenarioPlugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	return r.Register(p.Name(), p.NewScenario)
}

// RegisterLoaded registers every plugin held by a loader. The first
// conflict aborts registration.
func (r *Registry) RegisterLoaded(loader *Loader) error {
	for _, p := range loader.GetAll() {
		if err := r.RegisterPlugin(p); err != nil {
			return err
		}
	}
	return nil
}

// Create builds a fresh scenario instance by name.
func (r *Registry) Create(name string) (scenario.Scenario, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q, available: %v", name, r.Names())
	}

	scn := factory()
	if scn == nil {
		return nil, fmt.Errorf("scenario factory for %q returned nil", name)
	}
	return scn, nil
}

// Has reports whether a scenario name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered scenario names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioSummary describes one registered scenario for listings.
type ScenarioSummary struct {
	Name       string   `json:"name"`
	Techniques []string `json:"techniques"`
	Baseline   int      `json:"baseline_samples"`
}

// List instantiates each registered scenario once to summarize it.
func (r *Registry) List() []ScenarioSummary {
	summaries := make([]ScenarioSummary, 0)
	for _, name := range r.Names() {
		scn, err := r.Create(name)
		if err != nil {
			continue
		}
		summaries = append(summaries, ScenarioSummary{
			Name:       scn.Name(),
			Techniques: scn.Techniques(),
			Baseline:   len(scn.BaselineDataset()),
		})
	}
	return summaries
}
