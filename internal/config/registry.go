package config

import "fmt"

// Registry is the ordered, name-indexed view of the configured sources
// (§4.1). It is built once at startup and is immutable afterward (§5).
type Registry struct {
	ordered []SourceConfig
	byName  map[string]SourceConfig
}

// NewRegistry builds a Registry from validated sources. Call Config.Validate
// first; NewRegistry does not re-validate mandatory fields.
func NewRegistry(sources []SourceConfig) *Registry {
	byName := make(map[string]SourceConfig, len(sources))
	ordered := make([]SourceConfig, len(sources))
	copy(ordered, sources)
	for _, s := range ordered {
		byName[s.Name] = s
	}
	return &Registry{ordered: ordered, byName: byName}
}

// Sources returns all sources in declaration order.
func (r *Registry) Sources() []SourceConfig {
	return r.ordered
}

// Get returns the source descriptor for name, and whether it was found.
// Orchestrator code uses this to skip hydration for sources that have been
// removed from configuration since a vector was indexed (§4.9 step 9).
func (r *Registry) Get(name string) (SourceConfig, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// MustGet returns the source descriptor for name, or panics. Intended for
// callers that already validated name came from the registry itself.
func (r *Registry) MustGet(name string) SourceConfig {
	s, ok := r.byName[name]
	if !ok {
		panic(fmt.Sprintf("config: unknown source %q", name))
	}
	return s
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.ordered)
}
