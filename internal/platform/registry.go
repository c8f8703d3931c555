package platform

import (
	"fmt"
	"log/slog"
	"sort"
)

// Registry maps platform names to their implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	platforms map[string]Platform
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		platforms: make(map[string]Platform),
		logger:    logger.With("component", "platform-registry"),
	}
}

// Register adds a Platform to the registry, keyed by its Name().
func (r *Registry) Register(p Platform) {
	name := p.Name()
	r.platforms[name] = p
	r.logger.Info("platform registered", "name", name)
}

// Get returns the Platform for the given name or an error if none is registered.
func (r *Registry) Get(name string) (Platform, error) {
	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("no platform registered with name %q", name)
	}
	return p, nil
}

// Names lists registered platforms in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
