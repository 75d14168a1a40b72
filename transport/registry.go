package transport

import (
	"sort"
	"sync"
)

// Service is a role-specific implementation of a client type.
type Service interface {
	// Client returns the underlying multiplexed client.
	Client() *Client
}

// Factory builds the service for one side of a client type. It runs once
// per Transport, the first time the type is requested.
type Factory func(c *Client) (Service, error)

// Registry maps client types to their parent- and child-side factories.
// A Registry is passed to each Transport with WithRegistry and is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

type registration struct {
	parent Factory
	child  Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]registration)}
}

// Register records the factories for typ, replacing any earlier registration.
// Either factory may be nil when that side does not support the type.
func (r *Registry) Register(typ string, parent, child Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typ] = registration{parent: parent, child: child}
}

// Lookup returns the factory for typ on the given side.
func (r *Registry) Lookup(typ string, role Role) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[typ]
	if !ok {
		return nil, false
	}
	var f Factory
	switch role {
	case RoleParent:
		f = reg.parent
	case RoleChild:
		f = reg.child
	}
	return f, f != nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
