package resolver

import (
	"fmt"
	"sync"
)

// Registry maps strategy names to resolvers. Safe for concurrent reads;
// Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates a registry pre-loaded with the built-in
// strategies. Callers may Register additional custom strategies.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[string]Resolver)}
	r.Register(LocalWins{})
	r.Register(RemoteWins{})
	r.Register(LastWriteWins{})
	return r
}

// Register adds a resolver. Panics on duplicate name to surface
// misconfiguration early.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resolvers[res.Name()]; exists {
		panic(fmt.Sprintf("resolver registry: duplicate strategy %q", res.Name()))
	}
	r.resolvers[res.Name()] = res
}

// Get returns the resolver for the given strategy name. Manual is not a
// resolver; asking for it is an error.
func (r *Registry) Get(strategy string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[strategy]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for strategy %q", strategy)
	}
	return res, nil
}

// Strategies returns all registered strategy names.
func (r *Registry) Strategies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		out = append(out, k)
	}
	return out
}

// Known reports whether the strategy name is valid configuration:
// either a registered resolver or manual.
func (r *Registry) Known(strategy string) bool {
	if strategy == StrategyManual {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[strategy]
	return ok
}
