// Package params records which pipeline parameters a DAG build asks for.
//
// Model code calls Param(ctx, "name") while the DAG is being built. The
// registry travels in the context, so concurrent builds never share state,
// and Build hands each invocation a fresh one.
package params

import (
	"context"
	"slices"
	"sync"
)

// Registry is the set of parameter names requested during one build. It is
// safe for concurrent use. The zero value is an empty registry.
type Registry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Request marks name as used. Requesting a name twice is a no-op.
func (r *Registry) Request(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	r.names[name] = struct{}{}
}

// Has reports whether name was requested.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the requested names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of distinct names requested.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// Reset forgets every requested name.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.names)
}

type registryKey struct{}

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext returns the registry carried by ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}

// Param records that the current build uses name and returns name. Outside
// a build it only returns name.
func Param(ctx context.Context, name string) string {
	if r := FromContext(ctx); r != nil {
		r.Request(name)
	}
	return name
}

// Build runs fn with a fresh registry in its context and returns the names
// fn requested. The names are returned even when fn fails.
func Build(ctx context.Context, fn func(ctx context.Context) error) ([]string, error) {
	r := NewRegistry()
	err := fn(WithRegistry(ctx, r))
	return r.Names(), err
}
