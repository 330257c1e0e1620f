package pipeline

import "fmt"

// Router is a generic backend dispatcher mapping names to implementations,
// with a configurable fallback. Used to pick the synthesis voice requested
// in session metadata.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router with the given backends and a fallback name
// used when the requested backend is not registered.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend for name, falling back to the default.
func (r *Router[T]) Route(name string) (T, error) {
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for %q", name)
}

// Has reports whether a backend is registered under name.
func (r *Router[T]) Has(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// Names returns all registered backend names.
func (r *Router[T]) Names() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	return names
}
