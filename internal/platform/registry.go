package platform

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Registry maps platform names to adapters. It is filled at startup and
// read concurrently afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a Adapter) error {
	name := a.Platform()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter for platform %s already registered", name)
	}
	r.adapters[name] = a
	return nil
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, name)
	}
	return a, nil
}

// Platforms returns the registered names sorted.
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
