// Package provider maps backend names to lazily constructed, process-wide capability instances.
package provider

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/knoguchi/minirag/internal/config"
)

// ErrUnknownProvider is returned when no constructor is registered under a name.
var ErrUnknownProvider = errors.New("unknown provider")

// Constructor builds a capability instance from configuration.
type Constructor[T any] func(cfg *config.Config) (T, error)

// Registry holds the constructors of one capability family and caches what they built.
// Names are case-insensitive.
type Registry[T any] struct {
	family string

	mu        sync.Mutex
	ctors     map[string]Constructor[T]
	instances map[string]T
}

// NewRegistry creates an empty registry for the named capability family.
func NewRegistry[T any](family string) *Registry[T] {
	return &Registry[T]{
		family:    family,
		ctors:     make(map[string]Constructor[T]),
		instances: make(map[string]T),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a constructor. Registering a name twice replaces the constructor.
func (r *Registry[T]) Register(name string, ctor Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[normalize(name)] = ctor
}

// Resolve returns the cached instance for name, constructing it on first use.
// A failed construction is not cached.
func (r *Registry[T]) Resolve(name string, cfg *config.Config) (T, error) {
	key := normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	var zero T
	ctor, ok := r.ctors[key]
	if !ok {
		return zero, fmt.Errorf("%w: %s backend %q (registered: %s)",
			ErrUnknownProvider, r.family, name, strings.Join(r.namesLocked(), ", "))
	}

	inst, err := ctor(cfg)
	if err != nil {
		return zero, fmt.Errorf("initializing %s backend %q: %w", r.family, key, err)
	}
	r.instances[key] = inst
	return inst, nil
}

// Names lists registered backends in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry[T]) namesLocked() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every constructed instance that implements io.Closer.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, inst := range r.instances {
		if c, ok := any(inst).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s backend %q: %w", r.family, name, err))
			}
		}
		delete(r.instances, name)
	}
	return errors.Join(errs...)
}
