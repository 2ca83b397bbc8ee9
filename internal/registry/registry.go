package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// TypeID is the interned handle of a registered type name.
type TypeID uint32

// NoType is never assigned to a registered type.
const NoType TypeID = 0

// Module is the interface that all compiled-in modules implement to
// contribute component types.
type Module interface {
	Register(r *Registry) error
}

// Registry holds the factories of one application instance.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool

	ids       map[string]TypeID
	names     []string
	factories []Factory
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{
		ids:       make(map[string]TypeID),
		names:     []string{""},
		factories: []Factory{nil},
	}
}

// Register binds name to f. A name that is already bound fails with a
// *DuplicateTypeError and leaves the existing binding untouched.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("component type name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("component type %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, exists := r.ids[name]; exists {
		return &DuplicateTypeError{Type: name}
	}

	id := TypeID(len(r.factories))
	r.ids[name] = id
	r.names = append(r.names, name)
	r.factories = append(r.factories, f)
	return nil
}

// RegisterModules lets each module register its types, stopping at the
// first failure.
func (r *Registry) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.Register(r); err != nil {
			return fmt.Errorf("module %T: %w", m, err)
		}
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// guard locks the registry until it is frozen; afterwards the tables never
// change and reads need no lock.
func (r *Registry) guard() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Lookup returns the handle interned for name.
func (r *Registry) Lookup(name string) (TypeID, bool) {
	defer r.guard()()
	id, ok := r.ids[name]
	return id, ok
}

// Name returns the type name of id, or "" for an unknown handle.
func (r *Registry) Name(id TypeID) string {
	defer r.guard()()
	if int(id) >= len(r.names) {
		return ""
	}
	return r.names[id]
}

// Factory returns the factory of a handle obtained from Lookup.
func (r *Registry) Factory(id TypeID) (Factory, error) {
	defer r.guard()()
	if id == NoType || int(id) >= len(r.factories) {
		return nil, &UnknownTypeError{Type: fmt.Sprintf("#%d", id)}
	}
	return r.factories[id], nil
}

// Resolve returns the factory bound to name.
func (r *Registry) Resolve(name string) (Factory, error) {
	defer r.guard()()
	id, ok := r.ids[name]
	if !ok {
		return nil, &UnknownTypeError{Type: name}
	}
	return r.factories[id], nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	defer r.guard()()
	out := make([]string, 0, len(r.ids))
	for name := range r.ids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
