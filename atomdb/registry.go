package atomdb

import (
	"sync"
)

// Constructor builds an unloaded atom of one class, bound to tx and
// addressing pointer. The atom materializes its attributes on first Load.
type Constructor func(tx Transaction, pointer AtomPointer) Atom

// Registry maps wire class tags to constructors for polymorphic atom
// reconstruction. It is an explicit value, built once at startup and
// injected into the decode path; there is no ambient global registry.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a class. Registering the same name twice is a validation
// error, mirroring the one-class-one-tag rule of the wire format.
func (r *Registry) Register(className string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[className]; ok {
		return NewValidationError("class %q already registered", className)
	}
	r.ctors[className] = ctor
	return nil
}

// Lookup returns the constructor for className.
func (r *Registry) Lookup(className string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.ctors[className]
	return ctor, ok
}

// NewDefaultRegistry returns a registry with the core atom classes
// registered. Packages layering on top (collections, roots) extend it with
// their own classes.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot collide.
	_ = r.Register(ClassLiteral, func(tx Transaction, pointer AtomPointer) Atom {
		return newUnloadedLiteral(tx, pointer)
	})
	_ = r.Register(ClassDBObject, func(tx Transaction, pointer AtomPointer) Atom {
		return newUnloadedDBObject(tx, pointer)
	})
	_ = r.Register(ClassBytesAtom, func(tx Transaction, pointer AtomPointer) Atom {
		return newUnloadedBytesAtom(tx, pointer)
	})
	return r
}
