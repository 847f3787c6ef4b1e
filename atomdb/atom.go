package atomdb

import (
	"context"
	"sync"
)

// Stateful is implemented by every concrete atom kind: it exchanges the
// atom's attribute state as a generic name → Value mapping, which the base
// converts to and from the wire representation.
type Stateful interface {
	// ClassName returns the wire class tag for this atom kind.
	ClassName() string

	// GetState returns the current attribute state.
	GetState() map[string]Value

	// SetState replaces the attribute state from decoded storage data.
	SetState(attrs map[string]Value) error
}

// Atom is the unit of persisted, identity-bearing data. Concrete kinds
// embed AtomBase and implement Stateful; everything else is provided by
// the base.
type Atom interface {
	Stateful

	// Pointer returns the durable address, zero until first saved.
	Pointer() AtomPointer

	// Transaction returns the owning transaction, nil if unbound.
	Transaction() Transaction

	// Bind attaches the atom to tx if it has no owning transaction yet.
	Bind(tx Transaction)

	// Load materializes attributes from storage. Idempotent; a no-op for
	// atoms that were created fresh rather than read from a pointer.
	Load(ctx context.Context) error

	// Save persists the atom and, first, every unsaved atom reachable from
	// its attributes (post-order). Idempotent once a pointer is assigned.
	Save(ctx context.Context) error

	// Hash returns a 64-bit identity hash derived from the pointer.
	Hash() uint64

	saveInto(ctx context.Context, visited saveSet) error
}

// saveSet tracks atoms visited during one save traversal. It makes the
// traversal reentrant and detects true reference cycles among unsaved
// atoms, which are unsupported.
type saveSet map[*AtomBase]struct{}

// AtomBase carries the shared atom lifecycle: lazy load, idempotent save,
// pointer identity. Embed it by value and call InitAtom from the concrete
// constructor.
type AtomBase struct {
	mu      sync.Mutex
	self    Atom
	tx      Transaction
	pointer AtomPointer
	loaded  bool
}

// InitAtom wires the embedded base to its outer atom. A zero pointer marks
// a freshly created atom whose state is already in memory; a non-zero
// pointer marks an unloaded atom addressing persisted state.
func (b *AtomBase) InitAtom(self Atom, tx Transaction, pointer AtomPointer) {
	b.self = self
	b.tx = tx
	b.pointer = pointer
	b.loaded = pointer.IsZero()
}

// Pointer implements Atom.
func (b *AtomBase) Pointer() AtomPointer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointer
}

// Transaction implements Atom.
func (b *AtomBase) Transaction() Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx
}

// Bind implements Atom.
func (b *AtomBase) Bind(tx Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx == nil {
		b.tx = tx
	}
}

// Loaded reports whether attributes are materialized in memory.
func (b *AtomBase) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// Hash implements Atom.
func (b *AtomBase) Hash() uint64 {
	return b.Pointer().Hash()
}

// Load implements Atom.
func (b *AtomBase) Load(ctx context.Context) error {
	b.mu.Lock()
	if b.loaded {
		b.mu.Unlock()
		return nil
	}
	tx := b.tx
	pointer := b.pointer
	b.mu.Unlock()

	if tx == nil {
		return NewValidationError("cannot load %s at %s without an owning transaction",
			b.self.ClassName(), pointer)
	}

	encoded, err := tx.Storage().GetAtom(pointer).Result(ctx)
	if err != nil {
		return err
	}
	attrs, err := decodeAtom(ctx, tx, b.self.ClassName(), encoded)
	if err != nil {
		return err
	}
	if err := b.self.SetState(attrs); err != nil {
		return err
	}

	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// Save implements Atom.
func (b *AtomBase) Save(ctx context.Context) error {
	return b.self.saveInto(ctx, make(saveSet))
}

// saveInto is the generic post-order save. Attribute atoms are saved
// before the parent so the parent's serialized form only references valid
// pointers. An atom revisited while still unsaved means a true reference
// cycle, which has no defined persisted form.
func (b *AtomBase) saveInto(ctx context.Context, visited saveSet) error {
	b.mu.Lock()
	if !b.pointer.IsZero() {
		b.mu.Unlock()
		return nil
	}
	tx := b.tx
	b.mu.Unlock()

	if _, ok := visited[b]; ok {
		return NewValidationError("reference cycle among unsaved atoms at %s",
			b.self.ClassName())
	}
	if tx == nil {
		return NewValidationError("%s can only be saved within a transaction",
			b.self.ClassName())
	}
	visited[b] = struct{}{}

	encoded, err := encodeAtom(ctx, tx, b.self.ClassName(), b.self.GetState(), visited)
	if err != nil {
		return err
	}
	pointer, err := tx.Storage().PushAtom(encoded).Result(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.pointer = pointer
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// Equal reports whether two atoms denote the same persisted state: slot
// key for mutable handles, pointer equality when both are saved, instance
// identity otherwise.
func Equal(a, b Atom) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ma, ok := a.(*MutableObject); ok {
		mb, ok := b.(*MutableObject)
		return ok && ma.HashKey() == mb.HashKey()
	}
	ap, bp := a.Pointer(), b.Pointer()
	if !ap.IsZero() && !bp.IsZero() {
		return ap == bp
	}
	return a == b
}
