package atomdb

import (
	"context"

	"github.com/google/uuid"
)

// SharedStorage is the durable root and atom store consumed by the object
// layer. Push/get operations return futures so the backing store can
// overlap I/O across concurrent callers; the object layer only assumes a
// future eventually resolves.
type SharedStorage interface {
	// PushAtom appends an encoded atom record and resolves to its pointer.
	PushAtom(atom map[string]interface{}) *Future[AtomPointer]

	// GetAtom fetches the encoded record behind pointer.
	GetAtom(pointer AtomPointer) *Future[map[string]interface{}]

	// PushBytes appends a raw blob record and resolves to its pointer.
	PushBytes(data []byte) *Future[AtomPointer]

	// GetBytes fetches the raw blob behind pointer.
	GetBytes(pointer AtomPointer) *Future[[]byte]

	// ReadCurrentRoot returns the committed root pointer. A zero pointer
	// means the store is empty.
	ReadCurrentRoot() (AtomPointer, error)

	// ReadLockCurrentRoot reads the root pointer and holds the root lock
	// until UnlockCurrentRoot, making a root compare-and-swap race-free.
	ReadLockCurrentRoot() (AtomPointer, error)

	// SetCurrentRoot replaces the committed root pointer.
	SetCurrentRoot(pointer AtomPointer) error

	// UnlockCurrentRoot releases the lock taken by ReadLockCurrentRoot.
	UnlockCurrentRoot() error

	// FlushWAL forces durability of everything written before the most
	// recent SetCurrentRoot.
	FlushWAL() error

	// Close tears the store down. No further operations are permitted.
	Close() error
}

// Transaction is the per-unit-of-work context atoms load and save through.
// Implemented by db.ObjectTransaction; defined here so atoms depend only
// on the interface.
type Transaction interface {
	// ReadObject returns an unloaded atom of the given registered class at
	// pointer. Repeated reads of the same pointer within one transaction
	// return the same instance, so identity comparison works.
	ReadObject(className string, pointer AtomPointer) (Atom, error)

	// GetLiteral returns the canonical Literal for s within the owning
	// database, creating and staging a new one when absent.
	GetLiteral(ctx context.Context, s string) (*Literal, error)

	// GetMutable resolves the current snapshot for a mutable slot key.
	GetMutable(ctx context.Context, key uuid.UUID) (Atom, error)

	// SetMutable stages a new snapshot for a mutable slot key.
	SetMutable(ctx context.Context, key uuid.UUID, value Atom) error

	// SetLockedObject registers a snapshot that must still be the committed
	// value of its slot at commit time. First registration wins.
	SetLockedObject(key uuid.UUID, snapshot Atom) error

	// Storage returns the shared storage this transaction operates on.
	Storage() SharedStorage

	// Registry returns the class registry used to reconstruct atoms.
	Registry() *Registry
}
