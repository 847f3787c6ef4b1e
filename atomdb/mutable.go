package atomdb

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"
)

// MutableObject is a stable handle over a slot of replaceable immutable
// state. The handle's identity is a random key; its current value lives in
// the committed root's slot table and is resolved through the transaction,
// so the same handle observes different snapshots across transactions.
type MutableObject struct {
	AtomBase
	hashKey uuid.UUID
}

// NewMutableObject returns a handle with a fresh slot key. The slot is
// empty until Set stages a value.
func NewMutableObject(tx Transaction) *MutableObject {
	return mutableFromKey(tx, uuid.New())
}

func mutableFromKey(tx Transaction, key uuid.UUID) *MutableObject {
	m := &MutableObject{hashKey: key}
	m.InitAtom(m, tx, AtomPointer{})
	return m
}

// HashKey returns the slot key.
func (m *MutableObject) HashKey() uuid.UUID { return m.hashKey }

// ClassName implements Stateful.
func (m *MutableObject) ClassName() string { return ClassMutableObject }

// GetState implements Stateful. The handle has no attribute state of its
// own; the slot key travels in its serialized reference form.
func (m *MutableObject) GetState() map[string]Value { return map[string]Value{} }

// SetState implements Stateful.
func (m *MutableObject) SetState(map[string]Value) error { return nil }

// Hash implements Atom. Identity derives from the slot key, not from any
// pointer, so the hash is stable across the handle's whole life.
func (m *MutableObject) Hash() uint64 {
	hi := binary.BigEndian.Uint64(m.hashKey[:8])
	lo := binary.BigEndian.Uint64(m.hashKey[8:])
	return hi ^ lo
}

// Load implements Atom. A handle carries no loadable state.
func (m *MutableObject) Load(context.Context) error { return nil }

// Save implements Atom. Handles persist only as references inside other
// atoms; the slot content is carried by the transaction's commit.
func (m *MutableObject) Save(context.Context) error { return nil }

func (m *MutableObject) saveInto(context.Context, saveSet) error { return nil }

// Get resolves the slot's current snapshot: a staged write from this
// transaction if one exists, otherwise the committed value. The committed
// value read here is registered for the commit-time conflict check.
func (m *MutableObject) Get(ctx context.Context) (Atom, error) {
	tx := m.Transaction()
	if tx == nil {
		return nil, NewValidationError("mutable %s can only be read within a transaction", m.hashKey)
	}
	return tx.GetMutable(ctx, m.hashKey)
}

// Set stages a new snapshot for the slot. Nothing is visible to other
// transactions until commit.
func (m *MutableObject) Set(ctx context.Context, value Atom) error {
	tx := m.Transaction()
	if tx == nil {
		return NewValidationError("mutable %s can only be written within a transaction", m.hashKey)
	}
	return tx.SetMutable(ctx, m.hashKey, value)
}
