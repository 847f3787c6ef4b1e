package atomdb

import (
	"context"
)

// BytesAtom is an immutable binary blob. Unlike record atoms it bypasses
// the attribute codec entirely: the payload moves through the storage
// blob channel verbatim.
type BytesAtom struct {
	AtomBase
	data []byte
}

// NewBytesAtom returns a fresh, unsaved blob. The caller must not mutate
// data afterwards.
func NewBytesAtom(tx Transaction, data []byte) *BytesAtom {
	b := &BytesAtom{data: data}
	b.InitAtom(b, tx, AtomPointer{})
	return b
}

func newUnloadedBytesAtom(tx Transaction, pointer AtomPointer) Atom {
	b := &BytesAtom{}
	b.InitAtom(b, tx, pointer)
	return b
}

// ClassName implements Stateful.
func (b *BytesAtom) ClassName() string { return ClassBytesAtom }

// GetState implements Stateful.
func (b *BytesAtom) GetState() map[string]Value {
	return map[string]Value{"data": b.data}
}

// SetState implements Stateful.
func (b *BytesAtom) SetState(attrs map[string]Value) error {
	data, ok := attrs["data"].([]byte)
	if !ok {
		return NewCorruptionError("blob record is missing its data payload")
	}
	b.data = data
	return nil
}

// Load implements Atom, fetching the payload through the blob channel.
func (b *BytesAtom) Load(ctx context.Context) error {
	b.mu.Lock()
	if b.loaded {
		b.mu.Unlock()
		return nil
	}
	tx := b.tx
	pointer := b.pointer
	b.mu.Unlock()

	if tx == nil {
		return NewValidationError("cannot load blob at %s without an owning transaction", pointer)
	}
	data, err := tx.Storage().GetBytes(pointer).Result(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.data = data
	b.loaded = true
	b.mu.Unlock()
	return nil
}

func (b *BytesAtom) saveInto(ctx context.Context, _ saveSet) error {
	b.mu.Lock()
	if !b.pointer.IsZero() {
		b.mu.Unlock()
		return nil
	}
	tx := b.tx
	b.mu.Unlock()

	if tx == nil {
		return NewValidationError("blob can only be saved within a transaction")
	}
	pointer, err := tx.Storage().PushBytes(b.data).Result(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.pointer = pointer
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// Bytes returns the payload, loading it on first access.
func (b *BytesAtom) Bytes(ctx context.Context) ([]byte, error) {
	if err := b.Load(ctx); err != nil {
		return nil, err
	}
	return b.data, nil
}
