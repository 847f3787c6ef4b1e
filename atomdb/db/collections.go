package db

import (
	"context"
	"encoding/binary"

	"github.com/benbjohnson/immutable"
	"github.com/google/uuid"

	"github.com/atomdb/atomdb/atomdb"
)

// Wire class tags for the collection atoms.
const (
	ClassDictionary     = "Dictionary"
	ClassHashDictionary = "HashDictionary"
	ClassRootObject     = "RootObject"
)

const (
	collAttrEntries = "entries"
	collAttrCount   = "count"
)

// Dictionary is an immutable string-keyed map atom. Like every atom it is
// copy-on-write: With and Without return new dictionaries sharing
// structure with the receiver. Keys are unrestricted; reserved-prefix
// rules apply to atom attribute names, not to entry keys.
type Dictionary struct {
	atomdb.AtomBase
	entries *immutable.SortedMap[string, atomdb.Value]
}

// NewDictionary returns a fresh, empty, unsaved dictionary.
func NewDictionary(tx atomdb.Transaction) *Dictionary {
	d := &Dictionary{entries: immutable.NewSortedMap[string, atomdb.Value](nil)}
	d.InitAtom(d, tx, atomdb.AtomPointer{})
	return d
}

func newDictionaryWith(tx atomdb.Transaction, entries *immutable.SortedMap[string, atomdb.Value]) *Dictionary {
	d := &Dictionary{entries: entries}
	d.InitAtom(d, tx, atomdb.AtomPointer{})
	return d
}

func newUnloadedDictionary(tx atomdb.Transaction, pointer atomdb.AtomPointer) atomdb.Atom {
	d := &Dictionary{}
	d.InitAtom(d, tx, pointer)
	return d
}

// ClassName implements atomdb.Stateful.
func (d *Dictionary) ClassName() string { return ClassDictionary }

// GetState implements atomdb.Stateful.
func (d *Dictionary) GetState() map[string]atomdb.Value {
	entries := make(map[string]atomdb.Value, d.entries.Len())
	itr := d.entries.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		entries[key] = value
	}
	return map[string]atomdb.Value{
		collAttrEntries: entries,
		collAttrCount:   int64(d.entries.Len()),
	}
}

// SetState implements atomdb.Stateful.
func (d *Dictionary) SetState(attrs map[string]atomdb.Value) error {
	raw, ok := attrs[collAttrEntries].(map[string]atomdb.Value)
	if !ok {
		return atomdb.NewCorruptionError("dictionary record is missing its entries")
	}
	m := immutable.NewSortedMap[string, atomdb.Value](nil)
	for key, value := range raw {
		m = m.Set(key, value)
	}
	d.entries = m
	return nil
}

// Get returns the value stored under key, nil when absent.
func (d *Dictionary) Get(ctx context.Context, key string) (atomdb.Value, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	value, _ := d.entries.Get(key)
	return value, nil
}

// Has reports whether key is present.
func (d *Dictionary) Has(ctx context.Context, key string) (bool, error) {
	if err := d.Load(ctx); err != nil {
		return false, err
	}
	_, ok := d.entries.Get(key)
	return ok, nil
}

// With returns a new unsaved dictionary with key set to value.
func (d *Dictionary) With(ctx context.Context, key string, value atomdb.Value) (*Dictionary, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return newDictionaryWith(d.Transaction(), d.entries.Set(key, value)), nil
}

// Without returns a new unsaved dictionary with key removed.
func (d *Dictionary) Without(ctx context.Context, key string) (*Dictionary, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return newDictionaryWith(d.Transaction(), d.entries.Delete(key)), nil
}

// Keys returns all keys in sorted order.
func (d *Dictionary) Keys(ctx context.Context) ([]string, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0, d.entries.Len())
	itr := d.entries.Iterator()
	for !itr.Done() {
		key, _, _ := itr.Next()
		keys = append(keys, key)
	}
	return keys, nil
}

// Len returns the number of entries.
func (d *Dictionary) Len(ctx context.Context) (int, error) {
	if err := d.Load(ctx); err != nil {
		return 0, err
	}
	return d.entries.Len(), nil
}

// Each calls fn for every entry in key order, stopping early if fn
// returns false.
func (d *Dictionary) Each(ctx context.Context, fn func(key string, value atomdb.Value) (bool, error)) error {
	if err := d.Load(ctx); err != nil {
		return err
	}
	itr := d.entries.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// uuidHasher lets immutable.Map key on UUIDs. The key material is already
// uniformly random, so folding it down is enough.
type uuidHasher struct{}

func (uuidHasher) Hash(key uuid.UUID) uint32 {
	hi := binary.BigEndian.Uint64(key[:8])
	lo := binary.BigEndian.Uint64(key[8:])
	mixed := hi ^ lo
	return uint32(mixed) ^ uint32(mixed>>32)
}

func (uuidHasher) Equal(a, b uuid.UUID) bool { return a == b }

// HashDictionary is an immutable UUID-keyed map atom. It backs the
// mutable-slot table, where slot keys are random UUIDs and ordering is
// irrelevant.
type HashDictionary struct {
	atomdb.AtomBase
	entries *immutable.Map[uuid.UUID, atomdb.Value]
}

// NewHashDictionary returns a fresh, empty, unsaved hash dictionary.
func NewHashDictionary(tx atomdb.Transaction) *HashDictionary {
	h := &HashDictionary{entries: immutable.NewMap[uuid.UUID, atomdb.Value](uuidHasher{})}
	h.InitAtom(h, tx, atomdb.AtomPointer{})
	return h
}

func newHashDictionaryWith(tx atomdb.Transaction, entries *immutable.Map[uuid.UUID, atomdb.Value]) *HashDictionary {
	h := &HashDictionary{entries: entries}
	h.InitAtom(h, tx, atomdb.AtomPointer{})
	return h
}

func newUnloadedHashDictionary(tx atomdb.Transaction, pointer atomdb.AtomPointer) atomdb.Atom {
	h := &HashDictionary{}
	h.InitAtom(h, tx, pointer)
	return h
}

// ClassName implements atomdb.Stateful.
func (h *HashDictionary) ClassName() string { return ClassHashDictionary }

// GetState implements atomdb.Stateful. Keys serialize as their canonical
// string form.
func (h *HashDictionary) GetState() map[string]atomdb.Value {
	entries := make(map[string]atomdb.Value, h.entries.Len())
	itr := h.entries.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		entries[key.String()] = value
	}
	return map[string]atomdb.Value{
		collAttrEntries: entries,
		collAttrCount:   int64(h.entries.Len()),
	}
}

// SetState implements atomdb.Stateful.
func (h *HashDictionary) SetState(attrs map[string]atomdb.Value) error {
	raw, ok := attrs[collAttrEntries].(map[string]atomdb.Value)
	if !ok {
		return atomdb.NewCorruptionError("hash dictionary record is missing its entries")
	}
	m := immutable.NewMap[uuid.UUID, atomdb.Value](uuidHasher{})
	for keyStr, value := range raw {
		key, err := uuid.Parse(keyStr)
		if err != nil {
			return atomdb.NewCorruptionError("unreadable hash dictionary key %q", keyStr)
		}
		m = m.Set(key, value)
	}
	h.entries = m
	return nil
}

// Get returns the value stored under key, with presence.
func (h *HashDictionary) Get(ctx context.Context, key uuid.UUID) (atomdb.Value, bool, error) {
	if err := h.Load(ctx); err != nil {
		return nil, false, err
	}
	value, ok := h.entries.Get(key)
	return value, ok, nil
}

// With returns a new unsaved hash dictionary with key set to value.
func (h *HashDictionary) With(ctx context.Context, key uuid.UUID, value atomdb.Value) (*HashDictionary, error) {
	if err := h.Load(ctx); err != nil {
		return nil, err
	}
	return newHashDictionaryWith(h.Transaction(), h.entries.Set(key, value)), nil
}

// Without returns a new unsaved hash dictionary with key removed.
func (h *HashDictionary) Without(ctx context.Context, key uuid.UUID) (*HashDictionary, error) {
	if err := h.Load(ctx); err != nil {
		return nil, err
	}
	return newHashDictionaryWith(h.Transaction(), h.entries.Delete(key)), nil
}

// Len returns the number of entries.
func (h *HashDictionary) Len(ctx context.Context) (int, error) {
	if err := h.Load(ctx); err != nil {
		return 0, err
	}
	return h.entries.Len(), nil
}

// Each calls fn for every entry, stopping early if fn returns false.
func (h *HashDictionary) Each(ctx context.Context, fn func(key uuid.UUID, value atomdb.Value) (bool, error)) error {
	if err := h.Load(ctx); err != nil {
		return err
	}
	itr := h.entries.Iterator()
	for !itr.Done() {
		key, value, _ := itr.Next()
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
