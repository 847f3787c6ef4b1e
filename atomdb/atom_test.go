package atomdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeStorage is a minimal in-memory SharedStorage. Atom records
// round-trip through JSON so the tests see exactly what a real backend
// would hand back.
type fakeStorage struct {
	sessionID uuid.UUID
	offset    uint64
	atoms     map[AtomPointer][]byte
	blobs     map[AtomPointer][]byte
	root      AtomPointer
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		sessionID: uuid.New(),
		atoms:     make(map[AtomPointer][]byte),
		blobs:     make(map[AtomPointer][]byte),
	}
}

func (s *fakeStorage) next() AtomPointer {
	s.offset++
	return NewAtomPointer(s.sessionID, s.offset)
}

func (s *fakeStorage) PushAtom(atom map[string]interface{}) *Future[AtomPointer] {
	payload, err := json.Marshal(atom)
	if err != nil {
		return FailedFuture[AtomPointer](err)
	}
	pointer := s.next()
	s.atoms[pointer] = payload
	return ResolvedFuture(pointer)
}

func (s *fakeStorage) GetAtom(pointer AtomPointer) *Future[map[string]interface{}] {
	payload, ok := s.atoms[pointer]
	if !ok {
		return FailedFuture[map[string]interface{}](NewCorruptionError("no atom at %s", pointer))
	}
	var atom map[string]interface{}
	if err := json.Unmarshal(payload, &atom); err != nil {
		return FailedFuture[map[string]interface{}](err)
	}
	return ResolvedFuture(atom)
}

func (s *fakeStorage) PushBytes(data []byte) *Future[AtomPointer] {
	pointer := s.next()
	s.blobs[pointer] = data
	return ResolvedFuture(pointer)
}

func (s *fakeStorage) GetBytes(pointer AtomPointer) *Future[[]byte] {
	data, ok := s.blobs[pointer]
	if !ok {
		return FailedFuture[[]byte](NewCorruptionError("no blob at %s", pointer))
	}
	return ResolvedFuture(data)
}

func (s *fakeStorage) ReadCurrentRoot() (AtomPointer, error)     { return s.root, nil }
func (s *fakeStorage) ReadLockCurrentRoot() (AtomPointer, error) { return s.root, nil }
func (s *fakeStorage) SetCurrentRoot(pointer AtomPointer) error  { s.root = pointer; return nil }
func (s *fakeStorage) UnlockCurrentRoot() error                  { return nil }
func (s *fakeStorage) FlushWAL() error                           { return nil }
func (s *fakeStorage) Close() error                              { return nil }

// fakeTx is the smallest Transaction that supports the atom lifecycle.
type fakeTx struct {
	storage  *fakeStorage
	registry *Registry
	cache    map[AtomPointer]Atom
	slots    map[uuid.UUID]Atom
}

func newFakeTx(storage *fakeStorage, registry *Registry) *fakeTx {
	return &fakeTx{
		storage:  storage,
		registry: registry,
		cache:    make(map[AtomPointer]Atom),
		slots:    make(map[uuid.UUID]Atom),
	}
}

func (t *fakeTx) ReadObject(className string, pointer AtomPointer) (Atom, error) {
	if atom, ok := t.cache[pointer]; ok {
		return atom, nil
	}
	ctor, ok := t.registry.Lookup(className)
	if !ok {
		return nil, NewValidationError("class %q is not registered", className)
	}
	atom := ctor(t, pointer)
	t.cache[pointer] = atom
	return atom, nil
}

func (t *fakeTx) GetLiteral(ctx context.Context, s string) (*Literal, error) {
	return NewLiteral(t, s), nil
}

func (t *fakeTx) GetMutable(ctx context.Context, key uuid.UUID) (Atom, error) {
	value, ok := t.slots[key]
	if !ok {
		return nil, NewValidationError("unknown mutable %s", key)
	}
	return value, nil
}

func (t *fakeTx) SetMutable(ctx context.Context, key uuid.UUID, value Atom) error {
	t.slots[key] = value
	return nil
}

func (t *fakeTx) SetLockedObject(key uuid.UUID, snapshot Atom) error { return nil }
func (t *fakeTx) Storage() SharedStorage                             { return t.storage }
func (t *fakeTx) Registry() *Registry                                { return t.registry }

func TestDBObjectSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	opened := time.Date(2024, 3, 17, 9, 30, 0, 123456789, time.UTC)
	child, err := NewDBObject(tx, map[string]Value{"kind": "child"})
	require.NoError(t, err)

	obj, err := NewDBObject(tx, map[string]Value{
		"name":     "ada",
		"count":    int64(1) << 62,
		"ratio":    0.25,
		"active":   true,
		"opened":   opened,
		"timeout":  1500 * time.Millisecond,
		"payload":  []byte{0x01, 0x02, 0xff},
		"note":     nil,
		"tags":     map[string]Value{"a": int64(1), "b": "two"},
		"relative": child,
	})
	require.NoError(t, err)
	require.NoError(t, obj.Save(ctx))
	require.False(t, obj.Pointer().IsZero())

	// Fresh transaction, fresh instance.
	tx2 := newFakeTx(storage, NewDefaultRegistry())
	atom, err := tx2.ReadObject(ClassDBObject, obj.Pointer())
	require.NoError(t, err)
	loaded := atom.(*DBObject)

	name, err := loaded.Get(ctx, "name")
	require.NoError(t, err)
	require.Equal(t, "ada", name)

	count, err := loaded.Get(ctx, "count")
	require.NoError(t, err)
	require.Equal(t, int64(1)<<62, count)

	ratio, err := loaded.Get(ctx, "ratio")
	require.NoError(t, err)
	require.Equal(t, 0.25, ratio)

	active, err := loaded.Get(ctx, "active")
	require.NoError(t, err)
	require.Equal(t, true, active)

	got, err := loaded.Get(ctx, "opened")
	require.NoError(t, err)
	require.True(t, opened.Equal(got.(time.Time)))

	timeout, err := loaded.Get(ctx, "timeout")
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, timeout)

	payload, err := loaded.Get(ctx, "payload")
	require.NoError(t, err)
	require.True(t, bytes.Equal([]byte{0x01, 0x02, 0xff}, payload.([]byte)))

	note, err := loaded.Get(ctx, "note")
	require.NoError(t, err)
	require.Nil(t, note)

	tags, err := loaded.Get(ctx, "tags")
	require.NoError(t, err)
	require.Equal(t, map[string]Value{"a": int64(1), "b": "two"}, tags)

	relative, err := loaded.Get(ctx, "relative")
	require.NoError(t, err)
	ref := relative.(*DBObject)
	require.Equal(t, child.Pointer(), ref.Pointer())
	kind, err := ref.Get(ctx, "kind")
	require.NoError(t, err)
	require.Equal(t, "child", kind)
}

func TestAbsentAttributeIsNil(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx(newFakeStorage(), NewDefaultRegistry())

	obj, err := NewDBObject(tx, map[string]Value{"present": int64(1)})
	require.NoError(t, err)

	value, err := obj.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, value)

	has, err := obj.Has(ctx, "missing")
	require.NoError(t, err)
	require.False(t, has)
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	obj, err := NewDBObject(tx, map[string]Value{"x": int64(1)})
	require.NoError(t, err)
	require.NoError(t, obj.Save(ctx))
	pointer := obj.Pointer()
	records := len(storage.atoms)

	require.NoError(t, obj.Save(ctx))
	require.Equal(t, pointer, obj.Pointer())
	require.Equal(t, records, len(storage.atoms))
}

func TestSaveCascadesToUnsavedChildren(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx(newFakeStorage(), NewDefaultRegistry())

	leaf, err := NewDBObject(tx, map[string]Value{"depth": int64(2)})
	require.NoError(t, err)
	mid, err := NewDBObject(tx, map[string]Value{"depth": int64(1), "leaf": leaf})
	require.NoError(t, err)
	top, err := NewDBObject(tx, map[string]Value{"depth": int64(0), "mid": mid})
	require.NoError(t, err)

	require.NoError(t, top.Save(ctx))
	require.False(t, mid.Pointer().IsZero())
	require.False(t, leaf.Pointer().IsZero())
}

// testNode has a settable reference, which DBObject deliberately lacks,
// so it can form reference cycles.
type testNode struct {
	AtomBase
	label string
	next  Atom
}

const classTestNode = "TestNode"

func newTestNode(tx Transaction, label string) *testNode {
	n := &testNode{label: label}
	n.InitAtom(n, tx, AtomPointer{})
	return n
}

func (n *testNode) ClassName() string { return classTestNode }

func (n *testNode) GetState() map[string]Value {
	state := map[string]Value{"label": n.label}
	if n.next != nil {
		state["next"] = n.next
	}
	return state
}

func (n *testNode) SetState(attrs map[string]Value) error {
	n.label, _ = attrs["label"].(string)
	n.next, _ = attrs["next"].(Atom)
	return nil
}

func testNodeRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewDefaultRegistry()
	err := r.Register(classTestNode, func(tx Transaction, pointer AtomPointer) Atom {
		n := &testNode{}
		n.InitAtom(n, tx, pointer)
		return n
	})
	require.NoError(t, err)
	return r
}

func TestSaveRejectsReferenceCycle(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx(newFakeStorage(), testNodeRegistry(t))

	a := newTestNode(tx, "a")
	b := newTestNode(tx, "b")
	a.next = b
	b.next = a

	err := a.Save(ctx)
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestSharedChildSavedOnce(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, testNodeRegistry(t))

	shared := newTestNode(tx, "shared")
	a := newTestNode(tx, "a")
	b := newTestNode(tx, "b")
	a.next = shared
	b.next = shared

	parent, err := NewDBObject(tx, map[string]Value{"a": a, "b": b})
	require.NoError(t, err)
	require.NoError(t, parent.Save(ctx))

	// shared, a, b, parent.
	require.Equal(t, 4, len(storage.atoms))
}

func TestSaveOutsideTransactionFails(t *testing.T) {
	obj := &DBObject{}
	obj.InitAtom(obj, nil, AtomPointer{})

	err := obj.Save(context.Background())
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestLoadClassMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	lit := NewLiteral(tx, "hello")
	require.NoError(t, lit.Save(ctx))

	atom, err := tx.ReadObject(ClassDBObject, lit.Pointer())
	require.NoError(t, err)
	err = atom.Load(ctx)
	require.Error(t, err)
	require.True(t, IsCorruption(err))
}

func TestReservedAttributeNames(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	_, err := NewDBObject(tx, map[string]Value{"_internal": int64(1)})
	require.Error(t, err)
	require.True(t, IsValidation(err))

	obj, err := NewDBObject(tx, map[string]Value{"ok": int64(1)})
	require.NoError(t, err)
	_, err = obj.WithAttribute(ctx, "_internal", int64(2))
	require.Error(t, err)
	require.True(t, IsValidation(err))

	// A reserved name arriving from storage is corruption, not misuse.
	pointer, err := storage.PushAtom(map[string]interface{}{
		"className": ClassDBObject,
		"_secret":   "x",
	}).Result(ctx)
	require.NoError(t, err)
	atom, err := tx.ReadObject(ClassDBObject, pointer)
	require.NoError(t, err)
	err = atom.Load(ctx)
	require.Error(t, err)
	require.True(t, IsCorruption(err))
}

func TestUnknownClassTagIsCorruption(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	pointer, err := storage.PushAtom(map[string]interface{}{
		"className": ClassDBObject,
		"mystery": map[string]interface{}{
			"className":      "NoSuchClass",
			"transaction_id": uuid.New().String(),
			"offset":         1,
		},
	}).Result(ctx)
	require.NoError(t, err)

	atom, err := tx.ReadObject(ClassDBObject, pointer)
	require.NoError(t, err)
	err = atom.Load(ctx)
	require.Error(t, err)
	require.True(t, IsCorruption(err))
}

func TestWithAttributeCopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx(newFakeStorage(), NewDefaultRegistry())

	base, err := NewDBObject(tx, map[string]Value{"n": int64(1)})
	require.NoError(t, err)
	require.NoError(t, base.Save(ctx))

	child, err := base.WithAttribute(ctx, "n", int64(2))
	require.NoError(t, err)
	require.True(t, child.Pointer().IsZero(), "derived object must be unsaved")

	n, err := base.Get(ctx, "n")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = child.Get(ctx, "n")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestBytesAtomRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	blob := NewBytesAtom(tx, []byte("raw payload"))
	require.NoError(t, blob.Save(ctx))

	tx2 := newFakeTx(storage, NewDefaultRegistry())
	atom, err := tx2.ReadObject(ClassBytesAtom, blob.Pointer())
	require.NoError(t, err)
	data, err := atom.(*BytesAtom).Bytes(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("raw payload"), data)
}

func TestLiteralRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	lit := NewLiteral(tx, "interned")
	require.NoError(t, lit.Save(ctx))

	tx2 := newFakeTx(storage, NewDefaultRegistry())
	atom, err := tx2.ReadObject(ClassLiteral, lit.Pointer())
	require.NoError(t, err)
	value, err := atom.(*Literal).Value(ctx)
	require.NoError(t, err)
	require.Equal(t, "interned", value)
}

func TestEqualSemantics(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	a, err := NewDBObject(tx, map[string]Value{"x": int64(1)})
	require.NoError(t, err)
	b, err := NewDBObject(tx, map[string]Value{"x": int64(1)})
	require.NoError(t, err)

	// Unsaved atoms compare by instance.
	require.True(t, Equal(a, a))
	require.False(t, Equal(a, b))

	require.NoError(t, a.Save(ctx))
	tx2 := newFakeTx(storage, NewDefaultRegistry())
	reread, err := tx2.ReadObject(ClassDBObject, a.Pointer())
	require.NoError(t, err)

	// Saved atoms compare by pointer across instances.
	require.True(t, Equal(a, reread))
}

func TestMutableObjectSlotAccess(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx(newFakeStorage(), NewDefaultRegistry())

	value, err := NewDBObject(tx, map[string]Value{"v": int64(1)})
	require.NoError(t, err)

	handle := NewMutableObject(tx)
	require.NoError(t, handle.Set(ctx, value))

	got, err := handle.Get(ctx)
	require.NoError(t, err)
	require.True(t, Equal(value, got))

	// The handle itself never occupies storage.
	require.NoError(t, handle.Save(ctx))
	require.True(t, handle.Pointer().IsZero())
}

func TestMutableReferenceSurvivesSerialization(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	tx := newFakeTx(storage, NewDefaultRegistry())

	handle := NewMutableObject(tx)
	obj, err := NewDBObject(tx, map[string]Value{"slot": handle})
	require.NoError(t, err)
	require.NoError(t, obj.Save(ctx))

	tx2 := newFakeTx(storage, NewDefaultRegistry())
	atom, err := tx2.ReadObject(ClassDBObject, obj.Pointer())
	require.NoError(t, err)
	slot, err := atom.(*DBObject).Get(ctx, "slot")
	require.NoError(t, err)
	require.Equal(t, handle.HashKey(), slot.(*MutableObject).HashKey())
}

func TestPointerHashXorsOffset(t *testing.T) {
	id := uuid.New()
	p1 := NewAtomPointer(id, 1)
	p2 := NewAtomPointer(id, 2)
	if p1.Hash() == p2.Hash() {
		t.Errorf("pointers at different offsets should hash differently: %d", p1.Hash())
	}
	if p1.Hash() != NewAtomPointer(id, 1).Hash() {
		t.Error("hash must be deterministic")
	}
}

func TestPointerString(t *testing.T) {
	id := uuid.New()
	want := fmt.Sprintf("%s@7", id)
	if got := NewAtomPointer(id, 7).String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
