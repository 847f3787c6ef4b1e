package db

import (
	"context"
	"time"

	"github.com/atomdb/atomdb/atomdb"
)

// Reserved keys inside each database's root dictionary.
const (
	keyMutableRoot       = "_mutable_root"
	keyCreationTimestamp = "_creation_timestamp"
)

// RootObject is the top of the whole persisted graph: the committed root
// pointer always addresses one of these. It carries the database catalog
// and the space-wide literal intern table; committing is publishing a new
// RootObject and swinging the root pointer to it.
type RootObject struct {
	atomdb.AtomBase
	objectRoot  *Dictionary
	literalRoot *Dictionary
	createdAt   time.Time
}

const (
	rootAttrObjectRoot  = "object_root"
	rootAttrLiteralRoot = "literal_root"
	rootAttrCreatedAt   = "created_at"
)

func newRootObject(tx atomdb.Transaction, objectRoot, literalRoot *Dictionary) *RootObject {
	r := &RootObject{
		objectRoot:  objectRoot,
		literalRoot: literalRoot,
		createdAt:   time.Now().UTC(),
	}
	r.InitAtom(r, tx, atomdb.AtomPointer{})
	return r
}

func newUnloadedRootObject(tx atomdb.Transaction, pointer atomdb.AtomPointer) atomdb.Atom {
	r := &RootObject{}
	r.InitAtom(r, tx, pointer)
	return r
}

// ClassName implements atomdb.Stateful.
func (r *RootObject) ClassName() string { return ClassRootObject }

// GetState implements atomdb.Stateful.
func (r *RootObject) GetState() map[string]atomdb.Value {
	return map[string]atomdb.Value{
		rootAttrObjectRoot:  r.objectRoot,
		rootAttrLiteralRoot: r.literalRoot,
		rootAttrCreatedAt:   r.createdAt,
	}
}

// SetState implements atomdb.Stateful.
func (r *RootObject) SetState(attrs map[string]atomdb.Value) error {
	objectRoot, ok := attrs[rootAttrObjectRoot].(*Dictionary)
	if !ok {
		return atomdb.NewCorruptionError("root record is missing its object root")
	}
	literalRoot, ok := attrs[rootAttrLiteralRoot].(*Dictionary)
	if !ok {
		return atomdb.NewCorruptionError("root record is missing its literal root")
	}
	createdAt, ok := attrs[rootAttrCreatedAt].(time.Time)
	if !ok {
		return atomdb.NewCorruptionError("root record is missing its creation time")
	}
	r.objectRoot = objectRoot
	r.literalRoot = literalRoot
	r.createdAt = createdAt
	return nil
}

// ObjectRoot returns the database catalog dictionary, loading the root on
// first access.
func (r *RootObject) ObjectRoot(ctx context.Context) (*Dictionary, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r.objectRoot, nil
}

// LiteralRoot returns the literal intern dictionary.
func (r *RootObject) LiteralRoot(ctx context.Context) (*Dictionary, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r.literalRoot, nil
}

// CreatedAt returns the commit time of this root generation.
func (r *RootObject) CreatedAt(ctx context.Context) (time.Time, error) {
	if err := r.Load(ctx); err != nil {
		return time.Time{}, err
	}
	return r.createdAt, nil
}

// NewDefaultRegistry returns a registry with the core and catalog classes
// registered.
func NewDefaultRegistry() *atomdb.Registry {
	r := atomdb.NewDefaultRegistry()
	// Built-in registrations cannot collide.
	_ = r.Register(ClassDictionary, newUnloadedDictionary)
	_ = r.Register(ClassHashDictionary, newUnloadedHashDictionary)
	_ = r.Register(ClassRootObject, newUnloadedRootObject)
	return r
}
