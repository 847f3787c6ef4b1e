package atomdb

import (
	"context"
	"strings"

	"github.com/benbjohnson/immutable"
)

// DBObject is an immutable attribute bag. Updates never modify an object
// in place: WithAttribute returns a new object sharing structure with its
// parent, and a saved object's pointer permanently denotes one exact
// state.
type DBObject struct {
	AtomBase
	attrs *immutable.SortedMap[string, Value]
}

// NewDBObject returns a fresh, unsaved object holding attrs. Attribute
// names starting with the reserved prefix are rejected.
func NewDBObject(tx Transaction, attrs map[string]Value) (*DBObject, error) {
	m := immutable.NewSortedMap[string, Value](nil)
	for name, value := range attrs {
		if strings.HasPrefix(name, ReservedAttributePrefix) {
			return nil, NewValidationError("attribute %q uses the reserved prefix %q",
				name, ReservedAttributePrefix)
		}
		m = m.Set(name, value)
	}
	o := &DBObject{attrs: m}
	o.InitAtom(o, tx, AtomPointer{})
	return o, nil
}

func newUnloadedDBObject(tx Transaction, pointer AtomPointer) Atom {
	o := &DBObject{}
	o.InitAtom(o, tx, pointer)
	return o
}

// ClassName implements Stateful.
func (o *DBObject) ClassName() string { return ClassDBObject }

// GetState implements Stateful.
func (o *DBObject) GetState() map[string]Value {
	state := make(map[string]Value, o.attrs.Len())
	itr := o.attrs.Iterator()
	for !itr.Done() {
		name, value, _ := itr.Next()
		state[name] = value
	}
	return state
}

// SetState implements Stateful.
func (o *DBObject) SetState(attrs map[string]Value) error {
	m := immutable.NewSortedMap[string, Value](nil)
	for name, value := range attrs {
		m = m.Set(name, value)
	}
	o.attrs = m
	return nil
}

// Get returns the value of an attribute, loading the object on first
// access. An absent attribute is nil, not an error.
func (o *DBObject) Get(ctx context.Context, name string) (Value, error) {
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	value, _ := o.attrs.Get(name)
	return value, nil
}

// Has reports whether an attribute is present, distinguishing an absent
// attribute from one explicitly set to nil.
func (o *DBObject) Has(ctx context.Context, name string) (bool, error) {
	if err := o.Load(ctx); err != nil {
		return false, err
	}
	_, ok := o.attrs.Get(name)
	return ok, nil
}

// WithAttribute returns a new unsaved object equal to o except for one
// attribute. The receiver is untouched; the two objects share attribute
// map structure.
func (o *DBObject) WithAttribute(ctx context.Context, name string, value Value) (*DBObject, error) {
	if strings.HasPrefix(name, ReservedAttributePrefix) {
		return nil, NewValidationError("attribute %q uses the reserved prefix %q",
			name, ReservedAttributePrefix)
	}
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	child := &DBObject{attrs: o.attrs.Set(name, value)}
	child.InitAtom(child, o.Transaction(), AtomPointer{})
	return child, nil
}

// WithoutAttribute returns a new unsaved object with one attribute
// removed. Removing an absent attribute is a no-op copy.
func (o *DBObject) WithoutAttribute(ctx context.Context, name string) (*DBObject, error) {
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	child := &DBObject{attrs: o.attrs.Delete(name)}
	child.InitAtom(child, o.Transaction(), AtomPointer{})
	return child, nil
}

// AttributeNames returns the attribute names in sorted order.
func (o *DBObject) AttributeNames(ctx context.Context) ([]string, error) {
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, o.attrs.Len())
	itr := o.attrs.Iterator()
	for !itr.Done() {
		name, _, _ := itr.Next()
		names = append(names, name)
	}
	return names, nil
}

// Len returns the number of attributes.
func (o *DBObject) Len(ctx context.Context) (int, error) {
	if err := o.Load(ctx); err != nil {
		return 0, err
	}
	return o.attrs.Len(), nil
}
