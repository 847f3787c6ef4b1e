package atomdb

import (
	"context"
)

const literalAttrString = "string"

// Literal is an interned immutable string atom. Within one database every
// distinct string resolves to a single Literal, so equal strings share one
// pointer and comparisons reduce to pointer equality.
type Literal struct {
	AtomBase
	str string
}

// NewLiteral returns a fresh, unsaved literal. Callers wanting the
// database-wide canonical instance go through Transaction.GetLiteral
// instead.
func NewLiteral(tx Transaction, s string) *Literal {
	l := &Literal{str: s}
	l.InitAtom(l, tx, AtomPointer{})
	return l
}

func newUnloadedLiteral(tx Transaction, pointer AtomPointer) Atom {
	l := &Literal{}
	l.InitAtom(l, tx, pointer)
	return l
}

// ClassName implements Stateful.
func (l *Literal) ClassName() string { return ClassLiteral }

// GetState implements Stateful.
func (l *Literal) GetState() map[string]Value {
	return map[string]Value{literalAttrString: l.str}
}

// SetState implements Stateful.
func (l *Literal) SetState(attrs map[string]Value) error {
	s, ok := attrs[literalAttrString].(string)
	if !ok {
		return NewCorruptionError("literal record is missing its %q attribute", literalAttrString)
	}
	l.str = s
	return nil
}

// Value returns the interned string, loading it on first access.
func (l *Literal) Value(ctx context.Context) (string, error) {
	if err := l.Load(ctx); err != nil {
		return "", err
	}
	return l.str, nil
}

// Equals reports value equality with another loaded literal.
func (l *Literal) Equals(ctx context.Context, other *Literal) (bool, error) {
	if other == nil {
		return false, nil
	}
	if Equal(l, other) {
		return true, nil
	}
	a, err := l.Value(ctx)
	if err != nil {
		return false, err
	}
	b, err := other.Value(ctx)
	if err != nil {
		return false, err
	}
	return a == b, nil
}
