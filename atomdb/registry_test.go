package atomdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateClass(t *testing.T) {
	r := NewRegistry()
	ctor := func(tx Transaction, pointer AtomPointer) Atom { return nil }

	require.NoError(t, r.Register("Widget", ctor))
	err := r.Register("Widget", ctor)
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("Widget"); ok {
		t.Fatal("empty registry should not resolve anything")
	}
	require.NoError(t, r.Register("Widget", func(tx Transaction, pointer AtomPointer) Atom { return nil }))
	if _, ok := r.Lookup("Widget"); !ok {
		t.Fatal("registered class should resolve")
	}
}

func TestDefaultRegistryKnowsCoreClasses(t *testing.T) {
	r := NewDefaultRegistry()
	for _, className := range []string{ClassLiteral, ClassDBObject, ClassBytesAtom} {
		if _, ok := r.Lookup(className); !ok {
			t.Errorf("default registry missing %q", className)
		}
	}
}
