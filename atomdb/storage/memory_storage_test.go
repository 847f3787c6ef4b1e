package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atomdb/atomdb/atomdb"
)

func TestMemoryStorageAtomRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	defer s.Close()

	record := map[string]interface{}{"className": "Literal", "string": "hello"}
	pointer, err := s.PushAtom(record).Result(ctx)
	require.NoError(t, err)
	require.False(t, pointer.IsZero())

	got, err := s.GetAtom(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", got["string"])
}

func TestMemoryStorageMissingRecordIsCorruption(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	defer s.Close()

	_, err := s.GetAtom(atomdb.NewAtomPointer(uuid.New(), 99)).Result(ctx)
	require.Error(t, err)
	require.True(t, atomdb.IsCorruption(err))
}

func TestMemoryStorageRootPointer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	defer s.Close()

	root, err := s.ReadCurrentRoot()
	require.NoError(t, err)
	require.True(t, root.IsZero())

	pointer, err := s.PushBytes([]byte("x")).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentRoot(pointer))

	root, err = s.ReadCurrentRoot()
	require.NoError(t, err)
	require.Equal(t, pointer, root)
}

func TestMemoryStoragePushAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.Close())

	_, err := s.PushBytes([]byte("x")).Result(ctx)
	require.Error(t, err)
}
