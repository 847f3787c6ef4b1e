package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomdb/atomdb/atomdb"
)

func newTestBadger(t *testing.T) *BadgerStorage {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = BackendBadger
	cfg.Path = t.TempDir()
	s, err := NewBadgerStorage(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerAtomRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	record := map[string]interface{}{"className": "Literal", "string": "hello"}
	pointer, err := s.PushAtom(record).Result(ctx)
	require.NoError(t, err)

	got, err := s.GetAtom(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", got["string"])
}

func TestBadgerBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	pointer, err := s.PushBytes([]byte{0xde, 0xad}).Result(ctx)
	require.NoError(t, err)

	data, err := s.GetBytes(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad}, data)
}

func TestBadgerAtomAndBlobNamespacesAreSeparate(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	pointer, err := s.PushBytes([]byte("blob")).Result(ctx)
	require.NoError(t, err)

	_, err = s.GetAtom(pointer).Result(ctx)
	require.Error(t, err)
	require.True(t, atomdb.IsCorruption(err))
}

func TestBadgerRootPointer(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

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

func TestBadgerRootLockLifecycle(t *testing.T) {
	s := newTestBadger(t)

	_, err := s.ReadLockCurrentRoot()
	require.NoError(t, err)
	require.NoError(t, s.UnlockCurrentRoot())

	err = s.UnlockCurrentRoot()
	require.Error(t, err)
	require.True(t, atomdb.IsValidation(err))
}
