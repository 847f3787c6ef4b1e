package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atomdb/atomdb/atomdb"
)

func newTestWAL(t *testing.T, provider BlockProvider, maxSize int64) *WALStorage {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxWALSize = maxSize
	s, err := NewWALStorage(provider, cfg)
	require.NoError(t, err)
	return s
}

func TestWALAtomReadableBeforeFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestWAL(t, NewMemoryBlockProvider(), 0)
	defer s.Close()

	record := map[string]interface{}{"className": "Literal", "string": "hello"}
	pointer, err := s.PushAtom(record).Result(ctx)
	require.NoError(t, err)

	got, err := s.GetAtom(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", got["string"])
}

func TestWALAtomReadableAfterFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestWAL(t, NewMemoryBlockProvider(), 0)
	defer s.Close()

	record := map[string]interface{}{"className": "Literal", "string": "durable"}
	pointer, err := s.PushAtom(record).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FlushWAL())

	got, err := s.GetAtom(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, "durable", got["string"])
}

func TestWALBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestWAL(t, NewMemoryBlockProvider(), 0)
	defer s.Close()

	pointer, err := s.PushBytes([]byte("blob")).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FlushWAL())

	data, err := s.GetBytes(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), data)
}

func TestWALKindMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newTestWAL(t, NewMemoryBlockProvider(), 0)
	defer s.Close()

	pointer, err := s.PushBytes([]byte("blob")).Result(ctx)
	require.NoError(t, err)

	_, err = s.GetAtom(pointer).Result(ctx)
	require.Error(t, err)
	require.True(t, atomdb.IsCorruption(err))
}

func TestWALSegmentRotation(t *testing.T) {
	ctx := context.Background()
	// Tiny threshold so the first flush rotates.
	s := newTestWAL(t, NewMemoryBlockProvider(), 1)
	defer s.Close()

	first, err := s.PushBytes([]byte("one")).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FlushWAL())

	second, err := s.PushBytes([]byte("two")).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FlushWAL())

	require.NotEqual(t, first.TransactionID, second.TransactionID,
		"records flushed across a rotation should land in different segments")

	// Both segments stay readable.
	data, err := s.GetBytes(first).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), data)
	data, err = s.GetBytes(second).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), data)
}

func TestWALRootLockLifecycle(t *testing.T) {
	s := newTestWAL(t, NewMemoryBlockProvider(), 0)
	defer s.Close()

	pointer, err := s.ReadLockCurrentRoot()
	require.NoError(t, err)
	require.True(t, pointer.IsZero())

	require.NoError(t, s.UnlockCurrentRoot())

	err = s.UnlockCurrentRoot()
	require.Error(t, err)
	require.True(t, atomdb.IsValidation(err))
}

func TestWALFileBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	provider, err := NewFileBlockProvider(dir)
	require.NoError(t, err)
	s := newTestWAL(t, provider, 0)

	record := map[string]interface{}{"className": "Literal", "string": "persisted"}
	pointer, err := s.PushAtom(record).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentRoot(pointer))
	require.NoError(t, s.FlushWAL())
	require.NoError(t, s.Close())

	provider2, err := NewFileBlockProvider(dir)
	require.NoError(t, err)
	s2 := newTestWAL(t, provider2, 0)
	defer s2.Close()

	root, err := s2.ReadCurrentRoot()
	require.NoError(t, err)
	require.Equal(t, pointer, root)

	got, err := s2.GetAtom(root).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, "persisted", got["string"])
}

func TestWALCloseFlushesBuffer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	provider, err := NewFileBlockProvider(dir)
	require.NoError(t, err)
	s := newTestWAL(t, provider, 0)

	pointer, err := s.PushBytes([]byte("unflushed")).Result(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	provider2, err := NewFileBlockProvider(dir)
	require.NoError(t, err)
	s2 := newTestWAL(t, provider2, 0)
	defer s2.Close()

	data, err := s2.GetBytes(pointer).Result(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("unflushed"), data)
}
