package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atomdb/atomdb/atomdb"
)

// MemoryStorage implements atomdb.SharedStorage entirely in process
// memory. Atom records still round-trip through JSON so the wire format
// is exercised exactly as it would be against a durable backend.
type MemoryStorage struct {
	logger *zap.Logger

	mu        sync.RWMutex
	sessionID uuid.UUID
	offset    uint64
	atoms     map[atomdb.AtomPointer][]byte
	blobs     map[atomdb.AtomPointer][]byte
	root      atomdb.AtomPointer
	closed    bool

	rootLock chan struct{}
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	o := applyOptions(opts)
	return &MemoryStorage{
		logger:    o.logger,
		sessionID: uuid.New(),
		atoms:     make(map[atomdb.AtomPointer][]byte),
		blobs:     make(map[atomdb.AtomPointer][]byte),
		rootLock:  make(chan struct{}, 1),
	}
}

func (s *MemoryStorage) nextPointerLocked() atomdb.AtomPointer {
	pointer := atomdb.NewAtomPointer(s.sessionID, s.offset)
	s.offset++
	return pointer
}

// PushAtom implements atomdb.SharedStorage.
func (s *MemoryStorage) PushAtom(atom map[string]interface{}) *atomdb.Future[atomdb.AtomPointer] {
	payload, err := json.Marshal(atom)
	if err != nil {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("failed to encode atom: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("storage is closed"))
	}
	pointer := s.nextPointerLocked()
	s.atoms[pointer] = payload
	return atomdb.ResolvedFuture(pointer)
}

// GetAtom implements atomdb.SharedStorage.
func (s *MemoryStorage) GetAtom(pointer atomdb.AtomPointer) *atomdb.Future[map[string]interface{}] {
	s.mu.RLock()
	payload, ok := s.atoms[pointer]
	s.mu.RUnlock()

	if !ok {
		return atomdb.FailedFuture[map[string]interface{}](
			atomdb.NewCorruptionError("no atom record at %s", pointer))
	}
	var atom map[string]interface{}
	if err := json.Unmarshal(payload, &atom); err != nil {
		return atomdb.FailedFuture[map[string]interface{}](
			atomdb.NewCorruptionError("unreadable atom record at %s: %v", pointer, err))
	}
	return atomdb.ResolvedFuture(atom)
}

// PushBytes implements atomdb.SharedStorage.
func (s *MemoryStorage) PushBytes(data []byte) *atomdb.Future[atomdb.AtomPointer] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("storage is closed"))
	}
	pointer := s.nextPointerLocked()
	s.blobs[pointer] = data
	return atomdb.ResolvedFuture(pointer)
}

// GetBytes implements atomdb.SharedStorage.
func (s *MemoryStorage) GetBytes(pointer atomdb.AtomPointer) *atomdb.Future[[]byte] {
	s.mu.RLock()
	data, ok := s.blobs[pointer]
	s.mu.RUnlock()

	if !ok {
		return atomdb.FailedFuture[[]byte](atomdb.NewCorruptionError("no blob record at %s", pointer))
	}
	return atomdb.ResolvedFuture(data)
}

// ReadCurrentRoot implements atomdb.SharedStorage.
func (s *MemoryStorage) ReadCurrentRoot() (atomdb.AtomPointer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, nil
}

// ReadLockCurrentRoot implements atomdb.SharedStorage.
func (s *MemoryStorage) ReadLockCurrentRoot() (atomdb.AtomPointer, error) {
	s.rootLock <- struct{}{}
	return s.ReadCurrentRoot()
}

// SetCurrentRoot implements atomdb.SharedStorage.
func (s *MemoryStorage) SetCurrentRoot(pointer atomdb.AtomPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = pointer
	return nil
}

// UnlockCurrentRoot implements atomdb.SharedStorage.
func (s *MemoryStorage) UnlockCurrentRoot() error {
	select {
	case <-s.rootLock:
		return nil
	default:
		return atomdb.NewValidationError("root is not locked")
	}
}

// FlushWAL implements atomdb.SharedStorage. Memory has no durability to
// force; this exists so the commit protocol is identical across backends.
func (s *MemoryStorage) FlushWAL() error { return nil }

// Close implements atomdb.SharedStorage.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
