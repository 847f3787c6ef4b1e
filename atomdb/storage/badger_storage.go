package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atomdb/atomdb/atomdb"
)

const (
	badgerAtomPrefix = "atom:"
	badgerBlobPrefix = "blob:"
	badgerRootKey    = "root"
)

// BadgerStorage implements atomdb.SharedStorage on BadgerDB. Records are
// keyed by their pointer; the append-only discipline of the WAL backends
// becomes write-once keys here.
type BadgerStorage struct {
	db     *badger.DB
	logger *zap.Logger

	sessionID uuid.UUID
	offset    atomic.Uint64

	closeOnce sync.Once
	rootLock  chan struct{}
}

// NewBadgerStorage opens a badger-backed store at cfg.Path.
func NewBadgerStorage(cfg *Config, opts ...Option) (*BadgerStorage, error) {
	o := applyOptions(opts)

	badgerOpts := badger.DefaultOptions(cfg.Path)
	badgerOpts.Logger = nil // badger's own logging is too chatty

	// Tuned for small write-once values read back many times.
	badgerOpts.DetectConflicts = false // pointers are never rewritten
	badgerOpts.ValueThreshold = 1 << 10
	if cfg.MemTableSize > 0 {
		badgerOpts.MemTableSize = cfg.MemTableSize
	}
	if cfg.BlockCacheSize > 0 {
		badgerOpts.BlockCacheSize = cfg.BlockCacheSize
	}
	if cfg.IndexCacheSize > 0 {
		badgerOpts.IndexCacheSize = cfg.IndexCacheSize
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &BadgerStorage{
		db:        db,
		logger:    o.logger,
		sessionID: uuid.New(),
		rootLock:  make(chan struct{}, 1),
	}
	s.logger.Info("badger storage opened", zap.String("path", cfg.Path))
	return s, nil
}

func badgerKey(prefix string, pointer atomdb.AtomPointer) []byte {
	key := make([]byte, 0, len(prefix)+16+8)
	key = append(key, prefix...)
	key = append(key, pointer.TransactionID[:]...)
	var offset [8]byte
	binary.BigEndian.PutUint64(offset[:], pointer.Offset)
	return append(key, offset[:]...)
}

func (s *BadgerStorage) nextPointer() atomdb.AtomPointer {
	return atomdb.NewAtomPointer(s.sessionID, s.offset.Add(1))
}

func (s *BadgerStorage) push(prefix string, payload []byte) *atomdb.Future[atomdb.AtomPointer] {
	pointer := s.nextPointer()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(prefix, pointer), payload)
	})
	if err != nil {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("failed to write record: %w", err))
	}
	return atomdb.ResolvedFuture(pointer)
}

func (s *BadgerStorage) get(prefix string, pointer atomdb.AtomPointer) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(prefix, pointer))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, atomdb.NewCorruptionError("no record at %s", pointer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record at %s: %w", pointer, err)
	}
	return payload, nil
}

// PushAtom implements atomdb.SharedStorage.
func (s *BadgerStorage) PushAtom(atom map[string]interface{}) *atomdb.Future[atomdb.AtomPointer] {
	payload, err := json.Marshal(atom)
	if err != nil {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("failed to encode atom: %w", err))
	}
	return s.push(badgerAtomPrefix, payload)
}

// GetAtom implements atomdb.SharedStorage.
func (s *BadgerStorage) GetAtom(pointer atomdb.AtomPointer) *atomdb.Future[map[string]interface{}] {
	payload, err := s.get(badgerAtomPrefix, pointer)
	if err != nil {
		return atomdb.FailedFuture[map[string]interface{}](err)
	}
	var atom map[string]interface{}
	if err := json.Unmarshal(payload, &atom); err != nil {
		return atomdb.FailedFuture[map[string]interface{}](
			atomdb.NewCorruptionError("unreadable atom record at %s: %v", pointer, err))
	}
	return atomdb.ResolvedFuture(atom)
}

// PushBytes implements atomdb.SharedStorage.
func (s *BadgerStorage) PushBytes(data []byte) *atomdb.Future[atomdb.AtomPointer] {
	return s.push(badgerBlobPrefix, data)
}

// GetBytes implements atomdb.SharedStorage.
func (s *BadgerStorage) GetBytes(pointer atomdb.AtomPointer) *atomdb.Future[[]byte] {
	payload, err := s.get(badgerBlobPrefix, pointer)
	if err != nil {
		return atomdb.FailedFuture[[]byte](err)
	}
	return atomdb.ResolvedFuture(payload)
}

// ReadCurrentRoot implements atomdb.SharedStorage.
func (s *BadgerStorage) ReadCurrentRoot() (atomdb.AtomPointer, error) {
	var pointer atomdb.AtomPointer
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerRootKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			if len(value) != 16+8 {
				return atomdb.NewCorruptionError("malformed root record of %d bytes", len(value))
			}
			id, err := uuid.FromBytes(value[:16])
			if err != nil {
				return atomdb.NewCorruptionError("unreadable root transaction id: %v", err)
			}
			pointer = atomdb.NewAtomPointer(id, binary.BigEndian.Uint64(value[16:]))
			return nil
		})
	})
	if err != nil {
		return atomdb.AtomPointer{}, err
	}
	return pointer, nil
}

// ReadLockCurrentRoot implements atomdb.SharedStorage.
func (s *BadgerStorage) ReadLockCurrentRoot() (atomdb.AtomPointer, error) {
	s.rootLock <- struct{}{}
	pointer, err := s.ReadCurrentRoot()
	if err != nil {
		<-s.rootLock
		return atomdb.AtomPointer{}, err
	}
	return pointer, nil
}

// SetCurrentRoot implements atomdb.SharedStorage.
func (s *BadgerStorage) SetCurrentRoot(pointer atomdb.AtomPointer) error {
	value := make([]byte, 16+8)
	copy(value, pointer.TransactionID[:])
	binary.BigEndian.PutUint64(value[16:], pointer.Offset)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerRootKey), value)
	})
}

// UnlockCurrentRoot implements atomdb.SharedStorage.
func (s *BadgerStorage) UnlockCurrentRoot() error {
	select {
	case <-s.rootLock:
		return nil
	default:
		return atomdb.NewValidationError("root is not locked")
	}
}

// FlushWAL implements atomdb.SharedStorage, forcing badger's own log to
// stable storage.
func (s *BadgerStorage) FlushWAL() error {
	return s.db.Sync()
}

// Close implements atomdb.SharedStorage.
func (s *BadgerStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
		s.logger.Info("badger storage closed")
	})
	return err
}
