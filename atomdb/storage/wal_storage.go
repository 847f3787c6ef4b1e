package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atomdb/atomdb/atomdb"
)

// Record framing inside a WAL segment: one kind byte, an 8-byte
// big-endian payload length, then the payload.
const (
	recordKindAtom  = byte('A')
	recordKindBytes = byte('B')

	frameHeaderSize = 1 + 8
)

type pendingRecord struct {
	kind    byte
	payload []byte
}

type appendRequest struct {
	kind    byte
	payload []byte
	future  *atomdb.Future[atomdb.AtomPointer]
}

type flushRequest struct {
	done chan error
}

// WALStorage implements atomdb.SharedStorage on top of a BlockProvider.
// Appends are serialized through a single writer goroutine that assigns
// pointers immediately and buffers frames in memory; FlushWAL pushes the
// buffer to the provider and, for file-backed providers, to stable
// storage. Records not yet flushed are served from an in-memory table so
// a pointer is readable the moment its future resolves.
type WALStorage struct {
	provider BlockProvider
	cfg      *Config
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	requests chan interface{}
	group    errgroup.Group

	rootLock chan struct{}

	pendingMu sync.RWMutex
	pending   map[atomdb.AtomPointer]pendingRecord

	// Writer-goroutine state, untouched outside the run loop.
	segmentID uuid.UUID
	writer    io.WriteCloser
	written   uint64
	buffer    bytes.Buffer
}

// NewWALStorage opens a WAL store over provider. Each session appends to a
// fresh segment; earlier segments remain readable through their pointers.
func NewWALStorage(provider BlockProvider, cfg *Config, opts ...Option) (*WALStorage, error) {
	o := applyOptions(opts)

	segmentID, writer, err := provider.NewSegment()
	if err != nil {
		return nil, fmt.Errorf("failed to start WAL segment: %w", err)
	}

	s := &WALStorage{
		provider:  provider,
		cfg:       cfg,
		logger:    o.logger,
		requests:  make(chan interface{}, 64),
		rootLock:  make(chan struct{}, 1),
		pending:   make(map[atomdb.AtomPointer]pendingRecord),
		segmentID: segmentID,
		writer:    writer,
	}
	s.group.Go(s.run)
	s.logger.Info("wal storage opened", zap.String("segment", segmentID.String()))
	return s, nil
}

func (s *WALStorage) run() error {
	for req := range s.requests {
		switch r := req.(type) {
		case *appendRequest:
			s.appendRecord(r)
		case *flushRequest:
			r.done <- s.flush()
		}
	}
	if err := s.flush(); err != nil {
		return err
	}
	return s.writer.Close()
}

// appendRecord frames the payload into the session buffer and resolves the
// future with the assigned pointer. Offsets are byte positions within the
// active segment, so written bytes plus buffered bytes give the next one.
func (s *WALStorage) appendRecord(r *appendRequest) {
	pointer := atomdb.NewAtomPointer(s.segmentID, s.written+uint64(s.buffer.Len()))

	var header [frameHeaderSize]byte
	header[0] = r.kind
	binary.BigEndian.PutUint64(header[1:], uint64(len(r.payload)))
	s.buffer.Write(header[:])
	s.buffer.Write(r.payload)

	s.pendingMu.Lock()
	s.pending[pointer] = pendingRecord{kind: r.kind, payload: r.payload}
	s.pendingMu.Unlock()

	r.future.Complete(pointer, nil)
}

// flush writes the buffer out, makes it durable, then drops the pending
// table. That order keeps every pointer readable throughout: a reader that
// misses the pending table finds the record already in the provider.
func (s *WALStorage) flush() error {
	if s.buffer.Len() > 0 {
		if _, err := s.writer.Write(s.buffer.Bytes()); err != nil {
			return fmt.Errorf("failed to write WAL buffer: %w", err)
		}
		s.written += uint64(s.buffer.Len())
		s.buffer.Reset()
	}
	if syncer, ok := s.writer.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL segment: %w", err)
		}
	}

	s.pendingMu.Lock()
	s.pending = make(map[atomdb.AtomPointer]pendingRecord)
	s.pendingMu.Unlock()

	if s.cfg.MaxWALSize > 0 && s.written >= uint64(s.cfg.MaxWALSize) {
		return s.rotate()
	}
	return nil
}

func (s *WALStorage) rotate() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close WAL segment: %w", err)
	}
	segmentID, writer, err := s.provider.NewSegment()
	if err != nil {
		return fmt.Errorf("failed to rotate WAL segment: %w", err)
	}
	s.logger.Info("wal segment rotated",
		zap.String("closed", s.segmentID.String()),
		zap.String("opened", segmentID.String()),
		zap.Uint64("bytes", s.written))
	s.segmentID = segmentID
	s.writer = writer
	s.written = 0
	return nil
}

func (s *WALStorage) enqueueAppend(kind byte, payload []byte) *atomdb.Future[atomdb.AtomPointer] {
	future := atomdb.NewFuture[atomdb.AtomPointer]()
	req := &appendRequest{kind: kind, payload: payload, future: future}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("storage is closed"))
	}
	s.requests <- req
	s.mu.Unlock()
	return future
}

// PushAtom implements atomdb.SharedStorage.
func (s *WALStorage) PushAtom(atom map[string]interface{}) *atomdb.Future[atomdb.AtomPointer] {
	payload, err := json.Marshal(atom)
	if err != nil {
		return atomdb.FailedFuture[atomdb.AtomPointer](fmt.Errorf("failed to encode atom: %w", err))
	}
	return s.enqueueAppend(recordKindAtom, payload)
}

// PushBytes implements atomdb.SharedStorage.
func (s *WALStorage) PushBytes(data []byte) *atomdb.Future[atomdb.AtomPointer] {
	return s.enqueueAppend(recordKindBytes, data)
}

// GetAtom implements atomdb.SharedStorage.
func (s *WALStorage) GetAtom(pointer atomdb.AtomPointer) *atomdb.Future[map[string]interface{}] {
	future := atomdb.NewFuture[map[string]interface{}]()
	go func() {
		kind, payload, err := s.readRecord(pointer)
		if err != nil {
			future.Complete(nil, err)
			return
		}
		if kind != recordKindAtom {
			future.Complete(nil, atomdb.NewCorruptionError("record at %s is not an atom", pointer))
			return
		}
		var atom map[string]interface{}
		if err := json.Unmarshal(payload, &atom); err != nil {
			future.Complete(nil, atomdb.NewCorruptionError("unreadable atom record at %s: %v", pointer, err))
			return
		}
		future.Complete(atom, nil)
	}()
	return future
}

// GetBytes implements atomdb.SharedStorage.
func (s *WALStorage) GetBytes(pointer atomdb.AtomPointer) *atomdb.Future[[]byte] {
	future := atomdb.NewFuture[[]byte]()
	go func() {
		kind, payload, err := s.readRecord(pointer)
		if err != nil {
			future.Complete(nil, err)
			return
		}
		if kind != recordKindBytes {
			future.Complete(nil, atomdb.NewCorruptionError("record at %s is not a blob", pointer))
			return
		}
		future.Complete(payload, nil)
	}()
	return future
}

func (s *WALStorage) readRecord(pointer atomdb.AtomPointer) (byte, []byte, error) {
	s.pendingMu.RLock()
	rec, ok := s.pending[pointer]
	s.pendingMu.RUnlock()
	if ok {
		return rec.kind, rec.payload, nil
	}

	reader, err := s.provider.OpenSegment(pointer.TransactionID, pointer.Offset)
	if err != nil {
		return 0, nil, err
	}
	defer reader.Close()

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return 0, nil, atomdb.NewCorruptionError("truncated record header at %s: %v", pointer, err)
	}
	length := binary.BigEndian.Uint64(header[1:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return 0, nil, atomdb.NewCorruptionError("truncated record payload at %s: %v", pointer, err)
	}
	return header[0], payload, nil
}

// ReadCurrentRoot implements atomdb.SharedStorage.
func (s *WALStorage) ReadCurrentRoot() (atomdb.AtomPointer, error) {
	return s.provider.ReadRoot()
}

// ReadLockCurrentRoot implements atomdb.SharedStorage.
func (s *WALStorage) ReadLockCurrentRoot() (atomdb.AtomPointer, error) {
	s.rootLock <- struct{}{}
	pointer, err := s.provider.ReadRoot()
	if err != nil {
		<-s.rootLock
		return atomdb.AtomPointer{}, err
	}
	return pointer, nil
}

// SetCurrentRoot implements atomdb.SharedStorage.
func (s *WALStorage) SetCurrentRoot(pointer atomdb.AtomPointer) error {
	return s.provider.WriteRoot(pointer)
}

// UnlockCurrentRoot implements atomdb.SharedStorage.
func (s *WALStorage) UnlockCurrentRoot() error {
	select {
	case <-s.rootLock:
		return nil
	default:
		return atomdb.NewValidationError("root is not locked")
	}
}

// FlushWAL implements atomdb.SharedStorage.
func (s *WALStorage) FlushWAL() error {
	req := &flushRequest{done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("storage is closed")
	}
	s.requests <- req
	s.mu.Unlock()

	return <-req.done
}

// Close implements atomdb.SharedStorage. Buffered records are flushed
// before the provider is released.
func (s *WALStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.requests)
	s.mu.Unlock()

	err := s.group.Wait()
	if cerr := s.provider.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("wal storage closed")
	return err
}
