package storage

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/atomdb/atomdb/atomdb"
)

// BlockProvider abstracts the byte-level medium WALStorage writes to:
// append-only segments addressed by id, plus a single durable root
// pointer slot.
type BlockProvider interface {
	// NewSegment creates an empty segment and returns its id and an
	// append-only writer. The writer stays open until closed by the
	// caller.
	NewSegment() (uuid.UUID, io.WriteCloser, error)

	// OpenSegment opens a segment for reading at a byte position.
	OpenSegment(id uuid.UUID, position uint64) (io.ReadCloser, error)

	// ReadRoot returns the stored root pointer, zero when none was ever
	// written.
	ReadRoot() (atomdb.AtomPointer, error)

	// WriteRoot durably replaces the stored root pointer.
	WriteRoot(pointer atomdb.AtomPointer) error

	// Close releases provider resources.
	Close() error
}

// MemoryBlockProvider keeps segments in process memory. It exists to
// exercise the WAL framing and recovery paths without touching disk.
type MemoryBlockProvider struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]*bytes.Buffer
	root     atomdb.AtomPointer
}

// NewMemoryBlockProvider returns an empty in-memory provider.
func NewMemoryBlockProvider() *MemoryBlockProvider {
	return &MemoryBlockProvider{segments: make(map[uuid.UUID]*bytes.Buffer)}
}

// NewSegment implements BlockProvider.
func (p *MemoryBlockProvider) NewSegment() (uuid.UUID, io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New()
	buf := &bytes.Buffer{}
	p.segments[id] = buf
	return id, &memorySegmentWriter{provider: p, buf: buf}, nil
}

// OpenSegment implements BlockProvider.
func (p *MemoryBlockProvider) OpenSegment(id uuid.UUID, position uint64) (io.ReadCloser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf, ok := p.segments[id]
	if !ok {
		return nil, atomdb.NewCorruptionError("unknown storage segment %s", id)
	}
	data := buf.Bytes()
	if position > uint64(len(data)) {
		return nil, atomdb.NewCorruptionError("position %d past end of segment %s", position, id)
	}
	return io.NopCloser(bytes.NewReader(data[position:])), nil
}

// ReadRoot implements BlockProvider.
func (p *MemoryBlockProvider) ReadRoot() (atomdb.AtomPointer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root, nil
}

// WriteRoot implements BlockProvider.
func (p *MemoryBlockProvider) WriteRoot(pointer atomdb.AtomPointer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = pointer
	return nil
}

// Close implements BlockProvider.
func (p *MemoryBlockProvider) Close() error { return nil }

type memorySegmentWriter struct {
	provider *MemoryBlockProvider
	buf      *bytes.Buffer
}

func (w *memorySegmentWriter) Write(data []byte) (int, error) {
	w.provider.mu.Lock()
	defer w.provider.mu.Unlock()
	return w.buf.Write(data)
}

func (w *memorySegmentWriter) Close() error { return nil }
