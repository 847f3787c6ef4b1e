package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/atomdb/atomdb/atomdb"
)

const rootFileName = "root.json"

// FileBlockProvider stores each segment as an append-only <uuid>.wal file
// under one directory, and the root pointer as a small JSON file replaced
// by atomic rename so a crash never leaves a torn root.
type FileBlockProvider struct {
	dir string
}

// NewFileBlockProvider opens (creating if needed) a storage directory.
func NewFileBlockProvider(dir string) (*FileBlockProvider, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a data directory path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileBlockProvider{dir: dir}, nil
}

func (p *FileBlockProvider) segmentPath(id uuid.UUID) string {
	return filepath.Join(p.dir, id.String()+".wal")
}

// NewSegment implements BlockProvider.
func (p *FileBlockProvider) NewSegment() (uuid.UUID, io.WriteCloser, error) {
	id := uuid.New()
	f, err := os.OpenFile(p.segmentPath(id), os.O_CREATE|os.O_EXCL|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to create segment: %w", err)
	}
	return id, &syncingWriter{f: f}, nil
}

// OpenSegment implements BlockProvider.
func (p *FileBlockProvider) OpenSegment(id uuid.UUID, position uint64) (io.ReadCloser, error) {
	f, err := os.Open(p.segmentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, atomdb.NewCorruptionError("unknown storage segment %s", id)
		}
		return nil, fmt.Errorf("failed to open segment %s: %w", id, err)
	}
	if _, err := f.Seek(int64(position), io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek segment %s: %w", id, err)
	}
	return f, nil
}

type rootRecord struct {
	TransactionID string `json:"transaction_id"`
	Offset        uint64 `json:"offset"`
}

// ReadRoot implements BlockProvider.
func (p *FileBlockProvider) ReadRoot() (atomdb.AtomPointer, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, rootFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return atomdb.AtomPointer{}, nil
		}
		return atomdb.AtomPointer{}, fmt.Errorf("failed to read root pointer: %w", err)
	}

	var rec rootRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return atomdb.AtomPointer{}, atomdb.NewCorruptionError("unreadable root pointer file: %v", err)
	}
	id, err := uuid.Parse(rec.TransactionID)
	if err != nil {
		return atomdb.AtomPointer{}, atomdb.NewCorruptionError("unreadable root transaction id %q", rec.TransactionID)
	}
	return atomdb.NewAtomPointer(id, rec.Offset), nil
}

// WriteRoot implements BlockProvider. The new pointer is written to a
// temporary file, synced, then renamed over the old one.
func (p *FileBlockProvider) WriteRoot(pointer atomdb.AtomPointer) error {
	data, err := json.Marshal(rootRecord{
		TransactionID: pointer.TransactionID.String(),
		Offset:        pointer.Offset,
	})
	if err != nil {
		return fmt.Errorf("failed to encode root pointer: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, "root-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage root pointer: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write root pointer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync root pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close root pointer: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(p.dir, rootFileName)); err != nil {
		return fmt.Errorf("failed to publish root pointer: %w", err)
	}
	return nil
}

// Close implements BlockProvider.
func (p *FileBlockProvider) Close() error { return nil }

// syncingWriter fsyncs on Close so a closed segment is durable.
type syncingWriter struct {
	f *os.File
}

func (w *syncingWriter) Write(data []byte) (int, error) { return w.f.Write(data) }

func (w *syncingWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Sync flushes written data to stable storage without closing.
func (w *syncingWriter) Sync() error { return w.f.Sync() }
