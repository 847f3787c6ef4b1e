package atomdb

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AtomPointer is the durable address of a persisted atom: the id of the
// log segment written by the committing transaction plus the byte offset
// of the record inside that segment. A pointer is assigned exactly once,
// when the atom is first pushed to storage, and never changes afterwards.
type AtomPointer struct {
	TransactionID uuid.UUID
	Offset        uint64
}

// NewAtomPointer builds a pointer from a segment id and offset.
func NewAtomPointer(transactionID uuid.UUID, offset uint64) AtomPointer {
	return AtomPointer{TransactionID: transactionID, Offset: offset}
}

// IsZero reports whether the pointer has not been assigned yet.
func (p AtomPointer) IsZero() bool {
	return p.TransactionID == uuid.Nil && p.Offset == 0
}

// Hash folds the pointer into a 64-bit value for map/set membership.
// Not cryptographic.
func (p AtomPointer) Hash() uint64 {
	hi := binary.BigEndian.Uint64(p.TransactionID[0:8])
	lo := binary.BigEndian.Uint64(p.TransactionID[8:16])
	return hi ^ lo ^ p.Offset
}

func (p AtomPointer) String() string {
	return fmt.Sprintf("%s@%d", p.TransactionID, p.Offset)
}
