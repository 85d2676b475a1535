package storage

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ParseUUID parses a UUID string into uuid.UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// UUIDToBytes returns the 16-byte representation of a uuid.UUID.
func UUIDToBytes(u uuid.UUID) []byte {
	return u[:]
}

// NewInstanceID mints a fresh random 16-byte identifier. Its only caller is
// NewCheckpointID; neither the superblock nor the WAL header stores an
// instance id, so recovery does not check that a log belongs to the
// database files it is paired with.
func NewInstanceID() [16]byte {
	u := uuid.New()
	var out [16]byte
	copy(out[:], u[:])
	return out
}

// NewCheckpointID mints an identifier for a single checkpoint, recorded in
// the CHECKPOINT log record so operators inspecting the log can tell two
// checkpoints apart even if they share a timestamp.
func NewCheckpointID() [16]byte {
	return NewInstanceID()
}

// ───────────────────────────────────────────────────────────────────────────
// Transaction identifiers
// ───────────────────────────────────────────────────────────────────────────

// TransactionID identifies one transaction for the lifetime of the process.
// Zero is never issued and is reserved as "no transaction".
type TransactionID uint64

func (t TransactionID) String() string {
	return "tid:" + itoa(uint64(t))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// TxIDAllocator mints monotonically increasing TransactionIDs. Grounded on
// the same "next id" counter idiom the buffer pool already uses for pages
// and LSNs, rather than minting a fresh uuid per transaction (transactions
// are short-lived and numerous; a uuid per one would be wasteful).
type TxIDAllocator struct {
	next atomic.Uint64
}

// NewTxIDAllocator creates an allocator that starts issuing ids at start
// (or 1, if start is 0 — id 0 is reserved).
func NewTxIDAllocator(start uint64) *TxIDAllocator {
	a := &TxIDAllocator{}
	if start == 0 {
		start = 1
	}
	a.next.Store(start)
	return a
}

// Next returns the next unused TransactionID.
func (a *TxIDAllocator) Next() TransactionID {
	return TransactionID(a.next.Add(1) - 1)
}

// Peek returns the id that will be issued next, without consuming it.
func (a *TxIDAllocator) Peek() uint64 {
	return a.next.Load()
}
