// Package pager implements the page-oriented storage engine: a shared
// buffer pool, a per-page lock manager, a write-ahead log with rollback and
// ARIES-lite recovery, a heap-file table format, and a B+-tree secondary
// index format.
//
// The storage format consists of one OS file per FileID (a heap file or a
// B+Tree file) with fixed-size pages (default 4 KiB), plus one sequential
// WAL file. The first page of each file is a superblock; subsequent pages
// are typed (heap, B+Tree internal/leaf/header). The tree's root pointer lives in the superblock
// rather than a dedicated page (Superblock.BTreeRoot). Every page carries
// a header with type, page ID, LSN, and CRC32 checksum. Crash recovery
// replays committed WAL transactions and undoes losers from the last
// checkpoint.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size.
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes.
	// Layout:
	//   [0]     PageType  (1 byte)
	//   [1]     Flags     (1 byte)
	//   [2:4]   Reserved  (2 bytes)
	//   [4:8]   PageID    (4 bytes, uint32 LE)
	//   [8:16]  LSN       (8 bytes, uint64 LE)
	//   [16:20] CRC32     (4 bytes, uint32 LE)
	//   [20:32] Reserved  (12 bytes)
	PageHeaderSize = 32
)

// PageID identifies a page within a single file by its 0-based index. The
// canonical type lives in the storage package so engine-level record ids
// (storage.RecordID) share it without importing pager.
type PageID = storage.PageID

// InvalidPageID marks "no page".
const InvalidPageID = storage.InvalidPageID

// LSN is a monotonically increasing Log Sequence Number.
type LSN uint64

// TxID is a transaction identifier, canonically defined in storage.
type TxID = storage.TransactionID

// ───────────────────────────────────────────────────────────────────────────
// Page types
// ───────────────────────────────────────────────────────────────────────────

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeSuperblock PageType = 0x01
	// PageTypeHeap is a heap-file data page: a bitmap header of N slots
	// followed by N fixed-width tuple bodies (§4.1, §6).
	PageTypeHeap PageType = 0x02
	// PageTypeBTreeInternal holds ordered separator keys and child
	// pointers: m keys implies m+1 children.
	PageTypeBTreeInternal PageType = 0x04
	// PageTypeBTreeLeaf holds an ordered tuple array plus sibling and
	// parent pointers.
	PageTypeBTreeLeaf PageType = 0x05
	// PageTypeBTreeHeader holds a bitmap of empty page numbers within the
	// file, threaded as a singly linked list (NextHeader) for reuse (§4.5).
	PageTypeBTreeHeader PageType = 0x06
)

// String returns a human-readable label for the page type.
func (pt PageType) String() string {
	switch pt {
	case PageTypeSuperblock:
		return "Superblock"
	case PageTypeHeap:
		return "Heap"
	case PageTypeBTreeInternal:
		return "BTree-Internal"
	case PageTypeBTreeLeaf:
		return "BTree-Leaf"
	case PageTypeBTreeHeader:
		return "BTree-Header"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Page header
// ───────────────────────────────────────────────────────────────────────────

// PageHeader is the 32-byte header present at the start of every page.
type PageHeader struct {
	Type     PageType // 1 byte
	Flags    uint8    // 1 byte
	Reserved uint16   // 2 bytes
	ID       PageID   // 4 bytes
	LSN      LSN      // 8 bytes
	CRC      uint32   // 4 bytes — CRC32 of the entire page (with CRC field zeroed)
	Pad      [12]byte // reserved for future use
}

// MarshalHeader writes a PageHeader into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
	copy(buf[20:32], h.Pad[:])
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.LSN = LSN(binary.LittleEndian.Uint64(buf[8:16]))
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.Pad[:], buf[20:32])
	return h
}

// PageIDOf returns the page id stamped in buf's common header.
func PageIDOf(buf []byte) PageID {
	return PageID(binary.LittleEndian.Uint32(buf[4:8]))
}

// PageLSN returns the LSN stamped in buf's common header.
func PageLSN(buf []byte) LSN {
	return LSN(binary.LittleEndian.Uint64(buf[8:16]))
}

// SetPageLSN updates only the LSN field of buf's common header; callers
// must call SetPageCRC afterwards to keep the checksum valid.
func SetPageLSN(buf []byte, lsn LSN) {
	binary.LittleEndian.PutUint64(buf[8:16], uint64(lsn))
}

// ───────────────────────────────────────────────────────────────────────────
// CRC helpers
// ───────────────────────────────────────────────────────────────────────────

// crcTable is the CRC32 (Castagnoli) table used throughout.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field (bytes 16..20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])          // header up to CRC field
	h.Write([]byte{0, 0, 0, 0}) // zeroed CRC placeholder
	h.Write(page[20:])          // rest of page
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	c := ComputePageCRC(page)
	binary.LittleEndian.PutUint32(page[16:20], c)
}

// VerifyPageCRC checks the CRC32 checksum of a page.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[4:8]))
		return fmt.Errorf("CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Page helper
// ───────────────────────────────────────────────────────────────────────────

// NewPage allocates a zeroed page buffer at the given size and writes its header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}
