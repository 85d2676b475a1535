package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// File header — page 0 of every file the pager manages
// ───────────────────────────────────────────────────────────────────────────
//
// The pager multiplexes many files (one heap file per table, one B+Tree
// file per index) through a single buffer pool, lock manager, and log
// (§3). Each file is self-describing: its own page 0 carries this header,
// so the file can be opened, validated, and grown independently of every
// other file the engine has open.
//
// Layout (fits in one page):
//
//	Offset  Size  Field
//	──────  ────  ───────────────────
//	0       32    Common PageHeader (Type=Superblock, ID=0)
//	32      8     Magic            [8]byte "RELGODB\x00"
//	40      4     FormatVersion    uint32 LE
//	44      4     PageSize         uint32 LE
//	48      8     PageCount        uint64 LE  (pages in this file, header included)
//	56      8     FeatureFlags     uint64 LE  (bitmask)
//	64      4     FreeHeaderRoot   uint32 LE  (PageID of this file's free-page header chain, B+Tree files only)
//	68      4     NextPageID       uint32 LE  (next unallocated page number in this file)
//	72      4     BTreeRoot        uint32 LE  (PageID of the root node, B+Tree files only — the
//	                                           "ROOT_PTR" page kind doubles up with this header)
//	76      116   Reserved         [116]byte  (future use — zero-filled)
const (
	SuperblockMagic = "RELGODB\x00"

	CurrentFormatVersion uint32 = 1

	sbMagicOff        = PageHeaderSize        // 32
	sbFormatVerOff    = sbMagicOff + 8        // 40
	sbPageSizeOff     = sbFormatVerOff + 4    // 44
	sbPageCountOff    = sbPageSizeOff + 4     // 48
	sbFeatureFlagsOff = sbPageCountOff + 8    // 56
	sbFreeHeaderOff   = sbFeatureFlagsOff + 8 // 64
	sbNextPageIDOff   = sbFreeHeaderOff + 4   // 68
	sbBTreeRootOff    = sbNextPageIDOff + 4   // 72
)

// FeatureFlag is a bitmask of optional on-disk format features.
type FeatureFlag uint64

const (
	FeatureCompression FeatureFlag = 1 << iota // reserved: page-level compression
	FeatureEncryption                          // reserved: page-level encryption
)

// SupportedFeatures is the set of flags this build understands. Any flag
// outside this set causes the file to be rejected on open.
const SupportedFeatures FeatureFlag = 0

// Superblock holds the parsed contents of a file's page 0.
type Superblock struct {
	FormatVersion  uint32
	PageSize       uint32
	PageCount      uint64
	FeatureFlags   FeatureFlag
	FreeHeaderRoot PageID
	NextPageID     PageID
	BTreeRoot      PageID
}

// MarshalSuperblock serializes sb into a full, CRC-stamped page buffer.
func MarshalSuperblock(sb *Superblock, pageSize int) []byte {
	buf := NewPage(pageSize, PageTypeSuperblock, 0)
	copy(buf[sbMagicOff:sbMagicOff+8], SuperblockMagic)
	binary.LittleEndian.PutUint32(buf[sbFormatVerOff:], sb.FormatVersion)
	binary.LittleEndian.PutUint32(buf[sbPageSizeOff:], sb.PageSize)
	binary.LittleEndian.PutUint64(buf[sbPageCountOff:], sb.PageCount)
	binary.LittleEndian.PutUint64(buf[sbFeatureFlagsOff:], uint64(sb.FeatureFlags))
	binary.LittleEndian.PutUint32(buf[sbFreeHeaderOff:], uint32(sb.FreeHeaderRoot))
	binary.LittleEndian.PutUint32(buf[sbNextPageIDOff:], uint32(sb.NextPageID))
	binary.LittleEndian.PutUint32(buf[sbBTreeRootOff:], uint32(sb.BTreeRoot))
	SetPageCRC(buf)
	return buf
}

// UnmarshalSuperblock decodes page 0 of a file, validating magic, format
// version, feature flags and CRC.
func UnmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("file header too small: %d bytes", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("file header CRC: %w", err)
	}
	magic := string(buf[sbMagicOff : sbMagicOff+8])
	if magic != SuperblockMagic {
		return nil, fmt.Errorf("bad magic %q, expected %q", magic, SuperblockMagic)
	}
	sb := &Superblock{
		FormatVersion:  binary.LittleEndian.Uint32(buf[sbFormatVerOff:]),
		PageSize:       binary.LittleEndian.Uint32(buf[sbPageSizeOff:]),
		PageCount:      binary.LittleEndian.Uint64(buf[sbPageCountOff:]),
		FeatureFlags:   FeatureFlag(binary.LittleEndian.Uint64(buf[sbFeatureFlagsOff:])),
		FreeHeaderRoot: PageID(binary.LittleEndian.Uint32(buf[sbFreeHeaderOff:])),
		NextPageID:     PageID(binary.LittleEndian.Uint32(buf[sbNextPageIDOff:])),
		BTreeRoot:      PageID(binary.LittleEndian.Uint32(buf[sbBTreeRootOff:])),
	}
	if sb.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d (this build supports %d)",
			sb.FormatVersion, CurrentFormatVersion)
	}
	if sb.PageSize < MinPageSize || sb.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size %d out of range [%d..%d]", sb.PageSize, MinPageSize, MaxPageSize)
	}
	if sb.PageSize&(sb.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", sb.PageSize)
	}
	if sb.FeatureFlags & ^SupportedFeatures != 0 {
		return nil, fmt.Errorf("unsupported feature flags: %016x", sb.FeatureFlags)
	}
	return sb, nil
}

// NewSuperblock creates a default file header for a brand-new file.
func NewSuperblock(pageSize uint32) *Superblock {
	return &Superblock{
		FormatVersion:  CurrentFormatVersion,
		PageSize:       pageSize,
		PageCount:      1, // header page only so far
		FreeHeaderRoot: InvalidPageID,
		NextPageID:     1, // page 0 is the header
		BTreeRoot:      InvalidPageID,
	}
}
