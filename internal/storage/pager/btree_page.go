package pager

import (
	"bytes"
	"encoding/binary"

	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// B+Tree pages
// ───────────────────────────────────────────────────────────────────────────
//
// Index keys and record ids are fixed-width, so entries need no slot
// directory or overflow chain (§3, §6, contrast with the variable-length
// layout a generic key-value store would need): every entry after the
// first is found by simple arithmetic, and insertion/deletion is a memmove
// of the trailing entries.
//
// Leaf page:
//
//	[0:32]   Common PageHeader (Type=BTreeLeaf)
//	[32:36]  ParentID   (uint32 LE)
//	[36:40]  PrevLeaf   (uint32 LE)
//	[40:44]  NextLeaf   (uint32 LE)
//	[44:46]  KeyCount   (uint16 LE)
//	[46:]    KeyCount * (Key[keySize] | PageID[4] | Slot[4]), sorted by key
//
// Internal page:
//
//	[0:32]   Common PageHeader (Type=BTreeInternal)
//	[32:36]  ParentID      (uint32 LE)
//	[36:40]  RightmostChild (uint32 LE)
//	[40:42]  KeyCount      (uint16 LE)
//	[42:]    KeyCount * (Key[keySize] | ChildID[4]), sorted by key
//
// An internal page's i-th child (0-indexed) is reached by keys < entry[i]
// via entry[i].ChildID, and the space at or beyond the last key goes to
// RightmostChild.

const (
	leafParentOff = PageHeaderSize   // 32
	leafPrevOff   = leafParentOff + 4 // 36
	leafNextOff   = leafPrevOff + 4   // 40
	leafCountOff  = leafNextOff + 4   // 44
	leafDataOff   = leafCountOff + 2  // 46

	intParentOff = PageHeaderSize    // 32
	intRightOff  = intParentOff + 4  // 36
	intCountOff  = intRightOff + 4   // 40
	intDataOff   = intCountOff + 2   // 42
)

// LeafEntrySize returns the byte size of one leaf entry for keys of
// keySize bytes.
func LeafEntrySize(keySize int) int { return keySize + 8 }

// InternalEntrySize returns the byte size of one internal entry for keys
// of keySize bytes.
func InternalEntrySize(keySize int) int { return keySize + 4 }

// LeafCapacity returns how many entries fit on one leaf page.
func LeafCapacity(pageSize, keySize int) int {
	return (pageSize - leafDataOff) / LeafEntrySize(keySize)
}

// InternalCapacity returns how many entries fit on one internal page.
func InternalCapacity(pageSize, keySize int) int {
	return (pageSize - intDataOff) / InternalEntrySize(keySize)
}

// BTreeLeafPage wraps a raw buffer as a leaf page for a fixed key width.
type BTreeLeafPage struct {
	buf     []byte
	keySize int
}

// InitBTreeLeafPage formats buf as a brand-new, empty leaf page.
func InitBTreeLeafPage(buf []byte, id PageID, keySize int) *BTreeLeafPage {
	h := &PageHeader{Type: PageTypeBTreeLeaf, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[leafParentOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[leafPrevOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[leafNextOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint16(buf[leafCountOff:], 0)
	return &BTreeLeafPage{buf: buf, keySize: keySize}
}

// WrapBTreeLeafPage wraps an existing leaf page buffer.
func WrapBTreeLeafPage(buf []byte, keySize int) *BTreeLeafPage {
	return &BTreeLeafPage{buf: buf, keySize: keySize}
}

func (lp *BTreeLeafPage) Bytes() []byte  { return lp.buf }
func (lp *BTreeLeafPage) PageID() PageID { return PageIDOf(lp.buf) }

func (lp *BTreeLeafPage) KeyCount() int {
	return int(binary.LittleEndian.Uint16(lp.buf[leafCountOff:]))
}

func (lp *BTreeLeafPage) setKeyCount(n int) {
	binary.LittleEndian.PutUint16(lp.buf[leafCountOff:], uint16(n))
}

func (lp *BTreeLeafPage) Parent() PageID {
	return PageID(binary.LittleEndian.Uint32(lp.buf[leafParentOff:]))
}
func (lp *BTreeLeafPage) SetParent(id PageID) {
	binary.LittleEndian.PutUint32(lp.buf[leafParentOff:], uint32(id))
}
func (lp *BTreeLeafPage) Prev() PageID {
	return PageID(binary.LittleEndian.Uint32(lp.buf[leafPrevOff:]))
}
func (lp *BTreeLeafPage) SetPrev(id PageID) {
	binary.LittleEndian.PutUint32(lp.buf[leafPrevOff:], uint32(id))
}
func (lp *BTreeLeafPage) Next() PageID {
	return PageID(binary.LittleEndian.Uint32(lp.buf[leafNextOff:]))
}
func (lp *BTreeLeafPage) SetNext(id PageID) {
	binary.LittleEndian.PutUint32(lp.buf[leafNextOff:], uint32(id))
}

func (lp *BTreeLeafPage) entrySize() int { return LeafEntrySize(lp.keySize) }
func (lp *BTreeLeafPage) entryOff(i int) int {
	return leafDataOff + i*lp.entrySize()
}

// Key returns the key of the i-th entry.
func (lp *BTreeLeafPage) Key(i int) []byte {
	off := lp.entryOff(i)
	return lp.buf[off : off+lp.keySize]
}

// RID returns the record id of the i-th entry.
func (lp *BTreeLeafPage) RID(i int) storage.RecordID {
	off := lp.entryOff(i) + lp.keySize
	pid := binary.LittleEndian.Uint32(lp.buf[off:])
	slot := binary.LittleEndian.Uint32(lp.buf[off+4:])
	return storage.RecordID{PageID: PageID(pid), Slot: int(slot)}
}

// Find returns the index of key, and whether it was found. When not
// found, the index is where it would be inserted to keep the page sorted.
func (lp *BTreeLeafPage) Find(key []byte) (int, bool) {
	n := lp.KeyCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(lp.Key(mid), key)
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// Full reports whether the page has no room for another entry.
func (lp *BTreeLeafPage) Full() bool {
	return lp.KeyCount() >= LeafCapacity(len(lp.buf), lp.keySize)
}

// Insert places (key, rid) in sorted order. Fails if the page is full.
func (lp *BTreeLeafPage) Insert(key []byte, rid storage.RecordID) error {
	if lp.Full() {
		return storage.NewError(storage.KindDbException, "leaf page full")
	}
	pos, found := lp.Find(key)
	if found {
		return storage.NewError(storage.KindIllegalArgument, "duplicate key")
	}
	n := lp.KeyCount()
	sz := lp.entrySize()
	// Shift entries [pos, n) right by one slot.
	src := lp.buf[lp.entryOff(pos):lp.entryOff(n)]
	dst := lp.buf[lp.entryOff(pos+1) : lp.entryOff(n+1)]
	copy(dst, src)

	off := lp.entryOff(pos)
	copy(lp.buf[off:off+lp.keySize], key)
	binary.LittleEndian.PutUint32(lp.buf[off+lp.keySize:], uint32(rid.PageID))
	binary.LittleEndian.PutUint32(lp.buf[off+lp.keySize+4:], uint32(rid.Slot))
	lp.setKeyCount(n + 1)
	return nil
}

// Delete removes the entry at index pos.
func (lp *BTreeLeafPage) Delete(pos int) {
	n := lp.KeyCount()
	src := lp.buf[lp.entryOff(pos+1):lp.entryOff(n)]
	dst := lp.buf[lp.entryOff(pos):lp.entryOff(n - 1)]
	copy(dst, src)
	lp.setKeyCount(n - 1)
}

// BTreeInternalPage wraps a raw buffer as an internal page.
type BTreeInternalPage struct {
	buf     []byte
	keySize int
}

func InitBTreeInternalPage(buf []byte, id PageID, keySize int) *BTreeInternalPage {
	h := &PageHeader{Type: PageTypeBTreeInternal, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[intParentOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[intRightOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint16(buf[intCountOff:], 0)
	return &BTreeInternalPage{buf: buf, keySize: keySize}
}

func WrapBTreeInternalPage(buf []byte, keySize int) *BTreeInternalPage {
	return &BTreeInternalPage{buf: buf, keySize: keySize}
}

func (ip *BTreeInternalPage) Bytes() []byte  { return ip.buf }
func (ip *BTreeInternalPage) PageID() PageID { return PageIDOf(ip.buf) }

func (ip *BTreeInternalPage) KeyCount() int {
	return int(binary.LittleEndian.Uint16(ip.buf[intCountOff:]))
}
func (ip *BTreeInternalPage) setKeyCount(n int) {
	binary.LittleEndian.PutUint16(ip.buf[intCountOff:], uint16(n))
}

func (ip *BTreeInternalPage) Parent() PageID {
	return PageID(binary.LittleEndian.Uint32(ip.buf[intParentOff:]))
}
func (ip *BTreeInternalPage) SetParent(id PageID) {
	binary.LittleEndian.PutUint32(ip.buf[intParentOff:], uint32(id))
}
func (ip *BTreeInternalPage) Rightmost() PageID {
	return PageID(binary.LittleEndian.Uint32(ip.buf[intRightOff:]))
}
func (ip *BTreeInternalPage) SetRightmost(id PageID) {
	binary.LittleEndian.PutUint32(ip.buf[intRightOff:], uint32(id))
}

func (ip *BTreeInternalPage) entrySize() int { return InternalEntrySize(ip.keySize) }
func (ip *BTreeInternalPage) entryOff(i int) int {
	return intDataOff + i*ip.entrySize()
}

func (ip *BTreeInternalPage) Key(i int) []byte {
	off := ip.entryOff(i)
	return ip.buf[off : off+ip.keySize]
}

func (ip *BTreeInternalPage) Child(i int) PageID {
	off := ip.entryOff(i) + ip.keySize
	return PageID(binary.LittleEndian.Uint32(ip.buf[off:]))
}

func (ip *BTreeInternalPage) setEntry(i int, key []byte, child PageID) {
	off := ip.entryOff(i)
	copy(ip.buf[off:off+ip.keySize], key)
	binary.LittleEndian.PutUint32(ip.buf[off+ip.keySize:], uint32(child))
}

// ChildFor returns the child pointer to follow when searching for key.
func (ip *BTreeInternalPage) ChildFor(key []byte) PageID {
	n := ip.KeyCount()
	for i := 0; i < n; i++ {
		if bytes.Compare(key, ip.Key(i)) < 0 {
			return ip.Child(i)
		}
	}
	return ip.Rightmost()
}

// Full reports whether the page has no room for another entry.
func (ip *BTreeInternalPage) Full() bool {
	return ip.KeyCount() >= InternalCapacity(len(ip.buf), ip.keySize)
}

// Insert places a new (key, leftChild) pair in sorted order; the child
// pointer right of key is whatever occupied that slot before (or
// Rightmost, if key becomes the new last entry) and is fixed up by the
// caller when the split that produced leftChild/rightChild is completed.
func (ip *BTreeInternalPage) Insert(key []byte, leftChild PageID) error {
	if ip.Full() {
		return storage.NewError(storage.KindDbException, "internal page full")
	}
	n := ip.KeyCount()
	pos := n
	for i := 0; i < n; i++ {
		if bytes.Compare(key, ip.Key(i)) < 0 {
			pos = i
			break
		}
	}
	src := ip.buf[ip.entryOff(pos):ip.entryOff(n)]
	dst := ip.buf[ip.entryOff(pos+1) : ip.entryOff(n+1)]
	copy(dst, src)
	ip.setEntry(pos, key, leftChild)
	ip.setKeyCount(n + 1)
	return nil
}

// InsertSeparator inserts key with leftChild at pos, pushing entry pos and
// beyond right by one, and rewires the pointer that used to sit right of
// the split key to rightChild (the entry immediately after pos, or
// Rightmost if pos is now the last entry).
func (ip *BTreeInternalPage) InsertSeparator(key []byte, leftChild, rightChild PageID) error {
	if err := ip.Insert(key, leftChild); err != nil {
		return err
	}
	n := ip.KeyCount()
	pos, found := ip.findKey(key)
	if !found {
		return storage.NewError(storage.KindDbException, "separator vanished after insert")
	}
	if pos+1 < n {
		next := ip.Key(pos + 1)
		ip.setEntry(pos+1, next, rightChild)
	} else {
		ip.SetRightmost(rightChild)
	}
	return nil
}

func (ip *BTreeInternalPage) findKey(key []byte) (int, bool) {
	n := ip.KeyCount()
	for i := 0; i < n; i++ {
		if bytes.Equal(ip.Key(i), key) {
			return i, true
		}
	}
	return 0, false
}

// DeleteAt removes entry i; child(i) is dropped, and child(i+1)'s left
// neighbor becomes whatever preceded entry i.
func (ip *BTreeInternalPage) DeleteAt(i int) {
	n := ip.KeyCount()
	src := ip.buf[ip.entryOff(i+1):ip.entryOff(n)]
	dst := ip.buf[ip.entryOff(i):ip.entryOff(n - 1)]
	copy(dst, src)
	ip.setKeyCount(n - 1)
}

// Entries returns every (key, child) pair on the page, left to right,
// followed implicitly by Rightmost.
func (ip *BTreeInternalPage) Entries() ([][]byte, []PageID) {
	n := ip.KeyCount()
	keys := make([][]byte, n)
	children := make([]PageID, n+1)
	for i := 0; i < n; i++ {
		keys[i] = append([]byte{}, ip.Key(i)...)
		children[i] = ip.Child(i)
	}
	children[n] = ip.Rightmost()
	return keys, children
}
