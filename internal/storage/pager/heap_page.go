package pager

import (
	"fmt"

	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Heap page
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (§3, §6):
//
//	[0:32]            Common PageHeader
//	[32:32+bitmapLen] Slot-occupancy bitmap, LSB-first: slot 0 is bit 0 of
//	                  byte 0, bitmapLen = ceil(N/8)
//	[32+bitmapLen:]   N fixed-width tuple bodies, zero-filled when empty
//
// N = floor(((P-32)*8) / (tupleSize*8 + 1)) — the largest slot count for
// which the bitmap plus N tuple bodies still fit in the P-32 bytes after
// the common header.

// HeapPage wraps a raw page buffer as a heap-file data page for a fixed
// TupleDesc.
type HeapPage struct {
	buf        []byte
	desc       *storage.TupleDesc
	tupleSize  int
	numSlots   int
	bitmapOff  int
	bitmapLen  int
	bodyOff    int
}

// NumSlotsForPage returns N, the slot capacity of a page of pageSize bytes
// holding tuples of tupleSize bytes each.
func NumSlotsForPage(pageSize, tupleSize int) int {
	avail := (pageSize - PageHeaderSize) * 8
	perSlot := tupleSize*8 + 1
	if perSlot <= 0 {
		return 0
	}
	return avail / perSlot
}

func bitmapBytes(numSlots int) int {
	return (numSlots + 7) / 8
}

// InitHeapPage initializes buf as an empty heap page for desc.
func InitHeapPage(buf []byte, id PageID, desc *storage.TupleDesc) *HeapPage {
	h := &PageHeader{Type: PageTypeHeap, ID: id}
	MarshalHeader(h, buf)

	tupleSize := desc.TupleSize()
	numSlots := NumSlotsForPage(len(buf), tupleSize)
	bitmapLen := bitmapBytes(numSlots)

	hp := &HeapPage{
		buf:       buf,
		desc:      desc,
		tupleSize: tupleSize,
		numSlots:  numSlots,
		bitmapOff: PageHeaderSize,
		bitmapLen: bitmapLen,
		bodyOff:   PageHeaderSize + bitmapLen,
	}
	for i := hp.bitmapOff; i < hp.bitmapOff+hp.bitmapLen; i++ {
		buf[i] = 0
	}
	return hp
}

// WrapHeapPage wraps an existing heap page buffer for desc.
func WrapHeapPage(buf []byte, desc *storage.TupleDesc) *HeapPage {
	tupleSize := desc.TupleSize()
	numSlots := NumSlotsForPage(len(buf), tupleSize)
	bitmapLen := bitmapBytes(numSlots)
	return &HeapPage{
		buf:       buf,
		desc:      desc,
		tupleSize: tupleSize,
		numSlots:  numSlots,
		bitmapOff: PageHeaderSize,
		bitmapLen: bitmapLen,
		bodyOff:   PageHeaderSize + bitmapLen,
	}
}

// NumSlots returns N for this page.
func (hp *HeapPage) NumSlots() int { return hp.numSlots }

// PageID returns the id stamped in the page's header.
func (hp *HeapPage) PageID() PageID { return PageIDOf(hp.buf) }

// Bytes returns the underlying buffer.
func (hp *HeapPage) Bytes() []byte { return hp.buf }

// IsOccupied reports whether slot is in use.
func (hp *HeapPage) IsOccupied(slot int) bool {
	byteIdx := hp.bitmapOff + slot/8
	bit := uint(slot % 8)
	return hp.buf[byteIdx]&(1<<bit) != 0
}

func (hp *HeapPage) setOccupied(slot int, occupied bool) {
	byteIdx := hp.bitmapOff + slot/8
	bit := uint(slot % 8)
	if occupied {
		hp.buf[byteIdx] |= 1 << bit
	} else {
		hp.buf[byteIdx] &^= 1 << bit
	}
}

// slotOffset returns the byte offset of slot's tuple body.
func (hp *HeapPage) slotOffset(slot int) int {
	return hp.bodyOff + slot*hp.tupleSize
}

// FirstFreeSlot scans the bitmap in index order and returns the first empty
// slot, or -1 if the page is full.
func (hp *HeapPage) FirstFreeSlot() int {
	for i := 0; i < hp.numSlots; i++ {
		if !hp.IsOccupied(i) {
			return i
		}
	}
	return -1
}

// NumOccupied counts occupied slots.
func (hp *HeapPage) NumOccupied() int {
	n := 0
	for i := 0; i < hp.numSlots; i++ {
		if hp.IsOccupied(i) {
			n++
		}
	}
	return n
}

// InsertTuple occupies the first free slot and writes t's fields into it,
// stamping t's record id. Fails if the page has no free slot (§4.1).
func (hp *HeapPage) InsertTuple(t *storage.Tuple) error {
	slot := hp.FirstFreeSlot()
	if slot < 0 {
		return storage.NewError(storage.KindDbException, "heap page full: no free slot")
	}
	off := hp.slotOffset(slot)
	copy(hp.buf[off:off+hp.tupleSize], t.Encode())
	hp.setOccupied(slot, true)
	t.Rid = storage.RecordID{PageID: hp.PageID(), Slot: slot}
	return nil
}

// DeleteTuple clears the slot referenced by rid. Fails if the record id
// does not reference this page or the slot is already empty (§4.1).
func (hp *HeapPage) DeleteTuple(rid storage.RecordID) error {
	if rid.PageID != hp.PageID() {
		return storage.NewError(storage.KindDbException,
			fmt.Sprintf("record id %s does not reference page %d", rid, hp.PageID()))
	}
	if rid.Slot < 0 || rid.Slot >= hp.numSlots {
		return storage.NewError(storage.KindDbException, fmt.Sprintf("slot %d out of range", rid.Slot))
	}
	if !hp.IsOccupied(rid.Slot) {
		return storage.NewError(storage.KindDbException, fmt.Sprintf("slot %d already empty", rid.Slot))
	}
	off := hp.slotOffset(rid.Slot)
	for i := off; i < off+hp.tupleSize; i++ {
		hp.buf[i] = 0
	}
	hp.setOccupied(rid.Slot, false)
	return nil
}

// GetTuple decodes the tuple at slot, or nil if the slot is empty.
func (hp *HeapPage) GetTuple(slot int) *storage.Tuple {
	if !hp.IsOccupied(slot) {
		return nil
	}
	off := hp.slotOffset(slot)
	t := storage.DecodeTuple(hp.desc, hp.buf[off:off+hp.tupleSize])
	t.Rid = storage.RecordID{PageID: hp.PageID(), Slot: slot}
	return t
}

// Tuples returns every occupied tuple on the page, in slot order.
func (hp *HeapPage) Tuples() []*storage.Tuple {
	var out []*storage.Tuple
	for i := 0; i < hp.numSlots; i++ {
		if hp.IsOccupied(i) {
			out = append(out, hp.GetTuple(i))
		}
	}
	return out
}
