package pager

import (
	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Heap file
// ───────────────────────────────────────────────────────────────────────────
//
// A HeapFile is an unordered collection of fixed-width tuples, one FileID
// per table (§4.1, §6). Pages are allocated append-only; a deleted slot's
// bitmap bit is cleared but the page itself is never returned to a free
// list — the next insert that needs space either reuses that page's free
// slot or allocates a new one at the end of the file.

// HeapFile is a table's on-disk tuple store.
type HeapFile struct {
	pager *Pager
	file  FileID
	desc  *storage.TupleDesc
}

// NewHeapFile opens (or creates, if CreateFile was just called) the heap
// file named by file, described by desc.
func NewHeapFile(p *Pager, file FileID, desc *storage.TupleDesc) *HeapFile {
	return &HeapFile{pager: p, file: file, desc: desc}
}

// NumPages returns the number of data pages currently in the file
// (excluding the page-0 file header).
func (hf *HeapFile) NumPages(tid TxID) (int, error) {
	hdr, err := hf.pager.FileHeader(hf.file)
	if err != nil {
		return 0, err
	}
	return int(hdr.NextPageID) - 1, nil
}

// readPage fetches and wraps data page num for reading or writing.
func (hf *HeapFile) readPage(tid TxID, num PageID, perm Permission) (*HeapPage, error) {
	key := PageKey{File: hf.file, Num: num}
	buf, err := hf.pager.GetPage(tid, key, perm)
	if err != nil {
		return nil, err
	}
	return WrapHeapPage(buf, hf.desc), nil
}

// InsertTuple finds a page with a free slot (scanning existing pages, then
// allocating a new one if none has room), writes t into it, and stamps
// t's record id.
func (hf *HeapFile) InsertTuple(tid TxID, t *storage.Tuple) error {
	n, err := hf.NumPages(tid)
	if err != nil {
		return err
	}

	for num := PageID(1); num <= PageID(n); num++ {
		key := PageKey{File: hf.file, Num: num}
		hp, err := hf.readPage(tid, num, ReadWrite)
		if err != nil {
			return err
		}
		if hp.FirstFreeSlot() < 0 {
			hf.pager.UnpinPage(key)
			hf.pager.lockMgr.Release(tid, key)
			continue
		}
		if err := hp.InsertTuple(t); err != nil {
			hf.pager.UnpinPage(key)
			hf.pager.lockMgr.Release(tid, key)
			return err
		}
		err = hf.pager.WritePage(tid, PageKey{File: hf.file, Num: num}, hp.Bytes())
		hf.pager.UnpinPage(PageKey{File: hf.file, Num: num})
		return err
	}

	// No existing page has room — allocate a new one.
	key, buf, err := hf.pager.AllocPage(hf.file)
	if err != nil {
		return err
	}
	hp := InitHeapPage(buf, key.Num, hf.desc)
	if err := hp.InsertTuple(t); err != nil {
		hf.pager.UnpinPage(key)
		return err
	}
	err = hf.pager.WritePage(tid, key, hp.Bytes())
	hf.pager.UnpinPage(key)
	return err
}

// DeleteTuple clears rid's slot on its page.
func (hf *HeapFile) DeleteTuple(tid TxID, rid storage.RecordID) error {
	key := PageKey{File: hf.file, Num: rid.PageID}
	hp, err := hf.readPage(tid, rid.PageID, ReadWrite)
	if err != nil {
		return err
	}
	if err := hp.DeleteTuple(rid); err != nil {
		hf.pager.UnpinPage(key)
		return err
	}
	err = hf.pager.WritePage(tid, key, hp.Bytes())
	hf.pager.UnpinPage(key)
	return err
}

// Iterator scans every live tuple in the file, page by page, in page
// order. The returned function yields (nil, nil) at the end.
func (hf *HeapFile) Iterator(tid TxID) (func() (*storage.Tuple, error), func(), error) {
	n, err := hf.NumPages(tid)
	if err != nil {
		return nil, nil, err
	}

	num := PageID(1)
	var cur *HeapPage
	var curKey PageKey
	var slot int

	advancePage := func() error {
		if cur != nil {
			hf.pager.UnpinPage(curKey)
			cur = nil
		}
		for num <= PageID(n) {
			key := PageKey{File: hf.file, Num: num}
			hp, err := hf.readPage(tid, num, ReadOnly)
			if err != nil {
				return err
			}
			num++
			if hp.NumOccupied() == 0 {
				hf.pager.UnpinPage(key)
				continue
			}
			cur, curKey, slot = hp, key, 0
			return nil
		}
		return nil
	}

	next := func() (*storage.Tuple, error) {
		for {
			if cur == nil {
				if err := advancePage(); err != nil {
					return nil, err
				}
				if cur == nil {
					return nil, nil
				}
			}
			for slot < cur.NumSlots() {
				s := slot
				slot++
				if cur.IsOccupied(s) {
					return cur.GetTuple(s), nil
				}
			}
			hf.pager.UnpinPage(curKey)
			cur = nil
		}
	}

	closeFn := func() {
		if cur != nil {
			hf.pager.UnpinPage(curKey)
			cur = nil
		}
	}
	return next, closeFn, nil
}

// TupleDesc returns the file's row shape.
func (hf *HeapFile) TupleDesc() *storage.TupleDesc { return hf.desc }

// FileID returns the file this heap is stored under.
func (hf *HeapFile) FileID() FileID { return hf.file }
