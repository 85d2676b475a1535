package pager

import (
	"encoding/binary"
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func intKey(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func newTestBTree(t *testing.T) (*Pager, *BTreeFile) {
	t.Helper()
	p := openTestPager(t)
	p.CreateFile("idx")
	bt := NewBTreeFile(p, "idx", 8)
	tid, _ := p.BeginTx()
	if err := bt.Create(tid); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.TransactionComplete(tid, true)
	return p, bt
}

func TestBTreeInsertForcesSplitsAndGetFindsEveryKey(t *testing.T) {
	p, bt := newTestBTree(t)

	const n = 400
	tid, _ := p.BeginTx()
	for i := int64(0); i < n; i++ {
		if err := bt.Insert(tid, intKey(i), storage.RecordID{PageID: PageID(i), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	for i := int64(0); i < n; i++ {
		rid, found, err := bt.Get(tid2, intKey(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("key %d missing after insert", i)
		}
		if rid.PageID != PageID(i) {
			t.Fatalf("key %d: expected rid.PageID=%d, got %d", i, i, rid.PageID)
		}
	}
	if _, found, _ := bt.Get(tid2, intKey(n+1)); found {
		t.Fatalf("expected key %d to be absent", n+1)
	}
	p.TransactionComplete(tid2, true)
}

func TestBTreeDuplicateInsertFails(t *testing.T) {
	p, bt := newTestBTree(t)
	tid, _ := p.BeginTx()
	if err := bt.Insert(tid, intKey(1), storage.RecordID{PageID: 1, Slot: 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Insert(tid, intKey(1), storage.RecordID{PageID: 2, Slot: 0}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
	p.TransactionComplete(tid, true)
}

func TestBTreeScanRangeIsSortedAndBounded(t *testing.T) {
	p, bt := newTestBTree(t)

	const n = 300
	tid, _ := p.BeginTx()
	for i := int64(0); i < n; i++ {
		bt.Insert(tid, intKey(i), storage.RecordID{PageID: PageID(i), Slot: 0})
	}
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	var got []int64
	err := bt.ScanRange(tid2, intKey(50), intKey(60), func(k []byte, rid storage.RecordID) bool {
		got = append(got, int64(binary.BigEndian.Uint64(k)))
		return true
	})
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	if len(got) != 11 {
		t.Fatalf("expected 11 keys in [50,60], got %d (%v)", len(got), got)
	}
	for i, v := range got {
		if v != 50+int64(i) {
			t.Fatalf("scan out of order at %d: %d", i, v)
		}
	}
	p.TransactionComplete(tid2, true)
}

func TestBTreeDeleteRebalancesAndRemovesKey(t *testing.T) {
	p, bt := newTestBTree(t)

	const n = 400
	tid, _ := p.BeginTx()
	for i := int64(0); i < n; i++ {
		bt.Insert(tid, intKey(i), storage.RecordID{PageID: PageID(i), Slot: 0})
	}
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	for i := int64(0); i < n; i += 2 {
		ok, err := bt.Delete(tid2, intKey(i))
		if err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Delete(%d): key not found", i)
		}
	}
	p.TransactionComplete(tid2, true)

	tid3, _ := p.BeginTx()
	for i := int64(0); i < n; i++ {
		_, found, err := bt.Get(tid3, intKey(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		wantFound := i%2 == 1
		if found != wantFound {
			t.Fatalf("key %d: found=%v, want %v", i, found, wantFound)
		}
	}
	count, err := bt.Count(tid3)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n/2 {
		t.Fatalf("expected %d surviving keys, got %d", n/2, count)
	}
	p.TransactionComplete(tid3, true)
}

func TestBTreeDeleteMissingKeyReturnsFalse(t *testing.T) {
	p, bt := newTestBTree(t)
	tid, _ := p.BeginTx()
	ok, err := bt.Delete(tid, intKey(42))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Fatalf("expected Delete of absent key to return false")
	}
	p.TransactionComplete(tid, true)
}
