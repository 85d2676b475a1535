package pager

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func intStringDesc() *storage.TupleDesc {
	return &storage.TupleDesc{Fields: []storage.FieldDesc{
		{Name: "id", Type: storage.TypeInt},
		{Name: "name", Type: storage.TypeString, Width: 16},
	}}
}

func newTuple(desc *storage.TupleDesc, id int64, name string) *storage.Tuple {
	return &storage.Tuple{Desc: desc, Fields: []storage.Field{
		storage.IntField{Value: id},
		storage.StringField{Value: name, Width: 16},
	}}
}

func TestHeapFileInsertIterateDelete(t *testing.T) {
	p := openTestPager(t)
	p.CreateFile("people")
	desc := intStringDesc()
	hf := NewHeapFile(p, "people", desc)

	tid, _ := p.BeginTx()
	for i := int64(0); i < 50; i++ {
		if err := hf.InsertTuple(tid, newTuple(desc, i, "row")); err != nil {
			t.Fatalf("InsertTuple(%d): %v", i, err)
		}
	}
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	next, closeFn, err := hf.Iterator(tid2)
	if err != nil {
		t.Fatalf("Iterator: %v", err)
	}
	seen := make(map[int64]bool)
	var firstRid storage.RecordID
	for {
		tup, err := next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if tup == nil {
			break
		}
		id := tup.Fields[0].(storage.IntField).Value
		seen[id] = true
		if id == 0 {
			firstRid = tup.Rid
		}
	}
	closeFn()
	if len(seen) != 50 {
		t.Fatalf("expected 50 distinct tuples, saw %d", len(seen))
	}
	p.TransactionComplete(tid2, true)

	tid3, _ := p.BeginTx()
	if err := hf.DeleteTuple(tid3, firstRid); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	p.TransactionComplete(tid3, true)

	tid4, _ := p.BeginTx()
	next4, close4, _ := hf.Iterator(tid4)
	count := 0
	for {
		tup, err := next4()
		if err != nil {
			t.Fatalf("next4: %v", err)
		}
		if tup == nil {
			break
		}
		if tup.Fields[0].(storage.IntField).Value == 0 {
			t.Fatalf("deleted tuple still visible")
		}
		count++
	}
	close4()
	if count != 49 {
		t.Fatalf("expected 49 tuples after delete, got %d", count)
	}
	p.TransactionComplete(tid4, true)
}

func TestHeapFileDeleteAlreadyEmptySlotFails(t *testing.T) {
	p := openTestPager(t)
	p.CreateFile("people")
	desc := intStringDesc()
	hf := NewHeapFile(p, "people", desc)

	tid, _ := p.BeginTx()
	hf.InsertTuple(tid, newTuple(desc, 1, "a"))
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	rid := storage.RecordID{PageID: 1, Slot: 0}
	if err := hf.DeleteTuple(tid2, rid); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := hf.DeleteTuple(tid2, rid); err == nil {
		t.Fatalf("expected error deleting an already-empty slot")
	}
	p.TransactionComplete(tid2, true)
}
