package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func TestFilterFieldConstant(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
		employee(3, 10, "carol"),
	})

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	filter := NewFilter(FieldConstant(1, storage.OpEquals, storage.IntField{Value: 10}), scan)
	if err := filter.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, filter)
	filter.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 2 {
		t.Fatalf("expected 2 rows in dept 10, got %d", len(got))
	}
	for _, tup := range got {
		if tup.Fields[1].(storage.IntField).Value != 10 {
			t.Fatalf("filter let through a non-matching row: %v", tup)
		}
	}
}

func TestFilterFieldField(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 1, "match"),
		employee(2, 20, "nomatch"),
	})

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	filter := NewFilter(FieldField(0, storage.OpEquals, 1), scan)
	filter.Open()
	got := drain(t, filter)
	filter.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 1 {
		t.Fatalf("expected 1 matching row, got %d", len(got))
	}
	if got[0].Fields[2].(storage.StringField).Value != "match" {
		t.Fatalf("unexpected row passed field-field filter: %v", got[0])
	}
}
