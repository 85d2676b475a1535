package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func deptDesc() *storage.TupleDesc {
	return &storage.TupleDesc{Fields: []storage.FieldDesc{
		{Name: "id", Type: storage.TypeInt},
		{Name: "name", Type: storage.TypeString, Width: 16},
	}}
}

func dept(id int64, name string) *storage.Tuple {
	d := deptDesc()
	return &storage.Tuple{Desc: d, Fields: []storage.Field{
		storage.IntField{Value: id},
		storage.StringField{Value: name, Width: 16},
	}}
}

func TestJoinEqualityNestedLoop(t *testing.T) {
	p := openTestPager(t)
	empDesc := employeeDesc()
	empHF := newPopulatedHeap(t, p, "emp", empDesc, []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
		employee(3, 10, "carol"),
	})
	deptHF := newPopulatedHeap(t, p, "dept", deptDesc(), []*storage.Tuple{
		dept(10, "eng"),
		dept(20, "sales"),
	})

	tid, _ := p.BeginTx()
	outer := NewSeqScan(tid, empHF)
	inner := NewSeqScan(tid, deptHF)
	join := NewJoin(outer, inner, 1, storage.OpEquals, 0)
	if err := join.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, join)
	join.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 3 {
		t.Fatalf("expected 3 joined rows, got %d", len(got))
	}
	if join.GetTupleDesc().NumFields() != 5 {
		t.Fatalf("expected concatenated desc with 5 fields, got %d", join.GetTupleDesc().NumFields())
	}
	for _, tup := range got {
		empDept := tup.Fields[1].(storage.IntField).Value
		joinedDeptID := tup.Fields[3].(storage.IntField).Value
		if empDept != joinedDeptID {
			t.Fatalf("joined row has mismatched dept ids: %v", tup)
		}
	}
}

func TestJoinNoMatchesYieldsNothing(t *testing.T) {
	p := openTestPager(t)
	empDesc := employeeDesc()
	empHF := newPopulatedHeap(t, p, "emp", empDesc, []*storage.Tuple{
		employee(1, 99, "ghost"),
	})
	deptHF := newPopulatedHeap(t, p, "dept", deptDesc(), []*storage.Tuple{
		dept(10, "eng"),
	})

	tid, _ := p.BeginTx()
	join := NewJoin(NewSeqScan(tid, empHF), NewSeqScan(tid, deptHF), 1, storage.OpEquals, 0)
	join.Open()
	got := drain(t, join)
	join.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 0 {
		t.Fatalf("expected no joined rows, got %d", len(got))
	}
}
