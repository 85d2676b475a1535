package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
	"github.com/relgo/dbkernel/internal/storage/pager"
)

// staticOperator replays a fixed list of tuples, for feeding Insert/Delete
// without a backing heap file.
type staticOperator struct {
	desc  *storage.TupleDesc
	rows  []*storage.Tuple
	pos   int
}

func (s *staticOperator) Open() error              { s.pos = 0; return nil }
func (s *staticOperator) HasNext() (bool, error)    { return s.pos < len(s.rows), nil }
func (s *staticOperator) Next() (*storage.Tuple, error) {
	t := s.rows[s.pos]
	s.pos++
	return t, nil
}
func (s *staticOperator) Close() error              { return nil }
func (s *staticOperator) Rewind() error              { s.pos = 0; return nil }
func (s *staticOperator) GetTupleDesc() *storage.TupleDesc { return s.desc }

func TestInsertOperatorCountsAndWritesRows(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	p.CreateFile("emp")
	hf := pager.NewHeapFile(p, "emp", desc)

	tid, _ := p.BeginTx()
	src := &staticOperator{desc: desc, rows: []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
	}}
	ins := NewInsert(tid, src, hf)
	if err := ins.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, ins)
	ins.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 1 {
		t.Fatalf("expected a single count tuple, got %d", len(got))
	}
	if n := got[0].Fields[0].(storage.IntField).Value; n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}

	tid2, _ := p.BeginTx()
	scan := NewSeqScan(tid2, hf)
	scan.Open()
	rows := drain(t, scan)
	scan.Close()
	p.TransactionComplete(tid2, true)
	if len(rows) != 2 {
		t.Fatalf("expected 2 persisted rows, got %d", len(rows))
	}
}

func TestDeleteOperatorRemovesRows(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
	})

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	scan.Open()
	toDelete := drain(t, scan)
	scan.Close()

	del := NewDelete(tid, &staticOperator{desc: desc, rows: toDelete[:1]}, hf)
	if err := del.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, del)
	del.Close()
	p.TransactionComplete(tid, true)

	if n := got[0].Fields[0].(storage.IntField).Value; n != 1 {
		t.Fatalf("expected delete count 1, got %d", n)
	}

	tid2, _ := p.BeginTx()
	scan2 := NewSeqScan(tid2, hf)
	scan2.Open()
	remaining := drain(t, scan2)
	scan2.Close()
	p.TransactionComplete(tid2, true)
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining row, got %d", len(remaining))
	}
}

func TestInsertRewindFails(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	p.CreateFile("emp")
	hf := pager.NewHeapFile(p, "emp", desc)
	tid, _ := p.BeginTx()
	ins := NewInsert(tid, &staticOperator{desc: desc}, hf)
	ins.Open()
	if err := ins.Rewind(); err == nil {
		t.Fatalf("expected Insert.Rewind to fail")
	}
	p.TransactionComplete(tid, true)
}
