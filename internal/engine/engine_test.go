package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
	"github.com/relgo/dbkernel/internal/storage/pager"
)

func openTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{DataDir: dir, PageSize: pager.DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func employeeDesc() *storage.TupleDesc {
	return &storage.TupleDesc{Fields: []storage.FieldDesc{
		{Name: "id", Type: storage.TypeInt},
		{Name: "dept", Type: storage.TypeInt},
		{Name: "name", Type: storage.TypeString, Width: 16},
	}}
}

func employee(id, dept int64, name string) *storage.Tuple {
	desc := employeeDesc()
	return &storage.Tuple{Desc: desc, Fields: []storage.Field{
		storage.IntField{Value: id},
		storage.IntField{Value: dept},
		storage.StringField{Value: name, Width: 16},
	}}
}

// newPopulatedHeap creates a fresh heap file under fileID and inserts rows.
func newPopulatedHeap(t *testing.T, p *pager.Pager, fileID pager.FileID, desc *storage.TupleDesc, rows []*storage.Tuple) *pager.HeapFile {
	t.Helper()
	if err := p.CreateFile(fileID); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	hf := pager.NewHeapFile(p, fileID, desc)
	tid, _ := p.BeginTx()
	for _, r := range rows {
		if err := hf.InsertTuple(tid, r); err != nil {
			t.Fatalf("InsertTuple: %v", err)
		}
	}
	if err := p.TransactionComplete(tid, true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hf
}

func drain(t *testing.T, op Operator) []*storage.Tuple {
	t.Helper()
	var out []*storage.Tuple
	for {
		ok, err := op.HasNext()
		if err != nil {
			t.Fatalf("HasNext: %v", err)
		}
		if !ok {
			break
		}
		tup, err := op.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, tup)
	}
	return out
}
