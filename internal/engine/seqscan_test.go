package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func TestSeqScanYieldsEveryRow(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	rows := []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
		employee(3, 10, "carol"),
	}
	hf := newPopulatedHeap(t, p, "emp", desc, rows)

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	if err := scan.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, scan)
	scan.Close()
	p.TransactionComplete(tid, true)

	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
}

func TestSeqScanRewindRestartsIteration(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{employee(1, 10, "alice")})

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	scan.Open()
	first := drain(t, scan)
	if err := scan.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	second := drain(t, scan)
	scan.Close()
	p.TransactionComplete(tid, true)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one row per pass, got %d then %d", len(first), len(second))
	}
}
