package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func TestScanTableStatsComputesCountsAndSelectivity(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 20, "bob"),
		employee(3, 10, "carol"),
		employee(4, 30, "dave"),
	})

	tid, _ := p.BeginTx()
	st, err := ScanTableStats(tid, hf)
	p.TransactionComplete(tid, true)
	if err != nil {
		t.Fatalf("ScanTableStats: %v", err)
	}

	if st.NumTups != 4 {
		t.Fatalf("NumTups: got %d, want 4", st.NumTups)
	}
	if st.NumPages < 1 {
		t.Fatalf("NumPages: got %d, want >= 1", st.NumPages)
	}
	if got := st.IOCost(); got != float64(st.NumPages) {
		t.Fatalf("IOCost: got %v, want %v", got, st.NumPages)
	}

	// id field (index 0) is unique across 1..4.
	if got := st.EstimateSelectivity(0, storage.OpEquals, 1); got < 0.24 || got > 0.26 {
		t.Fatalf("id EQUALS selectivity: got %v, want ~0.25", got)
	}
	// dept field (index 1) has value 10 twice out of 4 rows.
	if got := st.EstimateSelectivity(1, storage.OpEquals, 10); got < 0.49 || got > 0.51 {
		t.Fatalf("dept EQUALS selectivity: got %v, want ~0.5", got)
	}
}

func TestScanTableStatsFallsBackForNonIntegerField(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 10, "alice"),
	})

	tid, _ := p.BeginTx()
	st, err := ScanTableStats(tid, hf)
	p.TransactionComplete(tid, true)
	if err != nil {
		t.Fatalf("ScanTableStats: %v", err)
	}

	// name field (index 2) is a string, not histogrammed: always selectivity 1.
	if got := st.EstimateSelectivity(2, storage.OpEquals, 0); got != 1 {
		t.Fatalf("string field selectivity: got %v, want 1", got)
	}
}
