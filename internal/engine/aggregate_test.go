package engine

import (
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
)

func TestAggregateSumGroupBy(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(1, 10, "alice"),
		employee(2, 10, "bob"),
		employee(3, 20, "carol"),
	})

	tid, _ := p.BeginTx()
	scan := NewSeqScan(tid, hf)
	agg := NewAggregate(scan, 0, 1, AggSum)
	if err := agg.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := drain(t, agg)
	agg.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}
	sums := make(map[int64]int64)
	for _, tup := range got {
		group := tup.Fields[0].(storage.IntField).Value
		val := tup.Fields[1].(storage.IntField).Value
		sums[group] = val
	}
	if sums[10] != 3 { // ids 1 + 2
		t.Fatalf("dept 10 sum: got %d, want 3", sums[10])
	}
	if sums[20] != 3 { // id 3
		t.Fatalf("dept 20 sum: got %d, want 3", sums[20])
	}
}

func TestAggregateAvgNoGrouping(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{
		employee(2, 0, "a"),
		employee(4, 0, "b"),
		employee(6, 0, "c"),
	})

	tid, _ := p.BeginTx()
	agg := NewAggregate(NewSeqScan(tid, hf), 0, -1, AggAvg)
	agg.Open()
	got := drain(t, agg)
	agg.Close()
	p.TransactionComplete(tid, true)

	if len(got) != 1 {
		t.Fatalf("expected one ungrouped result, got %d", len(got))
	}
	if v := got[0].Fields[0].(storage.IntField).Value; v != 4 {
		t.Fatalf("avg(2,4,6): got %d, want 4", v)
	}
}

func TestAggregateUnsupportedOpReturnsError(t *testing.T) {
	p := openTestPager(t)
	desc := employeeDesc()
	hf := newPopulatedHeap(t, p, "emp", desc, []*storage.Tuple{employee(1, 0, "a")})

	tid, _ := p.BeginTx()
	agg := NewAggregate(NewSeqScan(tid, hf), 0, -1, AggSumCount)
	err := agg.Open()
	p.TransactionComplete(tid, true)

	if !storage.IsKind(err, storage.KindIllegalArgument) {
		t.Fatalf("expected ErrUnsupportedAggregate, got %v", err)
	}
}
