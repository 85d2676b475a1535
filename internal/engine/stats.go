package engine

import (
	"github.com/relgo/dbkernel/internal/catalog"
	"github.com/relgo/dbkernel/internal/storage"
)

// TableStats holds the statistics a one-pass scan collects for one table:
// its page count (for IO cost) and, per integer field, an equi-width
// histogram (for selectivity estimation) (§4.7).
type TableStats struct {
	NumPages int
	NumTups  int64
	hists    map[int]*IntHistogram
}

const histogramBuckets = 100

// ScanTableStats performs the one-pass scan that computes TableStats for
// file, building an IntHistogram over every TypeInt field.
func ScanTableStats(tid TxID, file catalog.DbFile) (*TableStats, error) {
	desc := file.TupleDesc()
	n, err := file.NumPages(tid)
	if err != nil {
		return nil, err
	}

	mins := make(map[int]int64)
	maxs := make(map[int]int64)
	var rows []*storage.Tuple

	next, closeFn, err := file.Iterator(tid)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	for {
		t, err := next()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		rows = append(rows, t)
		for i, fd := range desc.Fields {
			if fd.Type != storage.TypeInt {
				continue
			}
			v := t.Fields[i].(storage.IntField).Value
			if cur, ok := mins[i]; !ok || v < cur {
				mins[i] = v
			}
			if cur, ok := maxs[i]; !ok || v > cur {
				maxs[i] = v
			}
		}
	}

	st := &TableStats{NumPages: n, NumTups: int64(len(rows)), hists: make(map[int]*IntHistogram)}
	for i, fd := range desc.Fields {
		if fd.Type != storage.TypeInt {
			continue
		}
		st.hists[i] = NewIntHistogram(histogramBuckets, mins[i], maxs[i])
	}
	for _, t := range rows {
		for i, h := range st.hists {
			h.AddValue(t.Fields[i].(storage.IntField).Value)
		}
	}
	return st, nil
}

// EstimateSelectivity estimates the fraction of rows satisfying
// "field[idx] op v", falling back to 1 (no filtering) for a non-indexed
// or non-integer field.
func (s *TableStats) EstimateSelectivity(idx int, op storage.Op, v int64) float64 {
	h, ok := s.hists[idx]
	if !ok {
		return 1
	}
	return h.EstimateSelectivity(op, v)
}

// IOCost estimates the page-IO cost of a full scan of the table.
func (s *TableStats) IOCost() float64 { return float64(s.NumPages) }
