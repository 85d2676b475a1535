package engine

import (
	"fmt"

	"github.com/relgo/dbkernel/internal/storage"
)

// AggOp identifies the aggregate function an Aggregate operator computes
// (§4.6, §9).
type AggOp int

const (
	AggMin AggOp = iota
	AggMax
	AggSum
	AggAvg
	AggCount
	// AggSumCount and AggSCAvg are declared enum values left as
	// unimplemented extension points: selecting either is a configuration
	// error, not a silently wrong answer.
	AggSumCount
	AggSCAvg
)

func (op AggOp) String() string {
	switch op {
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggCount:
		return "COUNT"
	case AggSumCount:
		return "SUM_COUNT"
	case AggSCAvg:
		return "SC_AVG"
	default:
		return fmt.Sprintf("AggOp(%d)", int(op))
	}
}

// noGroupKey is the single synthetic group every tuple funnels through
// when Aggregate has no GroupField.
const noGroupKey = ""

type aggState struct {
	sum      int64
	count    int64
	min, max int64
	started  bool
}

// Aggregate groups Child's tuples by GroupField (or a single implicit
// group, if GroupField < 0) and computes Op over ValueField within each
// group (§4.6).
type Aggregate struct {
	Child      Operator
	ValueField int
	GroupField int // -1 for no grouping
	Op         AggOp

	desc    *storage.TupleDesc
	groups  map[string]*aggState
	order   []string
	groupOf map[string]storage.Field

	results []*storage.Tuple
	pos     int
}

// NewAggregate builds an aggregate operator. groupField < 0 means no
// grouping.
func NewAggregate(child Operator, valueField, groupField int, op AggOp) *Aggregate {
	return &Aggregate{Child: child, ValueField: valueField, GroupField: groupField, Op: op}
}

func (a *Aggregate) Open() error {
	if a.Op == AggSumCount || a.Op == AggSCAvg {
		return storage.ErrUnsupportedAggregate
	}
	if err := a.Child.Open(); err != nil {
		return err
	}
	return a.compute()
}

func (a *Aggregate) compute() error {
	a.groups = make(map[string]*aggState)
	a.order = nil
	a.groupOf = make(map[string]storage.Field)

	childDesc := a.Child.GetTupleDesc()
	for {
		ok, err := a.Child.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		t, err := a.Child.Next()
		if err != nil {
			return err
		}

		key := noGroupKey
		var groupField storage.Field
		if a.GroupField >= 0 {
			groupField = t.Fields[a.GroupField]
			key = groupField.String()
		}

		st, ok := a.groups[key]
		if !ok {
			st = &aggState{}
			a.groups[key] = st
			a.order = append(a.order, key)
			if a.GroupField >= 0 {
				a.groupOf[key] = groupField
			}
		}
		a.accumulate(st, t.Fields[a.ValueField])
	}

	var fields []storage.FieldDesc
	if a.GroupField >= 0 {
		fields = append(fields, childDesc.Fields[a.GroupField])
	}
	fields = append(fields, storage.FieldDesc{Name: a.Op.String(), Type: storage.TypeInt, Width: 8})
	a.desc = &storage.TupleDesc{Fields: fields}

	a.results = a.results[:0]
	for _, key := range a.order {
		st := a.groups[key]
		val := a.finalize(st)
		var outFields []storage.Field
		if a.GroupField >= 0 {
			outFields = append(outFields, a.groupOf[key])
		}
		outFields = append(outFields, storage.IntField{Value: val})
		a.results = append(a.results, &storage.Tuple{Desc: a.desc, Fields: outFields})
	}
	a.pos = 0
	return nil
}

func (a *Aggregate) accumulate(st *aggState, v storage.Field) {
	st.count++
	if iv, ok := v.(storage.IntField); ok {
		if !st.started || iv.Value < st.min {
			st.min = iv.Value
		}
		if !st.started || iv.Value > st.max {
			st.max = iv.Value
		}
		st.sum += iv.Value
	}
	st.started = true
}

func (a *Aggregate) finalize(st *aggState) int64 {
	switch a.Op {
	case AggMin:
		return st.min
	case AggMax:
		return st.max
	case AggSum:
		return st.sum
	case AggAvg:
		if st.count == 0 {
			return 0
		}
		return st.sum / st.count
	case AggCount:
		return st.count
	default:
		return 0
	}
}

func (a *Aggregate) HasNext() (bool, error) {
	return a.pos < len(a.results), nil
}

func (a *Aggregate) Next() (*storage.Tuple, error) {
	if a.pos >= len(a.results) {
		return nil, nil
	}
	t := a.results[a.pos]
	a.pos++
	return t, nil
}

func (a *Aggregate) Close() error {
	a.results, a.groups, a.order = nil, nil, nil
	return a.Child.Close()
}

func (a *Aggregate) Rewind() error {
	a.pos = 0
	return nil
}

func (a *Aggregate) GetTupleDesc() *storage.TupleDesc { return a.desc }
