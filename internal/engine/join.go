package engine

import "github.com/relgo/dbkernel/internal/storage"

// Join is a nested-loop join: for each outer tuple, the inner child is
// rewound and scanned for matches (§4.6). Output tuples concatenate the
// outer's fields followed by the inner's.
type Join struct {
	Outer, Inner   Operator
	OuterField     int
	InnerField     int
	Op             storage.Op

	desc       *storage.TupleDesc
	outerTuple *storage.Tuple
	pending    *storage.Tuple
}

// NewJoin joins outer.field[outerField] Op inner.field[innerField].
func NewJoin(outer, inner Operator, outerField int, op storage.Op, innerField int) *Join {
	return &Join{Outer: outer, Inner: inner, OuterField: outerField, InnerField: innerField, Op: op}
}

func (j *Join) Open() error {
	if err := j.Outer.Open(); err != nil {
		return err
	}
	if err := j.Inner.Open(); err != nil {
		return err
	}
	od, id := j.Outer.GetTupleDesc(), j.Inner.GetTupleDesc()
	fields := make([]storage.FieldDesc, 0, len(od.Fields)+len(id.Fields))
	fields = append(fields, od.Fields...)
	fields = append(fields, id.Fields...)
	j.desc = &storage.TupleDesc{Fields: fields}
	return nil
}

// fill advances the nested loop until a match is found or both sides are
// exhausted.
func (j *Join) fill() error {
	for {
		if j.outerTuple == nil {
			ok, err := j.Outer.HasNext()
			if err != nil || !ok {
				return err
			}
			t, err := j.Outer.Next()
			if err != nil {
				return err
			}
			j.outerTuple = t
			if err := j.Inner.Rewind(); err != nil {
				return err
			}
		}

		ok, err := j.Inner.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			j.outerTuple = nil
			continue
		}
		in, err := j.Inner.Next()
		if err != nil {
			return err
		}
		if j.Op.Eval(j.outerTuple.Fields[j.OuterField].Compare(in.Fields[j.InnerField])) {
			j.pending = concatTuples(j.desc, j.outerTuple, in)
			return nil
		}
	}
}

func concatTuples(desc *storage.TupleDesc, a, b *storage.Tuple) *storage.Tuple {
	fields := make([]storage.Field, 0, len(a.Fields)+len(b.Fields))
	fields = append(fields, a.Fields...)
	fields = append(fields, b.Fields...)
	return &storage.Tuple{Desc: desc, Fields: fields}
}

func (j *Join) HasNext() (bool, error) {
	if j.pending != nil {
		return true, nil
	}
	if err := j.fill(); err != nil {
		return false, err
	}
	return j.pending != nil, nil
}

func (j *Join) Next() (*storage.Tuple, error) {
	if j.pending == nil {
		if ok, err := j.HasNext(); err != nil || !ok {
			return nil, err
		}
	}
	t := j.pending
	j.pending = nil
	return t, nil
}

func (j *Join) Close() error {
	j.pending, j.outerTuple = nil, nil
	if err := j.Outer.Close(); err != nil {
		return err
	}
	return j.Inner.Close()
}

func (j *Join) Rewind() error {
	j.pending, j.outerTuple = nil, nil
	if err := j.Outer.Rewind(); err != nil {
		return err
	}
	return j.Inner.Rewind()
}

func (j *Join) GetTupleDesc() *storage.TupleDesc { return j.desc }
