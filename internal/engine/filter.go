package engine

import "github.com/relgo/dbkernel/internal/storage"

// Predicate compares one field of a tuple against either a constant or
// another field of the same tuple (§4.6).
type Predicate struct {
	FieldIndex int
	Op         storage.Op

	// Exactly one of Constant or OtherField is used.
	Constant   storage.Field
	OtherField int
	UseField   bool
}

// FieldConstant builds a predicate comparing field at idx against a
// constant value.
func FieldConstant(idx int, op storage.Op, v storage.Field) Predicate {
	return Predicate{FieldIndex: idx, Op: op, Constant: v}
}

// FieldField builds a predicate comparing two fields of the same tuple.
func FieldField(idx int, op storage.Op, other int) Predicate {
	return Predicate{FieldIndex: idx, Op: op, OtherField: other, UseField: true}
}

func (p Predicate) eval(t *storage.Tuple) bool {
	left := t.Fields[p.FieldIndex]
	var right storage.Field
	if p.UseField {
		right = t.Fields[p.OtherField]
	} else {
		right = p.Constant
	}
	return p.Op.Eval(left.Compare(right))
}

// Filter passes through tuples from Child for which Pred evaluates true.
type Filter struct {
	Pred  Predicate
	Child Operator

	pending *storage.Tuple
}

// NewFilter wraps child with pred.
func NewFilter(pred Predicate, child Operator) *Filter {
	return &Filter{Pred: pred, Child: child}
}

func (f *Filter) Open() error { return f.Child.Open() }

func (f *Filter) fill() error {
	for {
		ok, err := f.Child.HasNext()
		if err != nil || !ok {
			return err
		}
		t, err := f.Child.Next()
		if err != nil {
			return err
		}
		if f.Pred.eval(t) {
			f.pending = t
			return nil
		}
	}
}

func (f *Filter) HasNext() (bool, error) {
	if f.pending != nil {
		return true, nil
	}
	if err := f.fill(); err != nil {
		return false, err
	}
	return f.pending != nil, nil
}

func (f *Filter) Next() (*storage.Tuple, error) {
	if f.pending == nil {
		if ok, err := f.HasNext(); err != nil || !ok {
			return nil, err
		}
	}
	t := f.pending
	f.pending = nil
	return t, nil
}

func (f *Filter) Close() error {
	f.pending = nil
	return f.Child.Close()
}

func (f *Filter) Rewind() error {
	f.pending = nil
	return f.Child.Rewind()
}

func (f *Filter) GetTupleDesc() *storage.TupleDesc { return f.Child.GetTupleDesc() }
