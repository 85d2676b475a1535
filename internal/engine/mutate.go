package engine

import (
	"github.com/relgo/dbkernel/internal/catalog"
	"github.com/relgo/dbkernel/internal/storage"
)

var countDesc = &storage.TupleDesc{Fields: []storage.FieldDesc{{Name: "count", Type: storage.TypeInt, Width: 8}}}

// Insert drives Child exactly once, inserting every tuple it produces
// into File, and yields a single tuple holding the count of rows
// affected (§4.6).
type Insert struct {
	tid   TxID
	Child Operator
	File  catalog.DbFile

	done   bool
	result *storage.Tuple
}

func NewInsert(tid TxID, child Operator, file catalog.DbFile) *Insert {
	return &Insert{tid: tid, Child: child, File: file}
}

func (ins *Insert) Open() error { return ins.Child.Open() }

func (ins *Insert) run() error {
	var n int64
	for {
		ok, err := ins.Child.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		t, err := ins.Child.Next()
		if err != nil {
			return err
		}
		if err := ins.File.InsertTuple(ins.tid, t); err != nil {
			return err
		}
		n++
	}
	ins.result = &storage.Tuple{Desc: countDesc, Fields: []storage.Field{storage.IntField{Value: n}}}
	return nil
}

func (ins *Insert) HasNext() (bool, error) {
	if ins.done {
		return false, nil
	}
	if ins.result == nil {
		if err := ins.run(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (ins *Insert) Next() (*storage.Tuple, error) {
	if ins.done {
		return nil, nil
	}
	if ins.result == nil {
		if err := ins.run(); err != nil {
			return nil, err
		}
	}
	ins.done = true
	return ins.result, nil
}

func (ins *Insert) Close() error {
	ins.done, ins.result = false, nil
	return ins.Child.Close()
}

func (ins *Insert) Rewind() error { return storage.NewError(storage.KindDbException, "Insert cannot be rewound") }

func (ins *Insert) GetTupleDesc() *storage.TupleDesc { return countDesc }

// Delete drives Child exactly once, deleting every tuple it produces
// (by record id) from File, and yields a single tuple holding the count
// of rows affected (§4.6).
type Delete struct {
	tid   TxID
	Child Operator
	File  catalog.DbFile

	done   bool
	result *storage.Tuple
}

func NewDelete(tid TxID, child Operator, file catalog.DbFile) *Delete {
	return &Delete{tid: tid, Child: child, File: file}
}

func (d *Delete) Open() error { return d.Child.Open() }

func (d *Delete) run() error {
	var n int64
	for {
		ok, err := d.Child.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		t, err := d.Child.Next()
		if err != nil {
			return err
		}
		if err := d.File.DeleteTuple(d.tid, t.Rid); err != nil {
			return err
		}
		n++
	}
	d.result = &storage.Tuple{Desc: countDesc, Fields: []storage.Field{storage.IntField{Value: n}}}
	return nil
}

func (d *Delete) HasNext() (bool, error) {
	if d.done {
		return false, nil
	}
	if d.result == nil {
		if err := d.run(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *Delete) Next() (*storage.Tuple, error) {
	if d.done {
		return nil, nil
	}
	if d.result == nil {
		if err := d.run(); err != nil {
			return nil, err
		}
	}
	d.done = true
	return d.result, nil
}

func (d *Delete) Close() error {
	d.done, d.result = false, nil
	return d.Child.Close()
}

func (d *Delete) Rewind() error { return storage.NewError(storage.KindDbException, "Delete cannot be rewound") }

func (d *Delete) GetTupleDesc() *storage.TupleDesc { return countDesc }
