package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Field types
// ───────────────────────────────────────────────────────────────────────────
//
// The engine's data-type system is intentionally small: a fixed-width
// integer field and a fixed-width, zero-padded string field. Both have a
// known, constant on-disk width so heap pages can compute a fixed tuple
// size and slot count without a separate length table.

// FieldType identifies the kind of a Field.
type FieldType uint8

const (
	TypeInt FieldType = iota
	TypeString
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// FieldDesc describes one column of a tuple: its type and, for strings, its
// fixed width in bytes.
type FieldDesc struct {
	Name  string
	Type  FieldType
	Width int // byte width on disk; for TypeInt always 8
}

// Size returns the on-disk width in bytes of a field of this descriptor.
func (f FieldDesc) Size() int {
	if f.Type == TypeInt {
		return 8
	}
	return f.Width
}

// TupleDesc is an ordered list of field descriptors.
type TupleDesc struct {
	Fields []FieldDesc
}

// TupleSize returns the total fixed on-disk width of a tuple matching td.
func (td *TupleDesc) TupleSize() int {
	n := 0
	for _, f := range td.Fields {
		n += f.Size()
	}
	return n
}

// NumFields returns the number of fields in the descriptor.
func (td *TupleDesc) NumFields() int { return len(td.Fields) }

// FieldIndex returns the index of the field named name, or -1.
func (td *TupleDesc) FieldIndex(name string) int {
	for i, f := range td.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field is one typed value: either an IntField or a StringField.
type Field interface {
	Type() FieldType
	// Encode writes the field's fixed-width wire representation into buf,
	// which must be exactly width bytes (width comes from the owning
	// FieldDesc).
	Encode(buf []byte)
	// Compare returns <0, 0, >0 comparing this field to other. Both must
	// be of the same FieldType.
	Compare(other Field) int
	fmt.Stringer
}

// IntField is a fixed 8-byte signed integer field.
type IntField struct {
	Value int64
}

func (f IntField) Type() FieldType { return TypeInt }
func (f IntField) String() string  { return fmt.Sprintf("%d", f.Value) }
func (f IntField) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(f.Value))
}
func (f IntField) Compare(other Field) int {
	o := other.(IntField)
	switch {
	case f.Value < o.Value:
		return -1
	case f.Value > o.Value:
		return 1
	default:
		return 0
	}
}

// DecodeIntField reads a fixed 8-byte integer field from buf.
func DecodeIntField(buf []byte) IntField {
	return IntField{Value: int64(binary.LittleEndian.Uint64(buf))}
}

// StringField is a fixed-width, zero-padded UTF-8 string field. Values
// longer than the descriptor's width are truncated on Encode.
type StringField struct {
	Value string
	Width int
}

func (f StringField) Type() FieldType { return TypeString }
func (f StringField) String() string  { return f.Value }
func (f StringField) Encode(buf []byte) {
	n := copy(buf, f.Value)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
}
func (f StringField) Compare(other Field) int {
	o := other.(StringField)
	return bytes.Compare([]byte(f.Value), []byte(o.Value))
}

// DecodeStringField reads a fixed-width, zero-padded string field from buf.
func DecodeStringField(buf []byte) StringField {
	n := bytes.IndexByte(buf, 0)
	if n < 0 {
		n = len(buf)
	}
	return StringField{Value: string(buf[:n]), Width: len(buf)}
}

// ───────────────────────────────────────────────────────────────────────────
// Tuple and record ids
// ───────────────────────────────────────────────────────────────────────────

// PageID identifies a page within a single file by its 0-based index.
type PageID uint32

// InvalidPageID is used where no page is referenced.
const InvalidPageID PageID = 1<<32 - 1

// RecordID identifies a tuple's slot within a heap file.
type RecordID struct {
	PageID PageID
	Slot   int
}

func (r RecordID) String() string { return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot) }

// Tuple is an ordered list of typed field values plus its record id. Rid is
// the zero value until the tuple has been inserted into a heap page.
type Tuple struct {
	Desc   *TupleDesc
	Fields []Field
	Rid    RecordID
}

// Encode serializes t's fields into their fixed-width wire layout.
func (t *Tuple) Encode() []byte {
	buf := make([]byte, t.Desc.TupleSize())
	off := 0
	for i, fd := range t.Desc.Fields {
		w := fd.Size()
		t.Fields[i].Encode(buf[off : off+w])
		off += w
	}
	return buf
}

// DecodeTuple deserializes buf (exactly desc.TupleSize() bytes) into a Tuple.
func DecodeTuple(desc *TupleDesc, buf []byte) *Tuple {
	fields := make([]Field, len(desc.Fields))
	off := 0
	for i, fd := range desc.Fields {
		w := fd.Size()
		switch fd.Type {
		case TypeInt:
			fields[i] = DecodeIntField(buf[off : off+w])
		case TypeString:
			fields[i] = DecodeStringField(buf[off : off+w])
		}
		off += w
	}
	return &Tuple{Desc: desc, Fields: fields}
}

// ───────────────────────────────────────────────────────────────────────────
// Comparison operators (shared by Filter, Join, and IntHistogram)
// ───────────────────────────────────────────────────────────────────────────

// Op is a comparison operator used by predicates and selectivity estimation.
type Op int

const (
	OpEquals Op = iota
	OpGreaterThan
	OpGreaterThanOrEq
	OpLessThan
	OpLessThanOrEq
	OpNotEquals
)

// Eval applies op to the three-way comparison result cmp = a.Compare(b).
func (op Op) Eval(cmp int) bool {
	switch op {
	case OpEquals:
		return cmp == 0
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterThanOrEq:
		return cmp >= 0
	case OpLessThan:
		return cmp < 0
	case OpLessThanOrEq:
		return cmp <= 0
	case OpNotEquals:
		return cmp != 0
	default:
		return false
	}
}
