// Package engine implements a small relational-algebra execution layer
// over the catalog and pager packages: operators compose into a pipeline
// the way the GoDB teaching-database lineage models them — a stateful
// iterator with explicit open/close, rather than a pull-based generator
// closure — which is what lets Join and Aggregate hold onto a child across
// many Next calls without extra bookkeeping.
package engine

import (
	"github.com/relgo/dbkernel/internal/storage"
	"github.com/relgo/dbkernel/internal/storage/pager"
)

// Operator is the common interface every node in an execution pipeline
// satisfies (§4.6).
type Operator interface {
	// Open prepares the operator to be iterated, recursively opening any
	// children. Must be called before Next/HasNext.
	Open() error
	// HasNext reports whether another call to Next would return a tuple.
	HasNext() (bool, error)
	// Next returns the next tuple. Undefined if HasNext would return false.
	Next() (*storage.Tuple, error)
	// Close releases any resources (page pins, child operators) held open.
	Close() error
	// Rewind resets iteration back to the start, as if Close then Open
	// were called, without discarding configuration.
	Rewind() error
	// GetTupleDesc returns the schema of tuples this operator produces.
	GetTupleDesc() *storage.TupleDesc
}

// TxID is the transaction every operator in a single pipeline runs under.
type TxID = pager.TxID
