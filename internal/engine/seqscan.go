package engine

import (
	"github.com/relgo/dbkernel/internal/catalog"
	"github.com/relgo/dbkernel/internal/storage"
)

// SeqScan is a thin wrapper around a heap file's tuple iterator (§4.6).
type SeqScan struct {
	tid  TxID
	file catalog.DbFile

	next    func() (*storage.Tuple, error)
	close   func()
	pending *storage.Tuple // fetched by HasNext, not yet returned by Next
}

// NewSeqScan scans every tuple of file under tid.
func NewSeqScan(tid TxID, file catalog.DbFile) *SeqScan {
	return &SeqScan{tid: tid, file: file}
}

func (s *SeqScan) Open() error {
	next, closeFn, err := s.file.Iterator(s.tid)
	if err != nil {
		return err
	}
	s.next, s.close = next, closeFn
	return nil
}

func (s *SeqScan) HasNext() (bool, error) {
	if s.pending != nil {
		return true, nil
	}
	t, err := s.next()
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}
	s.pending = t
	return true, nil
}

func (s *SeqScan) Next() (*storage.Tuple, error) {
	if s.pending == nil {
		if ok, err := s.HasNext(); err != nil || !ok {
			return nil, err
		}
	}
	t := s.pending
	s.pending = nil
	return t, nil
}

func (s *SeqScan) Close() error {
	if s.close != nil {
		s.close()
	}
	s.next, s.close, s.pending = nil, nil, nil
	return nil
}

func (s *SeqScan) Rewind() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.Open()
}

func (s *SeqScan) GetTupleDesc() *storage.TupleDesc { return s.file.TupleDesc() }
