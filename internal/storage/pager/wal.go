package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Write-ahead log
// ───────────────────────────────────────────────────────────────────────────
//
// The log is an append-only sequence of variable-length records. Every
// record carries its own start offset as a trailing footer, which is what
// lets ReverseIterator walk the log backwards without an index: seek to the
// footer, read the offset it names, seek there, and re-decode forwards
// (grounded on the GoDB log file's ForwardIterator/ReverseIterator pairing).
//
// UPDATE records carry both the before and after image of the page they
// touch, so a single log can support both redo (reapply After) and undo
// (reapply Before) during recovery and rollback (§4.3, §4.4).
//
// Record layout, following the file header:
//
//	[0]       RecordType (1 byte)
//	[1:9]     LSN        (uint64 LE)
//	[9:17]    TxID        (uint64 LE)
//	--- type-specific body ---
//	[.. ]     RecordCRC   (uint32 LE, over everything above)
//	[.. :+8]  SelfOffset  (uint64 LE) — the offset this record starts at
const (
	WALMagic       = "RELGOWAL"
	WALVersion     = uint32(1)
	WALFileHdrSize = 32
)

// WALRecordType identifies the kind of WAL record.
type WALRecordType uint8

const (
	WALRecordBegin      WALRecordType = 0x01
	WALRecordUpdate     WALRecordType = 0x02
	WALRecordCommit     WALRecordType = 0x03
	WALRecordAbort      WALRecordType = 0x04
	WALRecordCheckpoint WALRecordType = 0x05
)

func (rt WALRecordType) String() string {
	switch rt {
	case WALRecordBegin:
		return "BEGIN"
	case WALRecordUpdate:
		return "UPDATE"
	case WALRecordCommit:
		return "COMMIT"
	case WALRecordAbort:
		return "ABORT"
	case WALRecordCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(rt))
	}
}

// WALRecord is an in-memory representation of a single log record.
type WALRecord struct {
	Type   WALRecordType
	LSN    LSN
	TxID   TxID
	Key    PageKey // only for UPDATE
	Before []byte  // page image before the update, only for UPDATE
	After  []byte  // page image after the update, only for UPDATE
	// CkptID identifies a CHECKPOINT record. It does not carry a live-
	// transaction snapshot (see DESIGN.md) — recovery always scans the
	// full log rather than resuming from a checkpoint's active-tx table.
	CkptID [16]byte // only for CHECKPOINT
	Offset int64    // byte offset this record starts at (set on read and write)
}

// WALFile manages the append-only log file.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	nextLSN  LSN
	writePos int64
}

// OpenWALFile opens or creates a log file, validating its header if it
// already exists.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	wf := &WALFile{f: f, path: path, pageSize: pageSize, nextLSN: 1}

	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := wf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = endPos
	return wf, nil
}

func (wf *WALFile) writeHeader() error {
	var hdr [WALFileHdrSize]byte
	copy(hdr[0:8], WALMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], WALVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(wf.pageSize))
	c := crc32.Checksum(hdr[:24], crcTable)
	binary.LittleEndian.PutUint32(hdr[24:28], c)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return wf.f.Sync()
}

func (wf *WALFile) validateHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n < WALFileHdrSize {
		return fmt.Errorf("WAL header too short: %d bytes", n)
	}
	if string(hdr[0:8]) != WALMagic {
		return fmt.Errorf("bad WAL magic")
	}
	if ver := binary.LittleEndian.Uint32(hdr[8:12]); ver != WALVersion {
		return fmt.Errorf("unsupported WAL version %d", ver)
	}
	if ps := binary.LittleEndian.Uint32(hdr[12:16]); int(ps) != wf.pageSize {
		return fmt.Errorf("WAL page size %d != expected %d", ps, wf.pageSize)
	}
	stored := binary.LittleEndian.Uint32(hdr[24:28])
	if computed := crc32.Checksum(hdr[:24], crcTable); stored != computed {
		return fmt.Errorf("WAL header CRC mismatch")
	}
	return nil
}

// AppendRecord writes rec at the current write position, stamping its LSN
// and self-offset, and returns the assigned LSN.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn
	rec.Offset = wf.writePos

	data := marshalWALRecord(rec)
	n, err := wf.f.WriteAt(data, wf.writePos)
	if err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// Sync fsyncs the log file to guarantee durability of everything appended
// so far (§4.3's FORCE rule calls this at commit).
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the underlying file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Truncate resets the log to just its header, used after a checkpoint has
// made every earlier record unnecessary for recovery.
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.writePos = WALFileHdrSize
	return wf.f.Sync()
}

// NextLSN returns the LSN that will be assigned to the next appended record.
func (wf *WALFile) NextLSN() LSN {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.nextLSN
}

// SetNextLSN lets recovery resume LSN assignment after replaying a log.
func (wf *WALFile) SetNextLSN(lsn LSN) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.nextLSN = lsn
}

// ───────────────────────────────────────────────────────────────────────────
// Serialization
// ───────────────────────────────────────────────────────────────────────────

func marshalWALRecord(rec *WALRecord) []byte {
	var body []byte
	switch rec.Type {
	case WALRecordUpdate:
		body = marshalUpdateBody(rec)
	case WALRecordCheckpoint:
		body = append([]byte{}, rec.CkptID[:]...)
	default:
		body = nil
	}

	// header(1+8+8) + body + crc(4) + selfOffset(8)
	buf := make([]byte, 17+len(body)+12)
	buf[0] = byte(rec.Type)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(rec.LSN))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(rec.TxID))
	copy(buf[17:17+len(body)], body)

	crcOff := 17 + len(body)
	h := crc32.New(crcTable)
	h.Write(buf[:crcOff])
	binary.LittleEndian.PutUint32(buf[crcOff:crcOff+4], h.Sum32())
	binary.LittleEndian.PutUint64(buf[crcOff+4:crcOff+12], uint64(rec.Offset))
	return buf
}

func marshalUpdateBody(rec *WALRecord) []byte {
	fileBytes := []byte(rec.Key.File)
	buf := make([]byte, 0, 2+len(fileBytes)+4+4+len(rec.Before)+4+len(rec.After))
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(fileBytes)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, fileBytes...)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(rec.Key.Num))
	buf = append(buf, tmp4[:]...)

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(rec.Before)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, rec.Before...)

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(rec.After)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, rec.After...)
	return buf
}

// unmarshalWALRecordAt decodes one record starting at offset off, returning
// the record and the offset immediately following it.
func unmarshalWALRecordAt(f *os.File, off int64) (*WALRecord, int64, error) {
	var hdr [17]byte
	if _, err := f.ReadAt(hdr[:], off); err != nil {
		return nil, 0, err
	}
	rec := &WALRecord{
		Type:   WALRecordType(hdr[0]),
		LSN:    LSN(binary.LittleEndian.Uint64(hdr[1:9])),
		TxID:   TxID(binary.LittleEndian.Uint64(hdr[9:17])),
		Offset: off,
	}

	pos := off + 17
	switch rec.Type {
	case WALRecordUpdate:
		var l2 [2]byte
		if _, err := f.ReadAt(l2[:], pos); err != nil {
			return nil, 0, err
		}
		fileLen := binary.LittleEndian.Uint16(l2[:])
		pos += 2
		fileBuf := make([]byte, fileLen)
		if fileLen > 0 {
			if _, err := f.ReadAt(fileBuf, pos); err != nil {
				return nil, 0, err
			}
		}
		pos += int64(fileLen)

		var l4 [4]byte
		if _, err := f.ReadAt(l4[:], pos); err != nil {
			return nil, 0, err
		}
		pageNum := binary.LittleEndian.Uint32(l4[:])
		pos += 4
		rec.Key = PageKey{File: FileID(fileBuf), Num: PageID(pageNum)}

		if _, err := f.ReadAt(l4[:], pos); err != nil {
			return nil, 0, err
		}
		beforeLen := binary.LittleEndian.Uint32(l4[:])
		pos += 4
		before := make([]byte, beforeLen)
		if beforeLen > 0 {
			if _, err := f.ReadAt(before, pos); err != nil {
				return nil, 0, err
			}
		}
		pos += int64(beforeLen)
		rec.Before = before

		if _, err := f.ReadAt(l4[:], pos); err != nil {
			return nil, 0, err
		}
		afterLen := binary.LittleEndian.Uint32(l4[:])
		pos += 4
		after := make([]byte, afterLen)
		if afterLen > 0 {
			if _, err := f.ReadAt(after, pos); err != nil {
				return nil, 0, err
			}
		}
		pos += int64(afterLen)
		rec.After = after

	case WALRecordCheckpoint:
		var id [16]byte
		if _, err := f.ReadAt(id[:], pos); err != nil {
			return nil, 0, err
		}
		pos += 16
		rec.CkptID = id
	}

	var footer [12]byte
	if _, err := f.ReadAt(footer[:], pos); err != nil {
		return nil, 0, err
	}
	storedCRC := binary.LittleEndian.Uint32(footer[:4])
	selfOffset := int64(binary.LittleEndian.Uint64(footer[4:12]))
	pos += 12

	crcBuf := make([]byte, pos-off-12)
	if _, err := f.ReadAt(crcBuf, off); err != nil {
		return nil, 0, err
	}
	computed := crc32.Checksum(crcBuf, crcTable)
	if computed != storedCRC {
		return nil, 0, fmt.Errorf("WAL record CRC mismatch at offset %d", off)
	}
	if selfOffset != off {
		return nil, 0, fmt.Errorf("WAL record self-offset mismatch: stored=%d actual=%d", selfOffset, off)
	}

	return rec, pos, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Iterators
// ───────────────────────────────────────────────────────────────────────────

// ForwardIterator returns a function that yields successive records starting
// right after the file header. (Recovery reads the log with ReadAllRecords
// instead.) The returned function yields (nil, nil) at a clean end of log.
func (wf *WALFile) ForwardIterator() func() (*WALRecord, error) {
	pos := int64(WALFileHdrSize)
	return func() (*WALRecord, error) {
		rec, next, err := unmarshalWALRecordAt(wf.f, pos)
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, nil // partial/corrupt tail from a crash mid-write — stop cleanly
		}
		pos = next
		return rec, nil
	}
}

// ReverseIterator returns a function that yields records from the end of
// the log backwards, used by rollback (§4.4) to undo a single aborting
// transaction without replaying the whole log. Every record's trailing
// self-offset is what makes this possible without a separate index.
func (wf *WALFile) ReverseIterator() (func() (*WALRecord, error), error) {
	end, err := wf.f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	pos := end

	return func() (*WALRecord, error) {
		if pos <= int64(WALFileHdrSize) {
			return nil, nil
		}
		var footer [12]byte
		if _, err := wf.f.ReadAt(footer[:], pos-12); err != nil {
			return nil, err
		}
		selfOffset := int64(binary.LittleEndian.Uint64(footer[4:12]))
		rec, next, err := unmarshalWALRecordAt(wf.f, selfOffset)
		if err != nil {
			return nil, err
		}
		_ = next
		pos = selfOffset
		return rec, nil
	}, nil
}

// ReadAllRecords reads every well-formed record from path, for diagnostics
// and tests. A partial record at the tail (left by a crash mid-append) is
// silently dropped.
func ReadAllRecords(path string) ([]*WALRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []*WALRecord
	pos := int64(WALFileHdrSize)
	for {
		rec, next, err := unmarshalWALRecordAt(f, pos)
		if err != nil {
			break
		}
		records = append(records, rec)
		pos = next
	}
	return records, nil
}
