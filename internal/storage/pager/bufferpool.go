package pager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relgo/dbkernel/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer pool and pager
// ───────────────────────────────────────────────────────────────────────────
//
// Pager is the engine's single point of contact with disk: every heap file
// and B+Tree file a table or index owns is opened through it, and every
// page read or written passes through one shared buffer pool, one shared
// lock manager, and one shared log (§3). Pages are identified by PageKey —
// (file, page number) — because a single cache and lock table serve every
// open file, not just one.
//
// Eviction follows NO STEAL + FORCE (§4.3): a dirty page belonging to an
// uncommitted transaction is never written back or evicted, and every dirty
// page a transaction produced is flushed, right after its COMMIT record is
// made durable, before the commit returns. This trades off buffer pool pressure (a long
// transaction can pin down its entire working set) for a recovery
// algorithm that never has to undo a page already on disk.

// Permission is the access mode a caller requests a page for.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) lockMode() LockMode {
	if p == ReadWrite {
		return Exclusive
	}
	return Shared
}

// frame is a single cached page.
type frame struct {
	key    PageKey
	buf    []byte
	dirty  bool
	pinned int
	prev   *frame
	next   *frame
}

// openFile tracks one underlying OS file and its parsed header.
type openFile struct {
	f      *os.File
	header *Superblock
}

// PagerConfig configures a Pager.
type PagerConfig struct {
	DataDir       string // directory holding one OS file per FileID, plus the log
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)
	WALPath       string
}

// Pager is the buffer pool, lock manager, and log, bound together.
type Pager struct {
	mu       sync.Mutex
	dataDir  string
	pageSize int
	maxPages int

	files  map[FileID]*openFile
	frames map[PageKey]*frame
	head   *frame // most recently used
	tail   *frame // least recently used

	lockMgr *LockManager
	wal     *WALFile
	walPath string

	txAlloc *storage.TxIDAllocator
	// txDirty tracks, per in-flight transaction, the set of pages it has
	// dirtied — transactionComplete uses this to know what to FORCE-flush
	// (commit) or undo (abort) without scanning the whole pool.
	txDirty map[TxID]map[PageKey]bool

	closed bool
}

// OpenPager opens (or creates) a database rooted at cfg.DataDir.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	maxPages := cfg.MaxCachePages
	if maxPages <= 0 {
		maxPages = 1024
	}

	walPath := cfg.WALPath
	if walPath == "" {
		walPath = filepath.Join(cfg.DataDir, "wal.log")
	}
	wf, err := OpenWALFile(walPath, ps)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	p := &Pager{
		dataDir:  cfg.DataDir,
		pageSize: ps,
		maxPages: maxPages,
		files:    make(map[FileID]*openFile),
		frames:   make(map[PageKey]*frame),
		lockMgr:  NewLockManager(LockManagerConfig{}),
		wal:      wf,
		walPath:  walPath,
		txAlloc:  storage.NewTxIDAllocator(1),
		txDirty:  make(map[TxID]map[PageKey]bool),
	}

	if err := p.Recover(); err != nil {
		wf.Close()
		return nil, fmt.Errorf("recovery: %w", err)
	}
	return p, nil
}

func (p *Pager) filePath(id FileID) string {
	return filepath.Join(p.dataDir, string(id)+".dat")
}

// ensureFile opens id's backing OS file, creating and formatting it (with a
// fresh file header at page 0) if it does not exist yet. Caller must hold
// p.mu.
func (p *Pager) ensureFile(id FileID) (*openFile, error) {
	if of, ok := p.files[id]; ok {
		return of, nil
	}

	path := p.filePath(id)
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", id, err)
	}

	of := &openFile{f: f}
	if isNew {
		sb := NewSuperblock(uint32(p.pageSize))
		buf := MarshalSuperblock(sb, p.pageSize)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header %s: %w", id, err)
		}
		of.header = sb
	} else {
		buf := make([]byte, p.pageSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("read header %s: %w", id, err)
		}
		sb, err := UnmarshalSuperblock(buf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("parse header %s: %w", id, err)
		}
		of.header = sb
	}

	p.files[id] = of
	return of, nil
}

// CreateFile formats a brand-new empty file under id, failing if one
// already exists. Tables and indexes call this once, at creation time.
func (p *Pager) CreateFile(id FileID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.files[id]; ok {
		return storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("file %q already open", id))
	}
	if _, err := os.Stat(p.filePath(id)); err == nil {
		return storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("file %q already exists", id))
	}
	_, err := p.ensureFile(id)
	return err
}

// UpdateFileHeader mutates id's in-memory file header. The change is
// persisted the next time a page in that file is forced (commit) or a
// checkpoint runs.
func (p *Pager) UpdateFileHeader(id FileID, fn func(sb *Superblock)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	of, err := p.ensureFile(id)
	if err != nil {
		return err
	}
	fn(of.header)
	return nil
}

// FileHeader returns a copy of id's current file header.
func (p *Pager) FileHeader(id FileID) (Superblock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	of, err := p.ensureFile(id)
	if err != nil {
		return Superblock{}, err
	}
	return *of.header, nil
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// ───────────────────────────────────────────────────────────────────────────
// Raw (uncached) page I/O
// ───────────────────────────────────────────────────────────────────────────

func (p *Pager) readPageRaw(key PageKey) ([]byte, error) {
	of, err := p.ensureFile(key.File)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, p.pageSize)
	off := int64(key.Num) * int64(p.pageSize)
	if _, err := of.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %s: %w", key, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pager) writePageRaw(key PageKey, buf []byte) error {
	of, err := p.ensureFile(key.File)
	if err != nil {
		return err
	}
	SetPageCRC(buf)
	off := int64(key.Num) * int64(p.pageSize)
	if _, err := of.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %s: %w", key, err)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// LRU list
// ───────────────────────────────────────────────────────────────────────────

func (p *Pager) pushFront(fr *frame) {
	fr.prev = nil
	fr.next = p.head
	if p.head != nil {
		p.head.prev = fr
	}
	p.head = fr
	if p.tail == nil {
		p.tail = fr
	}
}

func (p *Pager) unlink(fr *frame) {
	if fr.prev != nil {
		fr.prev.next = fr.next
	} else {
		p.head = fr.next
	}
	if fr.next != nil {
		fr.next.prev = fr.prev
	} else {
		p.tail = fr.prev
	}
	fr.prev, fr.next = nil, nil
}

func (p *Pager) moveToFront(fr *frame) {
	p.unlink(fr)
	p.pushFront(fr)
}

// evictOne walks the pool once, tail to head, evicting the first clean,
// unpinned frame it finds. Dirty frames are never evicted (NO STEAL); a
// single full pass is the entire eviction attempt (§4.3, §9) — no retrying
// past it, since the caller decides whether to surface ErrAllPagesDirty.
func (p *Pager) evictOne() bool {
	for fr := p.tail; fr != nil; fr = fr.prev {
		if fr.pinned == 0 && !fr.dirty {
			p.unlink(fr)
			delete(p.frames, fr.key)
			return true
		}
	}
	return false
}

// ───────────────────────────────────────────────────────────────────────────
// Page access
// ───────────────────────────────────────────────────────────────────────────

// GetPage fetches the page named by key for tid under the given
// permission, acquiring the matching SHARED/EXCLUSIVE lock first. The
// page is pinned; callers must call UnpinPage when done with it.
func (p *Pager) GetPage(tid TxID, key PageKey, perm Permission) ([]byte, error) {
	if err := p.lockMgr.Acquire(tid, key, perm.lockMode()); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fr, ok := p.frames[key]; ok {
		fr.pinned++
		p.moveToFront(fr)
		return fr.buf, nil
	}

	for len(p.frames) >= p.maxPages {
		if !p.evictOne() {
			return nil, storage.ErrAllPagesDirty
		}
	}

	buf, err := p.readPageRaw(key)
	if err != nil {
		return nil, err
	}
	fr := &frame{key: key, buf: buf, pinned: 1}
	p.frames[key] = fr
	p.pushFront(fr)
	return fr.buf, nil
}

// UnpinPage decrements the pin count on key.
func (p *Pager) UnpinPage(key PageKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr, ok := p.frames[key]; ok && fr.pinned > 0 {
		fr.pinned--
	}
}

// WritePage records a page mutation: the before-image is WAL-logged
// alongside the after-image, the cached frame is updated and marked dirty,
// and the page is attributed to tid so TransactionComplete knows to force
// it at commit or undo it at abort. Callers must already hold an EXCLUSIVE
// lock on key (normally via GetPage(tid, key, ReadWrite)).
func (p *Pager) WritePage(tid TxID, key PageKey, after []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var before []byte
	if fr, ok := p.frames[key]; ok {
		before = append([]byte{}, fr.buf...)
	} else {
		raw, err := p.readPageRaw(key)
		if err != nil {
			return err
		}
		before = raw
	}

	rec := &WALRecord{
		Type:   WALRecordUpdate,
		TxID:   tid,
		Key:    key,
		Before: before,
		After:  append([]byte{}, after...),
	}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return fmt.Errorf("log update %s: %w", key, err)
	}

	fr, ok := p.frames[key]
	if !ok {
		fr = &frame{key: key, buf: make([]byte, p.pageSize)}
		p.frames[key] = fr
		p.pushFront(fr)
	}
	copy(fr.buf, after)
	fr.dirty = true

	if p.txDirty[tid] == nil {
		p.txDirty[tid] = make(map[PageKey]bool)
	}
	p.txDirty[tid][key] = true
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Page allocation
// ───────────────────────────────────────────────────────────────────────────

// AllocPage returns a key and a zeroed, pinned buffer for a page not
// currently in use in file: a page reclaimed from the file's free-page
// header chain (BTreeFile.freePage populates this for pages a merge or a
// root collapse left unused) if one is available, or else a brand new
// page at the end of the file. The caller must initialize the page
// (InitHeapPage, InitBTreeLeafPage, ...) and persist it with WritePage.
func (p *Pager) AllocPage(file FileID) (PageKey, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	of, err := p.ensureFile(file)
	if err != nil {
		return PageKey{}, nil, err
	}

	pid, reused, err := p.reuseFreePage(file, of)
	if err != nil {
		return PageKey{}, nil, err
	}
	if !reused {
		pid = of.header.NextPageID
		of.header.NextPageID++
		of.header.PageCount++
	}

	key := PageKey{File: file, Num: pid}
	buf := make([]byte, p.pageSize)
	fr := &frame{key: key, buf: buf, pinned: 1}
	p.frames[key] = fr
	p.pushFront(fr)
	return key, buf, nil
}

// reuseFreePage walks of's free-page header chain looking for a page
// marked free, claims it (MarkUsed), and returns its number. ok is false
// if the file has no header chain yet or every header page in the chain
// is fully claimed, in which case the caller must grow the file instead.
// Caller must hold p.mu.
func (p *Pager) reuseFreePage(file FileID, of *openFile) (pid PageID, ok bool, err error) {
	headNum := of.header.FreeHeaderRoot
	for headNum != InvalidPageID {
		key := PageKey{File: file, Num: headNum}
		buf, err := p.readPageRaw(key)
		if err != nil {
			return InvalidPageID, false, err
		}
		hp := WrapBTreeHeaderPage(buf)
		if free := hp.FirstFree(); free != InvalidPageID {
			hp.MarkUsed(free)
			if err := p.writePageRaw(key, hp.Bytes()); err != nil {
				return InvalidPageID, false, err
			}
			return free, true, nil
		}
		headNum = hp.NextHeader()
	}
	return InvalidPageID, false, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Transaction lifecycle
// ───────────────────────────────────────────────────────────────────────────

// BeginTx mints a new transaction id and logs its BEGIN record.
func (p *Pager) BeginTx() (TxID, error) {
	tid := p.txAlloc.Next()
	if _, err := p.wal.AppendRecord(&WALRecord{Type: WALRecordBegin, TxID: tid}); err != nil {
		return 0, err
	}
	return tid, nil
}

// TransactionComplete ends tid. On commit it logs and syncs the COMMIT
// record, then FORCEs every page tid dirtied to disk before returning; on
// abort it undoes those pages via Rollback. Either way, every lock tid
// holds is released (§4.3, §4.4).
func (p *Pager) TransactionComplete(tid TxID, commit bool) error {
	if commit {
		// WAL-before-data: the COMMIT record must be durable before any of
		// tid's dirty pages are written back, or a crash between the two
		// could leave a page on disk whose COMMIT never made it to the log.
		if _, err := p.wal.AppendRecord(&WALRecord{Type: WALRecordCommit, TxID: tid}); err != nil {
			return err
		}
		if err := p.wal.Sync(); err != nil {
			return err
		}
		if err := p.forceDirty(tid); err != nil {
			return err
		}
	} else {
		if err := p.Rollback(tid); err != nil {
			return err
		}
		if _, err := p.wal.AppendRecord(&WALRecord{Type: WALRecordAbort, TxID: tid}); err != nil {
			return err
		}
	}

	p.mu.Lock()
	delete(p.txDirty, tid)
	p.mu.Unlock()
	p.lockMgr.ReleaseAll(tid)
	return nil
}

// forceDirty flushes every page tid dirtied to its backing file.
func (p *Pager) forceDirty(tid TxID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dirty := p.txDirty[tid]
	touched := make(map[FileID]bool)
	for key := range dirty {
		fr, ok := p.frames[key]
		if !ok {
			continue
		}
		if err := p.writePageRaw(key, fr.buf); err != nil {
			return fmt.Errorf("force page %s: %w", key, err)
		}
		fr.dirty = false
		touched[key.File] = true
	}
	for id := range touched {
		of, err := p.ensureFile(id)
		if err != nil {
			return err
		}
		hdrBuf := MarshalSuperblock(of.header, p.pageSize)
		if _, err := of.f.WriteAt(hdrBuf, 0); err != nil {
			return fmt.Errorf("write header %s: %w", id, err)
		}
		if err := of.f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Rollback undoes tid's writes by walking the log backward and reapplying
// the before-image of every UPDATE record belonging to tid, stopping once
// tid's BEGIN record is reached. User abort goes through here; crash
// recovery's undo pass restores before-images through the same
// restorePage helper (§4.4, §9 resolved).
func (p *Pager) Rollback(tid TxID) error {
	it, err := p.wal.ReverseIterator()
	if err != nil {
		return err
	}
	for {
		rec, err := it()
		if err != nil {
			return fmt.Errorf("rollback scan: %w", err)
		}
		if rec == nil {
			break
		}
		if rec.TxID != tid {
			continue
		}
		switch rec.Type {
		case WALRecordBegin:
			return nil
		case WALRecordUpdate:
			if err := p.restorePage(rec.Key, rec.Before); err != nil {
				return err
			}
		}
	}
	return nil
}

// restorePage writes buf directly into the cache (if the page is cached)
// and onto disk, bypassing WAL logging — used only to undo, where logging
// the undo itself would be redundant with the record being undone.
func (p *Pager) restorePage(key PageKey, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr, ok := p.frames[key]; ok {
		copy(fr.buf, buf)
		fr.dirty = false
	}
	return p.writePageRaw(key, buf)
}

// ───────────────────────────────────────────────────────────────────────────
// Checkpoint / close
// ───────────────────────────────────────────────────────────────────────────

// Checkpoint flushes every dirty page to disk, syncs every open file, and
// truncates the log. Only safe to call when no transaction is in flight.
func (p *Pager) Checkpoint() error {
	ckptID := storage.NewCheckpointID()
	if _, err := p.wal.AppendRecord(&WALRecord{Type: WALRecordCheckpoint, CkptID: ckptID}); err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	p.mu.Lock()
	touched := make(map[FileID]bool)
	for key, fr := range p.frames {
		if !fr.dirty {
			continue
		}
		if err := p.writePageRaw(key, fr.buf); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("checkpoint flush %s: %w", key, err)
		}
		fr.dirty = false
		touched[key.File] = true
	}
	for id, of := range p.files {
		if !touched[id] {
			continue
		}
		hdrBuf := MarshalSuperblock(of.header, p.pageSize)
		if _, err := of.f.WriteAt(hdrBuf, 0); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	for _, of := range p.files {
		if err := of.f.Sync(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.mu.Unlock()

	return p.wal.Truncate()
}

// Close performs a final checkpoint and closes every open file.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.Checkpoint()
	p.mu.Lock()
	for _, of := range p.files {
		_ = of.f.Close()
	}
	p.mu.Unlock()
	if cerr := p.wal.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// WALPath returns the path of the log file.
func (p *Pager) WALPath() string { return p.walPath }

// DataDir returns the directory holding this pager's files.
func (p *Pager) DataDir() string { return p.dataDir }
