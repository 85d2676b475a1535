package pager

import (
	"path/filepath"
	"testing"
)

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{DataDir: dir, PageSize: DefaultPageSize, MaxCachePages: 8})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocWriteReadRoundTrip(t *testing.T) {
	p := openTestPager(t)
	if err := p.CreateFile("t1"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	tid, err := p.BeginTx()
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}

	key, buf, err := p.AllocPage("t1")
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	copy(buf[PageHeaderSize:], []byte("hello"))
	if err := p.WritePage(tid, key, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	p.UnpinPage(key)

	if err := p.TransactionComplete(tid, true); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tid2, _ := p.BeginTx()
	got, err := p.GetPage(tid2, key, ReadOnly)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+5]) != "hello" {
		t.Fatalf("round trip mismatch: got %q", got[PageHeaderSize:PageHeaderSize+5])
	}
	p.UnpinPage(key)
	p.TransactionComplete(tid2, true)
}

func TestAbortRollsBackPage(t *testing.T) {
	p := openTestPager(t)
	p.CreateFile("t1")

	tid, _ := p.BeginTx()
	key, buf, _ := p.AllocPage("t1")
	copy(buf[PageHeaderSize:], []byte("original"))
	p.WritePage(tid, key, buf)
	p.UnpinPage(key)
	p.TransactionComplete(tid, true)

	tid2, _ := p.BeginTx()
	buf2, _ := p.GetPage(tid2, key, ReadWrite)
	after := append([]byte{}, buf2...)
	copy(after[PageHeaderSize:], []byte("mutated!"))
	p.WritePage(tid2, key, after)
	p.UnpinPage(key)
	p.TransactionComplete(tid2, false)

	tid3, _ := p.BeginTx()
	final, err := p.GetPage(tid3, key, ReadOnly)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if string(final[PageHeaderSize:PageHeaderSize+8]) != "original" {
		t.Fatalf("abort did not roll back: got %q", final[PageHeaderSize:PageHeaderSize+8])
	}
	p.UnpinPage(key)
	p.TransactionComplete(tid3, true)
}

func TestCheckpointTruncatesLog(t *testing.T) {
	p := openTestPager(t)
	p.CreateFile("t1")

	tid, _ := p.BeginTx()
	key, buf, _ := p.AllocPage("t1")
	p.WritePage(tid, key, buf)
	p.UnpinPage(key)
	p.TransactionComplete(tid, true)

	if err := p.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	records, err := ReadAllRecords(filepath.Join(p.DataDir(), "wal.log"))
	if err != nil {
		t.Fatalf("ReadAllRecords: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty log after checkpoint, got %d records", len(records))
	}
}

func TestRecoveryRedoesCommittedAndUndoesUncommitted(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{DataDir: dir, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	p.CreateFile("t1")

	tidCommitted, _ := p.BeginTx()
	keyA, bufA, _ := p.AllocPage("t1")
	copy(bufA[PageHeaderSize:], []byte("committed"))
	p.WritePage(tidCommitted, keyA, bufA)
	p.UnpinPage(keyA)
	p.TransactionComplete(tidCommitted, true)

	// Simulate a crash mid-transaction: BEGIN + UPDATE logged, no COMMIT.
	tidLost, _ := p.BeginTx()
	keyB, bufB, _ := p.AllocPage("t1")
	before := append([]byte{}, bufB...)
	copy(bufB[PageHeaderSize:], []byte("should vanish"))
	p.WritePage(tidLost, keyB, bufB)
	p.UnpinPage(keyB)
	// No TransactionComplete call — pretend the process died here.

	for _, of := range p.files {
		of.f.Sync()
	}
	p.wal.Sync()

	p2, err := OpenPager(PagerConfig{DataDir: dir, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("reopen (recovery): %v", err)
	}
	defer p2.Close()

	tid, _ := p2.BeginTx()
	got, err := p2.GetPage(tid, keyA, ReadOnly)
	if err != nil {
		t.Fatalf("GetPage A: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+9]) != "committed" {
		t.Fatalf("redo failed: got %q", got[PageHeaderSize:PageHeaderSize+9])
	}
	p2.UnpinPage(keyA)

	gotB, err := p2.GetPage(tid, keyB, ReadOnly)
	if err != nil {
		t.Fatalf("GetPage B: %v", err)
	}
	if string(gotB) != string(before) {
		t.Fatalf("undo failed: uncommitted write survived recovery")
	}
	p2.UnpinPage(keyB)
	p2.TransactionComplete(tid, true)
}
