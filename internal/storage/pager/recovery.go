package pager

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Crash recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recover runs once, at open, before any new transaction starts. It makes
// two passes over the log:
//
//  1. Forward: classify every transaction seen as committed (reached a
//     COMMIT record) or not, then reapply the after-image of every UPDATE
//     record belonging to a committed transaction, in log order (redo).
//     Redo is idempotent, so replaying a transaction whose pages already
//     made it to disk before the crash is harmless.
//  2. Backward: for every transaction that did NOT commit (whether it
//     logged an ABORT or simply never finished before the crash), reapply
//     the before-image of its UPDATE records in reverse log order (undo) —
//     the same mechanism Rollback uses for a live abort.
//
// Once both passes complete the log no longer describes anything the
// database file doesn't already reflect, so it is truncated.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover: read log: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	committed := make(map[TxID]bool)
	for _, rec := range records {
		if rec.Type == WALRecordCommit {
			committed[rec.TxID] = true
		}
	}

	// Redo: forward, committed transactions only.
	for _, rec := range records {
		if rec.Type != WALRecordUpdate || !committed[rec.TxID] {
			continue
		}
		if err := p.restorePage(rec.Key, rec.After); err != nil {
			return fmt.Errorf("recover redo %s: %w", rec.Key, err)
		}
	}

	// Undo: backward, losers only (never committed).
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Type != WALRecordUpdate || committed[rec.TxID] {
			continue
		}
		if err := p.restorePage(rec.Key, rec.Before); err != nil {
			return fmt.Errorf("recover undo %s: %w", rec.Key, err)
		}
	}

	for _, of := range p.files {
		if err := of.f.Sync(); err != nil {
			return err
		}
	}

	var maxLSN LSN
	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
	}
	p.wal.SetNextLSN(maxLSN + 1)
	return p.wal.Truncate()
}
