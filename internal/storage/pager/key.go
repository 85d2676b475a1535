package pager

import "fmt"

// FileID names a single on-disk file (heap file or B+-tree file) within the
// engine. The catalog maps a table id to a FileID; the engine itself treats
// FileID as an opaque string.
type FileID string

// PageKey globally identifies a page as (table_id, page_number) per §3 — the
// unit the lock manager and buffer pool key on, since a single buffer pool
// and lock manager serve every open file.
type PageKey struct {
	File FileID
	Num  PageID
}

func (k PageKey) String() string { return fmt.Sprintf("%s:%d", k.File, k.Num) }
