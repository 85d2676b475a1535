// Package catalog resolves table and index names to the storage files that
// back them.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/relgo/dbkernel/internal/storage"
	"github.com/relgo/dbkernel/internal/storage/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Catalog contract (§6)
// ───────────────────────────────────────────────────────────────────────────
//
// The engine depends only on this interface, never on SnapshotCatalog
// directly, so a test can substitute an in-memory fake without touching
// disk at all.

// TableID identifies a table within a Catalog.
type TableID int

// DbFile is the on-disk access surface a table needs to expose for the
// engine to scan and mutate it. HeapFile satisfies it directly.
type DbFile interface {
	TupleDesc() *storage.TupleDesc
	Iterator(tid pager.TxID) (func() (*storage.Tuple, error), func(), error)
	InsertTuple(tid pager.TxID, t *storage.Tuple) error
	DeleteTuple(tid pager.TxID, rid storage.RecordID) error
	NumPages(tid pager.TxID) (int, error)
	FileID() pager.FileID
}

// Catalog maps table ids to their storage file, and back to their name.
type Catalog interface {
	DatabaseFile(id TableID) (DbFile, error)
	TableIDIterator() func() (TableID, bool)
	TableName(id TableID) (string, error)
}

// ───────────────────────────────────────────────────────────────────────────
// SnapshotCatalog — reference implementation
// ───────────────────────────────────────────────────────────────────────────
//
// A minimal durable catalog: table and index metadata lives in memory and
// is mirrored to a JSON snapshot file on every mutation (grounded on the
// CatalogEntry/PutEntry/GetEntry shape of the GoDB lineage's system
// catalog, adapted to resolve heap/B+Tree DbFiles instead of acting as a
// B+Tree-backed SQL table registry itself).

type tableEntry struct {
	ID   TableID            `json:"id"`
	Name string             `json:"name"`
	Desc *storage.TupleDesc `json:"desc"`
	File pager.FileID       `json:"file"`
}

type indexEntry struct {
	ID      TableID      `json:"id"`
	Table   TableID      `json:"table"`
	Column  string       `json:"column"`
	File    pager.FileID `json:"file"`
	KeySize int          `json:"key_size"`
}

type snapshot struct {
	Tables  []*tableEntry `json:"tables"`
	Indexes []*indexEntry `json:"indexes"`
}

// SnapshotCatalog is a JSON-snapshotted, in-memory table and index
// registry over a single Pager.
type SnapshotCatalog struct {
	mu     sync.RWMutex
	pager  *pager.Pager
	path   string
	tables map[TableID]*tableEntry
	byName map[string]TableID

	indexes    map[TableID]*indexEntry
	nextID     TableID
	nextIdxID  TableID
}

// Open loads (or initializes) a catalog snapshot at path, backed by p.
func Open(p *pager.Pager, path string) (*SnapshotCatalog, error) {
	c := &SnapshotCatalog{
		pager:     p,
		path:      path,
		tables:    make(map[TableID]*tableEntry),
		byName:    make(map[string]TableID),
		indexes:   make(map[TableID]*indexEntry),
		nextID:    1,
		nextIdxID: 1,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SnapshotCatalog) load() error {
	buf, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return fmt.Errorf("parse catalog snapshot: %w", err)
	}
	for _, e := range snap.Tables {
		c.tables[e.ID] = e
		c.byName[e.Name] = e.ID
		if e.ID >= c.nextID {
			c.nextID = e.ID + 1
		}
	}
	for _, e := range snap.Indexes {
		c.indexes[e.ID] = e
		if e.ID >= c.nextIdxID {
			c.nextIdxID = e.ID + 1
		}
	}
	return nil
}

// save persists the current table/index registry. Caller must hold c.mu.
func (c *SnapshotCatalog) save() error {
	snap := snapshot{}
	for _, e := range c.tables {
		snap.Tables = append(snap.Tables, e)
	}
	for _, e := range c.indexes {
		snap.Indexes = append(snap.Indexes, e)
	}
	sort.Slice(snap.Tables, func(i, j int) bool { return snap.Tables[i].ID < snap.Tables[j].ID })
	sort.Slice(snap.Indexes, func(i, j int) bool { return snap.Indexes[i].ID < snap.Indexes[j].ID })
	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, buf, 0644)
}

// CreateTable formats a new heap file for name and records it under a
// fresh TableID.
func (c *SnapshotCatalog) CreateTable(name string, desc *storage.TupleDesc) (TableID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; ok {
		return 0, storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("table %q already exists", name))
	}
	id := c.nextID
	c.nextID++
	file := pager.FileID(fmt.Sprintf("table_%d", id))
	if err := c.pager.CreateFile(file); err != nil {
		return 0, err
	}
	c.tables[id] = &tableEntry{ID: id, Name: name, Desc: desc, File: file}
	c.byName[name] = id
	return id, c.save()
}

// CreateIndex formats a new B+Tree file over column (a fixed-width key of
// keySize bytes) for tableID, and records it.
func (c *SnapshotCatalog) CreateIndex(tableID TableID, column string, keySize int) (*pager.BTreeFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[tableID]; !ok {
		return nil, storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("no table with id %d", tableID))
	}
	id := c.nextIdxID
	c.nextIdxID++
	file := pager.FileID(fmt.Sprintf("index_%d", id))
	if err := c.pager.CreateFile(file); err != nil {
		return nil, err
	}
	bt := pager.NewBTreeFile(c.pager, file, keySize)
	c.indexes[id] = &indexEntry{ID: id, Table: tableID, Column: column, File: file, KeySize: keySize}
	if err := c.save(); err != nil {
		return nil, err
	}
	return bt, nil
}

// OpenIndex resolves the B+Tree file over tableID's column, if one was
// created with CreateIndex.
func (c *SnapshotCatalog) OpenIndex(tableID TableID, column string) (*pager.BTreeFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.indexes {
		if e.Table == tableID && e.Column == column {
			return pager.NewBTreeFile(c.pager, e.File, e.KeySize), true
		}
	}
	return nil, false
}

// DatabaseFile implements Catalog.
func (c *SnapshotCatalog) DatabaseFile(id TableID) (DbFile, error) {
	c.mu.RLock()
	e, ok := c.tables[id]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("no table with id %d", id))
	}
	return pager.NewHeapFile(c.pager, e.File, e.Desc), nil
}

// TableIDIterator implements Catalog.
func (c *SnapshotCatalog) TableIDIterator() func() (TableID, bool) {
	c.mu.RLock()
	ids := make([]TableID, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	i := 0
	return func() (TableID, bool) {
		if i >= len(ids) {
			return 0, false
		}
		id := ids[i]
		i++
		return id, true
	}
}

// TableName implements Catalog.
func (c *SnapshotCatalog) TableName(id TableID) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[id]
	if !ok {
		return "", storage.NewError(storage.KindIllegalArgument, fmt.Sprintf("no table with id %d", id))
	}
	return e.Name, nil
}

// TableIDByName looks up a table by name.
func (c *SnapshotCatalog) TableIDByName(name string) (TableID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}
