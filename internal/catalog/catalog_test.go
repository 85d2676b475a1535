package catalog

import (
	"path/filepath"
	"testing"

	"github.com/relgo/dbkernel/internal/storage"
	"github.com/relgo/dbkernel/internal/storage/pager"
)

func openTestCatalog(t *testing.T) (*pager.Pager, *SnapshotCatalog, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{DataDir: dir, PageSize: pager.DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	snapPath := filepath.Join(dir, "catalog.json")
	c, err := Open(p, snapPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p, c, snapPath
}

func peopleDesc() *storage.TupleDesc {
	return &storage.TupleDesc{Fields: []storage.FieldDesc{
		{Name: "id", Type: storage.TypeInt},
		{Name: "name", Type: storage.TypeString, Width: 16},
	}}
}

func TestCreateTableThenDatabaseFileRoundTrips(t *testing.T) {
	_, c, _ := openTestCatalog(t)
	desc := peopleDesc()

	id, err := c.CreateTable("people", desc)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := c.CreateTable("people", desc); err == nil {
		t.Fatalf("expected duplicate CreateTable to fail")
	}

	df, err := c.DatabaseFile(id)
	if err != nil {
		t.Fatalf("DatabaseFile: %v", err)
	}
	if df.TupleDesc().NumFields() != 2 {
		t.Fatalf("unexpected tuple desc from DatabaseFile")
	}

	name, err := c.TableName(id)
	if err != nil {
		t.Fatalf("TableName: %v", err)
	}
	if name != "people" {
		t.Fatalf("TableName: got %q, want %q", name, "people")
	}

	gotID, ok := c.TableIDByName("people")
	if !ok || gotID != id {
		t.Fatalf("TableIDByName: got (%v, %v), want (%v, true)", gotID, ok, id)
	}
}

func TestTableIDIteratorIsSortedAndComplete(t *testing.T) {
	_, c, _ := openTestCatalog(t)
	desc := peopleDesc()
	var ids []TableID
	for _, name := range []string{"a", "b", "c"} {
		id, err := c.CreateTable(name, desc)
		if err != nil {
			t.Fatalf("CreateTable(%s): %v", name, err)
		}
		ids = append(ids, id)
	}

	it := c.TableIDIterator()
	var seen []TableID
	for {
		id, ok := it()
		if !ok {
			break
		}
		seen = append(seen, id)
	}
	if len(seen) != len(ids) {
		t.Fatalf("expected %d table ids, got %d", len(ids), len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("TableIDIterator not sorted: %v", seen)
		}
	}
}

func TestCatalogSnapshotSurvivesReopen(t *testing.T) {
	p, c, snapPath := openTestCatalog(t)
	desc := peopleDesc()
	id, err := c.CreateTable("people", desc)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	c2, err := Open(p, snapPath)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	name, err := c2.TableName(id)
	if err != nil {
		t.Fatalf("TableName after reopen: %v", err)
	}
	if name != "people" {
		t.Fatalf("TableName after reopen: got %q", name)
	}
}

func TestCreateIndexAndOpenIndexRoundTrip(t *testing.T) {
	_, c, _ := openTestCatalog(t)
	desc := peopleDesc()
	id, err := c.CreateTable("people", desc)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	bt, err := c.CreateIndex(id, "id", 8)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if bt.KeySize() != 8 {
		t.Fatalf("CreateIndex: unexpected key size %d", bt.KeySize())
	}

	got, ok := c.OpenIndex(id, "id")
	if !ok {
		t.Fatalf("OpenIndex: index not found")
	}
	if got.FileID() != bt.FileID() {
		t.Fatalf("OpenIndex: file mismatch, got %v want %v", got.FileID(), bt.FileID())
	}

	if _, ok := c.OpenIndex(id, "name"); ok {
		t.Fatalf("OpenIndex: expected no index over 'name'")
	}
}

func TestDatabaseFileUnknownTableFails(t *testing.T) {
	_, c, _ := openTestCatalog(t)
	if _, err := c.DatabaseFile(999); err == nil {
		t.Fatalf("expected DatabaseFile to fail for an unknown table id")
	}
}
