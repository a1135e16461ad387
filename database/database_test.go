package database

import (
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

func testCfg() *lconfig.Config {
	c := lconfig.Default()
	c.PageSize = 64
	c.CellSizeBytes = 8
	c.PageRangeMaxBasePages = 2
	c.MaxPoolPages = 64
	c.StripeCount = 8
	lconfig.DeriveCellsPerPage(c)
	return c
}

func TestOpen_FreshDirHasNoTables(t *testing.T) {
	db, err := Open(t.TempDir(), testCfg(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if names := db.TableNames(); len(names) != 0 {
		t.Fatalf("fresh database has tables: %v", names)
	}
}

func TestCreateTable_RejectsDuplicateAndBadNames(t *testing.T) {
	db, err := Open(t.TempDir(), testCfg(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.CreateTable("people", 3, 0); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := db.CreateTable("people", 3, 0); err != lerr.ErrNameExists {
		t.Fatalf("duplicate CreateTable err = %v, want ErrNameExists", err)
	}
	for _, bad := range []string{"", "..", "a/b", "../escape"} {
		if _, err := db.CreateTable(bad, 1, 0); err == nil {
			t.Fatalf("CreateTable(%q) should have been rejected", bad)
		}
	}
}

func TestCreateTable_BuffersPoolBoundToItself(t *testing.T) {
	db, err := Open(t.TempDir(), testCfg(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tbl, err := db.CreateTable("people", 3, 0)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := tbl.Insert([]uint64{1, 100, 200}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	recs, err := tbl.Select(lconfig.StartUserDataColumn, 1, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Select returned %d records, want 1", len(recs))
	}
}

func TestTable_ReturnsOpenTable(t *testing.T) {
	db, err := Open(t.TempDir(), testCfg(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, ok := db.Table("ghost"); ok {
		t.Fatal("Table found a table that was never created")
	}
	if _, err := db.CreateTable("people", 1, 0); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tbl, ok := db.Table("people")
	if !ok || tbl == nil {
		t.Fatal("Table did not find the table that was just created")
	}
}

func TestDropTable_RemovesFromMemoryAndDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testCfg(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.CreateTable("people", 1, 0); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := db.DropTable("people"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, ok := db.Table("people"); ok {
		t.Fatal("dropped table still resolvable via Table")
	}
	if err := db.DropTable("people"); err != lerr.ErrKeyMissing {
		t.Fatalf("second DropTable err = %v, want ErrKeyMissing", err)
	}
}

func TestOpen_ReopensExistingTablesFromDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg()

	db1, err := Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tbl, err := db1.CreateTable("people", 3, 0)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := tbl.Insert([]uint64{1, 10, 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, cfg, nil)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	names := db2.TableNames()
	if len(names) != 1 || names[0] != "people" {
		t.Fatalf("reopened TableNames = %v, want [people]", names)
	}
	reopened, ok := db2.Table("people")
	if !ok {
		t.Fatal("reopened database missing table people")
	}
	recs, err := reopened.Select(lconfig.StartUserDataColumn, 1, nil)
	if err != nil {
		t.Fatalf("Select after reopen: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Select after reopen returned %d rows, want 1", len(recs))
	}
}

func TestSanitizeName_Table(t *testing.T) {
	if err := sanitizeName(filepath.Join("a", "b")); err == nil {
		t.Fatal("expected a path-separator name to be rejected")
	}
	if err := sanitizeName("valid_name"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}
