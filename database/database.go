// Package database implements the "out of core" Database wrapper spec.md
// §1 names: a name->Table map over one disk.Manager root, grounded on the
// teacher's storage.DB (internal/storage/db.go), which owns a catalog of
// named tables over one pager-backed file the same way.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/disk"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/engctx"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/table"
)

// Database owns every table rooted at one directory on disk.
type Database struct {
	cfg     *lconfig.Config
	diskMgr *disk.Manager
	ectx    *engctx.Context
	logger  *log.Logger

	mu     sync.RWMutex
	tables map[string]*table.Table
}

// Open opens (creating if necessary) the database rooted at dir. Every Open
// call gets its own engctx.Context so concurrent opens (e.g. one per test)
// correlate their log output by session id rather than sharing one.
func Open(dir string, cfg *lconfig.Config, logger *log.Logger) (*Database, error) {
	if cfg == nil {
		cfg = lconfig.Default()
	}
	ectx := engctx.New(logger)
	diskMgr, err := disk.Open(dir)
	if err != nil {
		return nil, err
	}
	db := &Database{
		cfg:     cfg,
		diskMgr: diskMgr,
		ectx:    ectx,
		logger:  ectx.Logger,
		tables:  make(map[string]*table.Table),
	}
	ectx.Printf("opened database at %s", dir)

	entries, err := diskMgr.ListTables()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		t, err := table.Open(cfg, diskMgr, e.Name, e.NumColumns-lconfig.NumSystemColumns, e.KeyCol, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("lstore/database: reopen table %s: %w", e.Name, err)
		}
		db.tables[e.Name] = t
	}
	return db, nil
}

// sanitizeName rejects table names that could escape the database root
// through path traversal, matching the teacher's identifier validation in
// its SQL parser (no slashes, no "..", no empty string).
func sanitizeName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return fmt.Errorf("lstore/database: invalid table name %q", name)
	}
	return nil
}

// CreateTable creates a new table named name with numUserColumns user
// columns, keyCol (0-based user-column index) as its primary key.
func (db *Database) CreateTable(name string, numUserColumns, keyCol int) (*table.Table, error) {
	if err := sanitizeName(name); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.tables[name]; exists {
		return nil, lerr.ErrNameExists
	}
	t, err := table.Open(db.cfg, db.diskMgr, name, numUserColumns, keyCol, nil, db.logger)
	if err != nil {
		return nil, err
	}
	db.tables[name] = t
	return t, nil
}

// Table returns the named table, or (nil, false) if it does not exist.
func (db *Database) Table(name string) (*table.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// TableNames lists every open table, in no particular order.
func (db *Database) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for n := range db.tables {
		names = append(names, n)
	}
	return names
}

// DropTable closes and permanently removes a table: its directory entry,
// its on-disk files, and its in-memory handle (spec.md §9's drop_table
// Open Question, resolved in SPEC_FULL.md §10 as implemented).
func (db *Database) DropTable(name string) error {
	if err := sanitizeName(name); err != nil {
		return err
	}
	db.mu.Lock()
	t, ok := db.tables[name]
	if !ok {
		db.mu.Unlock()
		return lerr.ErrKeyMissing
	}
	delete(db.tables, name)
	db.mu.Unlock()

	if err := t.Close(); err != nil {
		db.ectx.Printf("lstore/database: close %s before drop: %v", name, err)
	}
	if err := db.diskMgr.RemoveTable(name); err != nil {
		return err
	}
	dir := filepath.Join(db.diskMgr.Root(), name)
	return os.RemoveAll(dir)
}

// Close persists and closes every open table.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var firstErr error
	for name, t := range db.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lstore/database: close %s: %w", name, err)
		}
	}
	return firstErr
}
