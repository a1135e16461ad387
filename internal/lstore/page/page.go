// Package page implements the fixed-size columnar page that underlies every
// base and tail page in the engine, plus the PageRange grouping of base and
// tail pages (spec §3, §4.1, §4.2). Layout and CRC-free encoding follow the
// teacher's pager.Page / pager.FreeListPage pattern of a raw byte buffer
// addressed with encoding/binary, generalized from byte-slotted records to
// fixed-width integer cells.
package page

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

// Page is an array of CellsPerPage fixed-width integer cells plus a
// reserved TPS cell (cell 0). Cells 1..CellsPerPage carry payload; on the
// wire and in Page.data payload cell i (0-based) lives at byte offset
// (i+1)*CellSizeBytes so that cell 0 stays the TPS slot (spec §3).
type Page struct {
	cfg *lconfig.Config

	mu         sync.Mutex // guards numRecords and residency flags
	latch      sync.Mutex // exclusive latch held by the caller across an RMW
	isLoaded   bool
	isDirty    bool
	numRecords int
	data       []byte // nil while not loaded
}

// New creates an unloaded page. Callers must Load it before Read/Write.
func New(cfg *lconfig.Config) *Page {
	return &Page{cfg: cfg}
}

// NewResident creates a page already loaded with a fresh, zeroed buffer —
// used when a page is allocated for the first time rather than read back
// from disk.
func NewResident(cfg *lconfig.Config) *Page {
	p := New(cfg)
	p.data = make([]byte, (cfg.CellsPerPage+1)*cfg.CellSizeBytes)
	binary.LittleEndian.PutUint64(p.data[0:cfg.CellSizeBytes], cfg.ReservedTID)
	p.isLoaded = true
	p.isDirty = true
	return p
}

// Latch returns the page's exclusive latch for read-modify-write sequences.
// No engine path takes it: update covers its indirection+schema write
// with the table's per-RID latch instead (spec §5/§9 "update locking gap").
func (p *Page) Latch() *sync.Mutex { return &p.latch }

// IsLoaded reports whether payload bytes are resident.
func (p *Page) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isLoaded
}

// IsDirty reports whether the page has been modified since last write-back.
// Independent of IsLoaded — spec §9 "Property getter/setter bug" note: the
// source conflates these two flags; here they are separate fields that must
// never alias.
func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isDirty
}

// NumRecords returns the number of payload cells in use.
func (p *Page) NumRecords() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numRecords
}

// Load materializes buf (and numRecords) as this page's resident bytes.
// Idempotent unless force is set — a second Load without force is a no-op,
// matching spec §4.1 ("load is idempotent unless forced"). Callers must
// hold a per-page-key load lock around Load to avoid a racing double-load
// (spec §4.1 — the buffer pool supplies that lock, see bufferpool package).
func (p *Page) Load(buf []byte, numRecords int, force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isLoaded && !force {
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.data = cp
	p.numRecords = numRecords
	p.isLoaded = true
}

// Unload releases the resident payload bytes. The caller is responsible for
// having already written back a dirty page before unloading it.
func (p *Page) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = nil
	p.isLoaded = false
	p.isDirty = false
}

// Bytes returns the raw resident buffer (for DiskManager write-back). The
// page must be loaded.
func (p *Page) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// ClearDirty clears the dirty flag after a successful write-back.
func (p *Page) ClearDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isDirty = false
}

// Write appends value to the next free payload cell, marks the page dirty,
// and returns the 1-based record number. Fails with the internal Capacity
// error when the page is full — callers must have allocated room via
// get_open_*_page and never observe this (spec §4.1, §7).
func (p *Page) Write(value uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numRecords >= p.cfg.CellsPerPage {
		return 0, lerr.Capacity()
	}
	cellIdx := p.numRecords
	p.writeCellLocked(value, cellIdx)
	p.numRecords++
	p.isDirty = true
	return p.numRecords, nil
}

// WriteToCell overwrites a specific 0-based payload cell. When increment is
// set, numRecords is also bumped — used by the aligned-allocation base-page
// write path (spec §4.4), where cellIdx is computed deterministically from
// the row number rather than trusting the page's current numRecords.
func (p *Page) WriteToCell(value uint64, cellIdx int, increment bool) error {
	if cellIdx < 0 || cellIdx >= p.cfg.CellsPerPage {
		return lerr.ErrOutOfBounds
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeCellLocked(value, cellIdx)
	if increment && cellIdx >= p.numRecords {
		p.numRecords = cellIdx + 1
	}
	p.isDirty = true
	return nil
}

func (p *Page) writeCellLocked(value uint64, cellIdx int) {
	off := (cellIdx + 1) * p.cfg.CellSizeBytes
	binary.LittleEndian.PutUint64(p.data[off:off+p.cfg.CellSizeBytes], value)
}

// Read returns the 0-based payload cell value. Fails with ErrOutOfBounds
// when cellIdx >= CellsPerPage (spec §4.1).
func (p *Page) Read(cellIdx int) (uint64, error) {
	if cellIdx < 0 || cellIdx >= p.cfg.CellsPerPage {
		return 0, lerr.ErrOutOfBounds
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isLoaded {
		return 0, fmt.Errorf("lstore/page: read of unloaded page")
	}
	off := (cellIdx + 1) * p.cfg.CellSizeBytes
	return binary.LittleEndian.Uint64(p.data[off : off+p.cfg.CellSizeBytes]), nil
}

// WriteTPS writes the reserved cell 0 (tail processing sequence).
func (p *Page) WriteTPS(tid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.data[0:p.cfg.CellSizeBytes], tid)
	p.isDirty = true
}

// ReadTPS reads the reserved cell 0.
func (p *Page) ReadTPS() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint64(p.data[0:p.cfg.CellSizeBytes])
}
