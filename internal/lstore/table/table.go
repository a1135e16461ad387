// Package table implements the Table component of spec §3/§4.4: record
// placement into base/tail pages, the indirection/schema-encoding update
// protocol, and the versioned read (collapse_row). Grounded on the
// teacher's pager.BTree page-path traversal style (internal/storage/pager/
// btree.go) generalized to the fixed 4+U integer-column row model spec §3
// defines, which has no equivalent in the teacher's variable-column SQL
// table layer.
package table

import (
	"fmt"
	"log"
	"sync"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/bufferpool"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/disk"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/index"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/page"
)

// MetaRecord is the in-memory form of spec §3's (rid, key, columns) tuple.
// Columns is keyed by absolute column index (0..NumSystemColumns-1 for
// system columns, NumSystemColumns.. for user columns); a tail record's map
// holds only the system columns plus whichever user columns its Schema
// bitmap marks present.
type MetaRecord struct {
	RID     uint64
	Key     uint64
	IsBase  bool
	Schema  uint64
	Columns map[int]page.PID
}

// Table is one L-Store table: page ranges, page directory, key index,
// secondary indices, and the RID counters spec §3 names.
type Table struct {
	cfg            *lconfig.Config
	name           string
	numUserColumns int
	keyCol         int // 0-based user-column index used as the primary key

	diskMgr *disk.Manager
	bp      *bufferpool.BufferPool
	logger  *log.Logger

	allocMu   sync.Mutex // table-wide allocation lock (base-page placement)
	tailColMu sync.Mutex // tail-column lock (write_tail_column)

	rangesMu   sync.RWMutex
	ranges     []*page.PageRange
	rangeFiles map[int]*disk.PageRangeFile

	dirMu         sync.RWMutex
	pageDirectory map[uint64]*MetaRecord
	tombstones    []*MetaRecord
	keyIndex      map[uint64]uint64
	indices       map[int]*index.Tree

	countersMu sync.Mutex
	prevRID    uint64
	prevTID    uint64
	numRows    uint64

	mergeMu           sync.Mutex
	updatesSinceMerge int

	latchMu    sync.Mutex
	ridLatches map[uint64]*sync.RWMutex
}

// NumSystemColumns + NumUserColumns is every table's total column count.
func (t *Table) totalColumns() int { return lconfig.NumSystemColumns + t.numUserColumns }

// Open opens (creating if new) the table named name inside diskMgr's
// database root. keyCol is the 0-based user-column index serving as the
// primary key.
func Open(cfg *lconfig.Config, diskMgr *disk.Manager, name string, numUserColumns, keyCol int, bp *bufferpool.BufferPool, logger *log.Logger) (*Table, error) {
	if logger == nil {
		logger = log.Default()
	}
	t := &Table{
		cfg:            cfg,
		name:           name,
		numUserColumns: numUserColumns,
		keyCol:         keyCol,
		diskMgr:        diskMgr,
		logger:         logger,
		rangeFiles:     make(map[int]*disk.PageRangeFile),
		pageDirectory:  make(map[uint64]*MetaRecord),
		keyIndex:       make(map[uint64]uint64),
		indices:        make(map[int]*index.Tree),
		ridLatches:     make(map[uint64]*sync.RWMutex),
		prevTID:        cfg.ReservedTID,
	}
	t.bp = bp
	if t.bp == nil {
		t.bp = bufferpool.New(cfg, t, logger)
	}

	entries, err := diskMgr.ListTables()
	if err != nil {
		return nil, err
	}
	existing := false
	for _, e := range entries {
		if e.Name == name {
			existing = true
			break
		}
	}
	if !existing {
		if err := diskMgr.UpsertTable(disk.TableEntry{
			Name:          name,
			KeyCol:        keyCol,
			NumColumns:    t.totalColumns(),
			NumPageRanges: 0,
		}); err != nil {
			return nil, err
		}
		return t, nil
	}

	if err := t.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("lstore/table: open %s: %w", name, err)
	}
	return t, nil
}

func (t *Table) loadFromDisk() error {
	meta, err := t.diskMgr.ReadMeta(t.name, t.numUserColumns)
	if err != nil {
		return err
	}
	t.prevRID = meta.PrevRID
	t.prevTID = meta.PrevTID
	t.numRows = meta.NumRows

	maxRangeIdx := -1
	for _, rec := range meta.Records {
		mr := &MetaRecord{RID: rec.RID, Key: rec.Key, IsBase: rec.IsBase, Schema: rec.Schema, Columns: make(map[int]page.PID)}
		if rec.IsBase {
			for c, pid := range rec.Columns {
				mr.Columns[c] = page.PID{CellIdx: pid.CellIdx, InnerPageIdx: pid.InnerPageIdx, PageRangeIdx: pid.PageRangeIdx}
				if pid.PageRangeIdx > maxRangeIdx {
					maxRangeIdx = pid.PageRangeIdx
				}
			}
			t.keyIndex[rec.Key] = rec.RID
		} else {
			sysCols := lconfig.NumSystemColumns
			idx := 0
			for c := 0; c < sysCols; c++ {
				if idx < len(rec.Columns) {
					pid := rec.Columns[idx]
					mr.Columns[c] = page.PID{CellIdx: pid.CellIdx, InnerPageIdx: pid.InnerPageIdx, PageRangeIdx: pid.PageRangeIdx}
					if pid.PageRangeIdx > maxRangeIdx {
						maxRangeIdx = pid.PageRangeIdx
					}
					idx++
				}
			}
			for c := 0; c < t.numUserColumns; c++ {
				if rec.Schema&(1<<uint(c)) == 0 {
					continue
				}
				if idx < len(rec.Columns) {
					pid := rec.Columns[idx]
					mr.Columns[sysCols+c] = page.PID{CellIdx: pid.CellIdx, InnerPageIdx: pid.InnerPageIdx, PageRangeIdx: pid.PageRangeIdx}
					if pid.PageRangeIdx > maxRangeIdx {
						maxRangeIdx = pid.PageRangeIdx
					}
					idx++
				}
			}
		}
		t.pageDirectory[rec.RID] = mr
	}
	for _, d := range meta.Deleted {
		t.tombstones = append(t.tombstones, &MetaRecord{Schema: d.Schema})
	}

	for i := 0; i <= maxRangeIdx; i++ {
		if err := t.adoptRangeFromDisk(i); err != nil {
			return err
		}
	}
	// A base row's schema encoding is not in the meta file; read it back
	// from the row's schema-encoding cell.
	for _, mr := range t.pageDirectory {
		if !mr.IsBase {
			continue
		}
		schema, err := t.readCell(mr.Columns[lconfig.SchemaEncodingColumn])
		if err != nil {
			return err
		}
		mr.Schema = schema
	}
	return nil
}

// adoptRangeFromDisk recreates the structural PageRange for idx (all pages
// unloaded — bytes are demand-loaded through the buffer pool) from the
// range file's persisted header.
func (t *Table) adoptRangeFromDisk(idx int) error {
	rf, err := t.diskMgr.OpenPageRangeFile(t.name, idx, t.cfg.PageSize)
	if err != nil {
		return err
	}
	t.rangesMu.Lock()
	defer t.rangesMu.Unlock()
	t.rangeFiles[idx] = rf
	for len(t.ranges) <= idx {
		t.ranges = append(t.ranges, page.NewPageRange(t.cfg, len(t.ranges)))
	}
	pr := t.ranges[idx]
	for b := 0; b < rf.BasePageCount(); b++ {
		pr.AdoptBasePage(b, page.New(t.cfg))
	}
	for tl := 0; tl < rf.TailPageCount(); tl++ {
		pr.AdoptTailPage(tl, page.New(t.cfg))
	}
	return nil
}

// Close flushes every dirty page through the buffer pool, closes the pool
// and writes the table's metadata file (spec §1 non-goal: no crash
// recovery beyond a consistent snapshot at close).
func (t *Table) Close() error {
	if err := t.bp.FlushAll(); err != nil {
		return err
	}
	t.bp.Close()
	return t.saveMeta()
}

func (t *Table) saveMeta() error {
	t.dirMu.RLock()
	defer t.dirMu.RUnlock()

	meta := &disk.TableMeta{
		PrevRID: t.prevRID,
		PrevTID: t.prevTID,
		NumRows: t.numRows,
	}
	for _, ts := range t.tombstones {
		meta.Deleted = append(meta.Deleted, disk.DeletedRecord{Schema: ts.Schema})
	}
	for _, mr := range t.pageDirectory {
		rec := disk.MetaRecord{RID: mr.RID, Key: mr.Key, IsBase: mr.IsBase, Schema: mr.Schema}
		if mr.IsBase {
			total := t.totalColumns()
			rec.Columns = make([]disk.ColumnPID, total)
			for c := 0; c < total; c++ {
				p := mr.Columns[c]
				rec.Columns[c] = disk.ColumnPID{CellIdx: p.CellIdx, InnerPageIdx: p.InnerPageIdx, PageRangeIdx: p.PageRangeIdx}
			}
		} else {
			for c := 0; c < lconfig.NumSystemColumns; c++ {
				p := mr.Columns[c]
				rec.Columns = append(rec.Columns, disk.ColumnPID{CellIdx: p.CellIdx, InnerPageIdx: p.InnerPageIdx, PageRangeIdx: p.PageRangeIdx})
			}
			for c := 0; c < t.numUserColumns; c++ {
				if mr.Schema&(1<<uint(c)) == 0 {
					continue
				}
				p := mr.Columns[lconfig.NumSystemColumns+c]
				rec.Columns = append(rec.Columns, disk.ColumnPID{CellIdx: p.CellIdx, InnerPageIdx: p.InnerPageIdx, PageRangeIdx: p.PageRangeIdx})
			}
		}
		meta.Records = append(meta.Records, rec)
	}
	return t.diskMgr.WriteMeta(t.name, meta)
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// NumRows returns the number of base rows ever allocated.
func (t *Table) NumRows() uint64 {
	t.countersMu.Lock()
	defer t.countersMu.Unlock()
	return t.numRows
}

// --- bufferpool.PageStore ---------------------------------------------

// Resolve implements bufferpool.PageStore: returns the structural page at
// key, which must already have been created by an allocation path.
func (t *Table) Resolve(key page.PageKey) (*page.Page, error) {
	t.rangesMu.RLock()
	defer t.rangesMu.RUnlock()
	if key.PageRangeIdx >= len(t.ranges) {
		return nil, fmt.Errorf("lstore/table: %w: no page range %d", lerr.ErrCorrupt, key.PageRangeIdx)
	}
	p := t.ranges[key.PageRangeIdx].GetPage(key.InnerPageIdx)
	if p == nil {
		return nil, fmt.Errorf("lstore/table: %w: no page at %+v", lerr.ErrCorrupt, key)
	}
	return p, nil
}

// LoadBytes implements bufferpool.PageStore by delegating to the range's
// on-disk file. The physical slot index equals the logical InnerPageIdx:
// base-page slots always reserve the full B-wide address space (rather
// than packing by the file's current base_page_count), so tail pages never
// collide with a not-yet-created base page as the range keeps filling —
// see DESIGN.md.
func (t *Table) LoadBytes(key page.PageKey) ([]byte, int, error) {
	rf, err := t.rangeFile(key.PageRangeIdx)
	if err != nil {
		return nil, 0, err
	}
	return rf.ReadPage(key.InnerPageIdx)
}

// WriteBytes implements bufferpool.PageStore.
func (t *Table) WriteBytes(key page.PageKey, data []byte, numRecords int) error {
	rf, err := t.rangeFile(key.PageRangeIdx)
	if err != nil {
		return err
	}
	return rf.WritePage(key.InnerPageIdx, data, numRecords)
}

func (t *Table) rangeFile(idx int) (*disk.PageRangeFile, error) {
	t.rangesMu.RLock()
	rf := t.rangeFiles[idx]
	t.rangesMu.RUnlock()
	if rf != nil {
		return rf, nil
	}
	t.rangesMu.Lock()
	defer t.rangesMu.Unlock()
	if rf := t.rangeFiles[idx]; rf != nil {
		return rf, nil
	}
	rf, err := t.diskMgr.OpenPageRangeFile(t.name, idx, t.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	t.rangeFiles[idx] = rf
	return rf, nil
}

// --- RID latches ---------------------------------------------------------

func (t *Table) ridLatch(rid uint64) *sync.RWMutex {
	t.latchMu.Lock()
	defer t.latchMu.Unlock()
	l, ok := t.ridLatches[rid]
	if !ok {
		l = &sync.RWMutex{}
		t.ridLatches[rid] = l
	}
	return l
}

// getOrCreateRange returns the page range at idx, creating it (and
// registering its on-disk file) if it does not yet exist. Must be called
// with allocMu held when creating new ranges during allocation.
func (t *Table) getOrCreateRange(idx int) (*page.PageRange, error) {
	t.rangesMu.Lock()
	defer t.rangesMu.Unlock()
	for len(t.ranges) <= idx {
		t.ranges = append(t.ranges, page.NewPageRange(t.cfg, len(t.ranges)))
	}
	if _, ok := t.rangeFiles[idx]; !ok {
		rf, err := t.diskMgr.OpenPageRangeFile(t.name, idx, t.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		t.rangeFiles[idx] = rf
	}
	return t.ranges[idx], nil
}
