package table

import (
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/index"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/page"
)

// readCell pins, reads, and unpins a single cell — used by collapse_row's
// indirection-chain walk.
func (t *Table) readCell(pid page.PID) (uint64, error) {
	p, err := t.bp.GetPage(pid.Key(), true)
	if err != nil {
		return 0, err
	}
	defer t.bp.Unpin(pid.Key())
	return p.Read(pid.CellIdx)
}

// Record is a query result row: the requested column values, keyed by
// absolute column index.
type Record struct {
	RID     uint64
	Columns map[int]uint64
}

// CollapseRow reconstructs the latest value of every column in wantMask
// (a set of absolute column indices) for the base row rid, per spec
// §4.4's collapse_row algorithm.
func (t *Table) CollapseRow(rid uint64, wantMask map[int]bool) (map[int]uint64, error) {
	latch := t.ridLatch(rid)
	latch.RLock()
	defer latch.RUnlock()

	t.dirMu.RLock()
	base := t.pageDirectory[rid]
	t.dirMu.RUnlock()
	if base == nil || !base.IsBase {
		return nil, lerr.ErrKeyMissing
	}

	resp := make(map[int]uint64, len(wantMask))
	need := make(map[int]bool, len(wantMask))
	tpsAll := make(map[int]uint64, len(wantMask))

	for col := range wantMask {
		pid, ok := base.Columns[col]
		if !ok {
			continue
		}
		p, err := t.bp.GetPage(pid.Key(), true)
		if err != nil {
			return nil, err
		}
		val, err := p.Read(pid.CellIdx)
		tps := p.ReadTPS()
		t.bp.Unpin(pid.Key())
		if err != nil {
			return nil, err
		}
		resp[col] = val
		tpsAll[col] = tps
		if col >= lconfig.StartUserDataColumn {
			bit := uint(col - lconfig.StartUserDataColumn)
			if base.Schema&(1<<bit) != 0 {
				need[col] = true
			}
		}
	}

	anyNeeded := func() bool {
		for _, v := range need {
			if v {
				return true
			}
		}
		return false
	}

	t.dirMu.RLock()
	indirPID := base.Columns[lconfig.IndirectionColumn]
	t.dirMu.RUnlock()

	curRID, err := t.readCell(indirPID)
	if err != nil {
		return nil, err
	}

	seen := map[uint64]bool{}
	for anyNeeded() && curRID != rid && !seen[curRID] {
		seen[curRID] = true
		t.dirMu.RLock()
		tailRec := t.pageDirectory[curRID]
		t.dirMu.RUnlock()
		if tailRec == nil {
			break
		}
		for col := range need {
			if !need[col] {
				continue
			}
			bit := uint(col - lconfig.StartUserDataColumn)
			if col < lconfig.StartUserDataColumn || tailRec.Schema&(1<<bit) != 0 {
				if curRID < tpsAll[col] {
					pid, ok := tailRec.Columns[col]
					if ok {
						val, err := t.readCell(pid)
						if err != nil {
							return nil, err
						}
						resp[col] = val
					}
				}
				need[col] = false
			}
		}
		nextPID, ok := tailRec.Columns[lconfig.IndirectionColumn]
		if !ok {
			break
		}
		next, err := t.readCell(nextPID)
		if err != nil {
			return nil, err
		}
		curRID = next
	}

	return resp, nil
}

// allColumnsMask returns a want-mask covering every system and user
// column, used by Select's "all columns" case.
func (t *Table) allColumnsMask() map[int]bool {
	m := make(map[int]bool, t.totalColumns())
	for c := 0; c < t.totalColumns(); c++ {
		m[c] = true
	}
	return m
}

func maskFromColumns(cols []int) map[int]bool {
	m := make(map[int]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// Select returns the requested columns for rows matching a lookup on
// column col (the primary key column or an indexed user column).
// columns, when nil, selects every column (spec §4.4).
func (t *Table) Select(col int, value uint64, columns []int) ([]*Record, error) {
	var rids []uint64

	if col == lconfig.StartUserDataColumn+t.keyCol {
		t.dirMu.RLock()
		rid, ok := t.keyIndex[value]
		t.dirMu.RUnlock()
		if !ok {
			return nil, nil
		}
		rids = []uint64{rid}
	} else {
		idx, err := t.ensureIndex(col)
		if err != nil {
			return nil, err
		}
		bucket, _ := idx.GetRID(int64(value))
		rids = bucket
	}

	mask := t.allColumnsMask()
	if columns != nil {
		mask = maskFromColumns(columns)
	}

	out := make([]*Record, 0, len(rids))
	for _, rid := range rids {
		vals, err := t.CollapseRow(rid, mask)
		if err != nil {
			if err == lerr.ErrKeyMissing {
				continue
			}
			return nil, err
		}
		out = append(out, &Record{RID: rid, Columns: vals})
	}
	return out, nil
}

// Sum accumulates column aggCol over every live key in [start, end]
// (spec §4.4).
func (t *Table) Sum(start, end uint64, aggCol int) (uint64, error) {
	if start > end {
		start, end = end, start
	}
	mask := map[int]bool{aggCol: true}
	var total uint64
	for k := start; k <= end; k++ {
		t.dirMu.RLock()
		rid, ok := t.keyIndex[k]
		t.dirMu.RUnlock()
		if !ok {
			continue
		}
		vals, err := t.CollapseRow(rid, mask)
		if err != nil {
			if err == lerr.ErrKeyMissing {
				continue
			}
			return 0, err
		}
		total += vals[aggCol]
	}
	return total, nil
}

// ensureIndex returns the secondary index for col, building it from a full
// table scan on first use (spec §4.4: "auto-create the B+ tree index if
// missing").
func (t *Table) ensureIndex(col int) (*index.Tree, error) {
	if col < lconfig.StartUserDataColumn || col >= t.totalColumns() {
		return nil, lerr.ErrOutOfRange
	}
	t.dirMu.Lock()
	if idx, ok := t.indices[col]; ok {
		t.dirMu.Unlock()
		return idx, nil
	}
	baseRIDs := make([]uint64, 0, len(t.pageDirectory))
	for rid, mr := range t.pageDirectory {
		if mr.IsBase {
			baseRIDs = append(baseRIDs, rid)
		}
	}
	t.dirMu.Unlock()

	mask := map[int]bool{col: true}
	idx := index.New(index.DefaultMaxNodeSize)
	for _, rid := range baseRIDs {
		vals, err := t.CollapseRow(rid, mask)
		if err != nil {
			if err == lerr.ErrKeyMissing {
				continue
			}
			return nil, err
		}
		idx.Insert(int64(vals[col]), rid)
	}

	t.dirMu.Lock()
	if existing, ok := t.indices[col]; ok {
		t.dirMu.Unlock()
		return existing, nil
	}
	t.indices[col] = idx
	t.dirMu.Unlock()
	return idx, nil
}

// CreateIndex eagerly builds the secondary index for col.
func (t *Table) CreateIndex(col int) error {
	_, err := t.ensureIndex(col)
	return err
}

// DropIndex removes the secondary index for col, if any.
func (t *Table) DropIndex(col int) {
	t.dirMu.Lock()
	defer t.dirMu.Unlock()
	delete(t.indices, col)
}

