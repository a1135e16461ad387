package table

import (
	"fmt"
	"time"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/page"
)

// placement computes the deterministic (page_range_idx, inner_page_idx,
// cell_idx) triple for column col of the newRowNumber-th base row, per
// spec §4.4's literal formula.
func (t *Table) placement(col int, newRowNumber uint64) (pageRangeIdx, innerPageIdx, cellIdx int) {
	U4 := t.totalColumns()
	cellsPerPage := t.cfg.CellsPerPage
	B := t.cfg.PageRangeMaxBasePages

	rowZeroBased := int(newRowNumber - 1)
	slotIndex := rowZeroBased / cellsPerPage
	outerPage := col + slotIndex*U4
	pageRangeIdx = outerPage / B
	innerPageIdx = outerPage % B
	cellIdx = rowZeroBased % cellsPerPage
	return
}

// getOpenBasePage ensures the base page addressed by (col, newRowNumber)
// exists, creating base pages sequentially as needed (spec §4.2/§4.4 — the
// placement formula guarantees base pages are always requested in strict
// creation order when all 4+U columns of ascending rows are allocated in
// column order under the table-wide allocation lock).
func (t *Table) getOpenBasePage(col int, newRowNumber uint64) (page.PID, *page.Page, error) {
	rangeIdx, innerIdx, cellIdx := t.placement(col, newRowNumber)

	pr, err := t.getOrCreateRange(rangeIdx)
	if err != nil {
		return page.PID{}, nil, err
	}
	for pr.BasePageCount() <= innerIdx {
		createdIdx, _, err := pr.CreateBasePage()
		if err != nil {
			return page.PID{}, nil, fmt.Errorf("lstore/table: allocate base page: %w", err)
		}
		if err := func() error {
			rf, err := t.rangeFile(rangeIdx)
			if err != nil {
				return err
			}
			return rf.GrowBase(createdIdx + 1)
		}(); err != nil {
			return page.PID{}, nil, err
		}
	}
	p := pr.GetBasePage(innerIdx)
	if p == nil {
		return page.PID{}, nil, fmt.Errorf("lstore/table: %w: base page %d/%d missing after allocation", lerr.ErrCorrupt, rangeIdx, innerIdx)
	}
	pid := page.PID{CellIdx: cellIdx, InnerPageIdx: innerIdx, PageRangeIdx: rangeIdx}
	return pid, p, nil
}

// Insert adds a new base row with the given user-column values. columns
// must have exactly numUserColumns entries. Returns lerr.ErrKeyExists when
// the primary key is already present (spec §4.4).
func (t *Table) Insert(columns []uint64) error {
	if len(columns) != t.numUserColumns {
		return lerr.ErrArity
	}
	key := columns[t.keyCol]

	t.allocMu.Lock()
	defer t.allocMu.Unlock()

	t.dirMu.RLock()
	_, exists := t.keyIndex[key]
	t.dirMu.RUnlock()
	if exists {
		return lerr.ErrKeyExists
	}

	t.countersMu.Lock()
	t.prevRID++
	rid := t.prevRID
	t.numRows++
	t.countersMu.Unlock()

	mr := &MetaRecord{RID: rid, Key: key, IsBase: true, Columns: make(map[int]page.PID)}

	values := make([]uint64, t.totalColumns())
	values[lconfig.IndirectionColumn] = rid // no prior update: indirection points at self
	values[lconfig.RIDColumn] = rid
	values[lconfig.TimestampColumn] = uint64(time.Now().UnixMilli())
	values[lconfig.SchemaEncodingColumn] = 0
	for i, v := range columns {
		values[lconfig.StartUserDataColumn+i] = v
	}

	for col := 0; col < t.totalColumns(); col++ {
		pid, p, err := t.getOpenBasePage(col, rid)
		if err != nil {
			return err
		}
		if err := p.WriteToCell(values[col], pid.CellIdx, true); err != nil {
			return err
		}
		mr.Columns[col] = pid
	}

	t.dirMu.Lock()
	t.pageDirectory[rid] = mr
	t.keyIndex[key] = rid
	t.dirMu.Unlock()

	for col, idx := range t.indices {
		userVal := int64(columns[col-lconfig.StartUserDataColumn])
		idx.Insert(userVal, rid)
	}

	return nil
}
