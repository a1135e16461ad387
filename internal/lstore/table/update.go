package table

import (
	"time"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/page"
)

// Update applies a partial column update to the base row identified by
// key. values holds one entry per user column; present[i]==false means
// column i is left untouched. Returns lerr.ErrNoChange if no column is
// present, lerr.ErrKeyMissing if key has no live base record (spec §4.4).
func (t *Table) Update(key uint64, values []uint64, present []bool) error {
	if len(values) != t.numUserColumns || len(present) != t.numUserColumns {
		return lerr.ErrArity
	}
	var tailSchema uint64
	for i, p := range present {
		if p {
			tailSchema |= 1 << uint(i)
		}
	}
	if tailSchema == 0 {
		return lerr.ErrNoChange
	}

	t.dirMu.RLock()
	rid, ok := t.keyIndex[key]
	t.dirMu.RUnlock()
	if !ok {
		return lerr.ErrKeyMissing
	}

	latch := t.ridLatch(rid)
	latch.Lock()
	defer latch.Unlock()

	t.dirMu.RLock()
	base := t.pageDirectory[rid]
	t.dirMu.RUnlock()
	if base == nil {
		return lerr.ErrKeyMissing
	}

	indirPID := base.Columns[lconfig.IndirectionColumn]
	schemaPID := base.Columns[lconfig.SchemaEncodingColumn]
	indirPage, err := t.bp.GetPage(indirPID.Key(), true)
	if err != nil {
		return err
	}
	prevIndirection, err := indirPage.Read(indirPID.CellIdx)
	t.bp.Unpin(indirPID.Key())
	if err != nil {
		return err
	}

	schemaPage, err := t.bp.GetPage(schemaPID.Key(), true)
	if err != nil {
		return err
	}
	prevBaseSchema, err := schemaPage.Read(schemaPID.CellIdx)
	t.bp.Unpin(schemaPID.Key())
	if err != nil {
		return err
	}

	t.countersMu.Lock()
	t.prevTID--
	newTID := t.prevTID
	t.countersMu.Unlock()

	tailValues := map[int]uint64{
		lconfig.IndirectionColumn:    prevIndirection,
		lconfig.RIDColumn:            newTID,
		lconfig.TimestampColumn:      uint64(time.Now().UnixMilli()),
		lconfig.SchemaEncodingColumn: tailSchema,
	}
	for i, p := range present {
		if p {
			tailValues[lconfig.StartUserDataColumn+i] = values[i]
		}
	}

	tailRec := &MetaRecord{RID: newTID, Key: key, IsBase: false, Schema: tailSchema, Columns: make(map[int]page.PID)}
	for col := 0; col < lconfig.NumSystemColumns; col++ {
		pid, err := t.writeTailColumn(base, col, tailValues[col])
		if err != nil {
			return err
		}
		tailRec.Columns[col] = pid
	}
	for i, p := range present {
		if !p {
			continue
		}
		col := lconfig.StartUserDataColumn + i
		pid, err := t.writeTailColumn(base, col, tailValues[col])
		if err != nil {
			return err
		}
		tailRec.Columns[col] = pid
	}

	t.dirMu.Lock()
	t.pageDirectory[newTID] = tailRec
	t.dirMu.Unlock()

	if err := t.writeBaseCell(indirPID, newTID); err != nil {
		return err
	}
	newBaseSchema := prevBaseSchema | tailSchema
	if err := t.writeBaseCell(schemaPID, newBaseSchema); err != nil {
		return err
	}
	base.Schema = newBaseSchema

	for i, p := range present {
		if !p {
			continue
		}
		col := lconfig.StartUserDataColumn + i
		if idx, ok := t.indices[col]; ok {
			idx.Insert(int64(values[i]), rid)
		}
	}

	t.mergeMu.Lock()
	t.updatesSinceMerge++
	t.mergeMu.Unlock()

	return nil
}

// writeTailColumn allocates a cell in the open tail page of the base
// column's page range and writes value into it, serialized under the
// table-wide tail-column lock (spec §4.4).
func (t *Table) writeTailColumn(base *MetaRecord, col int, value uint64) (page.PID, error) {
	basePID := base.Columns[col]

	t.tailColMu.Lock()
	defer t.tailColMu.Unlock()

	pr, err := t.getOrCreateRange(basePID.PageRangeIdx)
	if err != nil {
		return page.PID{}, err
	}
	innerIdx, tp := pr.GetOpenTailPage()
	if tp.NumRecords() == 0 {
		rf, err := t.rangeFile(basePID.PageRangeIdx)
		if err != nil {
			return page.PID{}, err
		}
		tailIdx := innerIdx - t.cfg.PageRangeMaxBasePages
		if err := rf.GrowTail(tailIdx + 1); err != nil {
			return page.PID{}, err
		}
	}
	recordNum, err := tp.Write(value)
	if err != nil {
		return page.PID{}, err
	}
	return page.PID{CellIdx: recordNum - 1, InnerPageIdx: innerIdx, PageRangeIdx: basePID.PageRangeIdx}, nil
}

// writeBaseCell pins, writes, and unpins a single base-page cell under the
// buffer pool (used for the base indirection/schema writes in update, held
// across both under the caller's RID latch per the update-locking-gap fix,
// SPEC_FULL.md §6).
func (t *Table) writeBaseCell(pid page.PID, value uint64) error {
	p, err := t.bp.GetPage(pid.Key(), true)
	if err != nil {
		return err
	}
	defer t.bp.Unpin(pid.Key())
	return p.WriteToCell(value, pid.CellIdx, false)
}
