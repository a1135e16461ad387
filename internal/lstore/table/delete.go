package table

import (
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/index"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

// Delete tombstones the base row under key and every tail record in its
// indirection chain, removing all secondary-index entries for the row
// (spec §4.4).
func (t *Table) Delete(key uint64) error {
	t.dirMu.RLock()
	rid, ok := t.keyIndex[key]
	t.dirMu.RUnlock()
	if !ok {
		return lerr.ErrKeyMissing
	}

	latch := t.ridLatch(rid)
	latch.Lock()
	defer latch.Unlock()

	t.dirMu.Lock()
	base := t.pageDirectory[rid]
	if base == nil {
		t.dirMu.Unlock()
		return lerr.ErrKeyMissing
	}
	delete(t.keyIndex, key)
	t.dirMu.Unlock()

	ridPID := base.Columns[lconfig.RIDColumn]
	if err := t.writeBaseCell(ridPID, 0); err != nil {
		return err
	}

	t.dirMu.RLock()
	indexSnapshot := make(map[int]*index.Tree, len(t.indices))
	for col, idx := range t.indices {
		indexSnapshot[col] = idx
	}
	t.dirMu.RUnlock()
	for col, idx := range indexSnapshot {
		if col < lconfig.StartUserDataColumn {
			continue
		}
		if k, ok := idx.FindByRID(rid); ok {
			idx.Remove(k, rid)
		}
	}

	indirPID := base.Columns[lconfig.IndirectionColumn]
	curRID, err := t.readCell(indirPID)
	if err != nil {
		return err
	}

	seen := map[uint64]bool{rid: true}
	for curRID != rid && !seen[curRID] {
		seen[curRID] = true
		t.dirMu.Lock()
		tailRec := t.pageDirectory[curRID]
		t.dirMu.Unlock()
		if tailRec == nil {
			break
		}
		tailRIDPID, hasRID := tailRec.Columns[lconfig.RIDColumn]
		if hasRID {
			if err := t.writeBaseCell(tailRIDPID, 0); err != nil {
				return err
			}
		}
		nextPID, ok := tailRec.Columns[lconfig.IndirectionColumn]
		if !ok {
			break
		}
		next, err := t.readCell(nextPID)
		if err != nil {
			return err
		}

		t.dirMu.Lock()
		delete(t.pageDirectory, curRID)
		t.tombstones = append(t.tombstones, tailRec)
		t.dirMu.Unlock()

		curRID = next
	}

	t.dirMu.Lock()
	delete(t.pageDirectory, rid)
	t.tombstones = append(t.tombstones, base)
	t.dirMu.Unlock()

	return nil
}

// Increment performs a best-effort, non-atomic read-modify-write on a
// single user column: collapse the current value, add delta, and issue a
// one-column update. Documented in DESIGN.md as deliberately not
// linearizable (spec §9 leaves "increment" semantics unclear).
func (t *Table) Increment(key uint64, col int, delta int64) error {
	t.dirMu.RLock()
	rid, ok := t.keyIndex[key]
	t.dirMu.RUnlock()
	if !ok {
		return lerr.ErrKeyMissing
	}

	vals, err := t.CollapseRow(rid, map[int]bool{col: true})
	if err != nil {
		return err
	}

	newVal := int64(vals[col]) + delta
	values := make([]uint64, t.numUserColumns)
	present := make([]bool, t.numUserColumns)
	userIdx := col - lconfig.StartUserDataColumn
	values[userIdx] = uint64(newVal)
	present[userIdx] = true
	return t.Update(key, values, present)
}
