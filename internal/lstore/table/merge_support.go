package table

import (
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
)

// ShouldMerge reports whether updates-since-merge has crossed the
// configured threshold (spec §4.6's trigger condition).
func (t *Table) ShouldMerge() bool {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	return t.updatesSinceMerge >= t.cfg.MergeThreshold
}

// ResetMergeCounter zeroes updates-since-merge after a completed pass.
func (t *Table) ResetMergeCounter() {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	t.updatesSinceMerge = 0
}

// AllBaseRIDs returns every live base row id, a stable snapshot for a
// merge pass to iterate (spec §4.6 walks "each base page of each page
// range"; this engine's Table has no physical cell->RID reverse index, so
// a merge pass iterates logical base rows instead of physical pages. The
// reconciliation outcome, one base row fully folded per visit, is the
// same).
func (t *Table) AllBaseRIDs() []uint64 {
	t.dirMu.RLock()
	defer t.dirMu.RUnlock()
	out := make([]uint64, 0, len(t.pageDirectory))
	for rid, mr := range t.pageDirectory {
		if mr.IsBase {
			out = append(out, rid)
		}
	}
	return out
}

// MergeBaseRow folds every stale user column of base row rid back into its
// base cells and advances each touched page's TPS to the newest tail RID
// folded, per spec §4.6 steps 1-5. The buffer pool's FlushBufferPool must
// be called by the caller once a merge pass completes (step 6).
func (t *Table) MergeBaseRow(rid uint64) error {
	t.dirMu.RLock()
	base := t.pageDirectory[rid]
	t.dirMu.RUnlock()
	if base == nil || !base.IsBase || base.Schema == 0 {
		return nil
	}

	latch := t.ridLatch(rid)
	latch.Lock()
	defer latch.Unlock()

	staleCols := make([]int, 0, t.numUserColumns)
	for i := 0; i < t.numUserColumns; i++ {
		if base.Schema&(1<<uint(i)) != 0 {
			staleCols = append(staleCols, lconfig.StartUserDataColumn+i)
		}
	}
	if len(staleCols) == 0 {
		return nil
	}

	merged := make(map[int]bool, len(staleCols))
	for _, c := range staleCols {
		merged[c] = true
	}

	for _, col := range staleCols {
		pid := base.Columns[col]
		t.bp.MergePin(pid.Key())
	}

	values, newTPS, err := t.collapseForMerge(rid, base, merged)
	if err != nil {
		for _, col := range staleCols {
			t.bp.MergeUnpin(base.Columns[col].Key())
		}
		return err
	}

	for _, col := range staleCols {
		pid := base.Columns[col]
		if err := t.writeBaseCell(pid, values[col]); err != nil {
			t.bp.MergeUnpin(pid.Key())
			return err
		}
		p, err := t.bp.GetPage(pid.Key(), true)
		if err == nil {
			p.WriteTPS(newTPS)
			t.bp.Unpin(pid.Key())
		}
		t.bp.MergeUnpin(pid.Key())
	}

	t.dirMu.Lock()
	base.Schema = 0
	t.dirMu.Unlock()

	return nil
}

// collapseForMerge is collapse_row's algorithm specialized to capture the
// newest tail RID folded, for use as the new TPS (spec §4.6 step 3).
func (t *Table) collapseForMerge(rid uint64, base *MetaRecord, wantMask map[int]bool) (map[int]uint64, uint64, error) {
	resp := make(map[int]uint64, len(wantMask))
	need := make(map[int]bool, len(wantMask))
	for col := range wantMask {
		pid, ok := base.Columns[col]
		if !ok {
			continue
		}
		val, err := t.readCell(pid)
		if err != nil {
			return nil, 0, err
		}
		resp[col] = val
		need[col] = true
	}

	anyNeeded := func() bool {
		for _, v := range need {
			if v {
				return true
			}
		}
		return false
	}

	indirPID := base.Columns[lconfig.IndirectionColumn]
	curRID, err := t.readCell(indirPID)
	if err != nil {
		return nil, 0, err
	}

	var newestTail uint64 = t.cfg.ReservedTID
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
			if tailRec.Schema&(1<<bit) != 0 {
				pid, ok := tailRec.Columns[col]
				if ok {
					val, err := t.readCell(pid)
					if err != nil {
						return nil, 0, err
					}
					resp[col] = val
				}
				need[col] = false
				if curRID < newestTail {
					newestTail = curRID
				}
			}
		}
		nextPID, ok := tailRec.Columns[lconfig.IndirectionColumn]
		if !ok {
			break
		}
		next, err := t.readCell(nextPID)
		if err != nil {
			return nil, 0, err
		}
		curRID = next
	}

	return resp, newestTail, nil
}

// FlushBufferPool asks the buffer pool to flush any pages deferred during
// eviction while merge-pinned (spec §4.6 step 6).
func (t *Table) FlushBufferPool() {
	t.bp.FlushUnpooled()
}
