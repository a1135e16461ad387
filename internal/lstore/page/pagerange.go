package page

import (
	"sync"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

// PID locates one cell: (cell_idx, inner_page_idx, page_range_idx), spec §3.
// InnerIdx < B identifies a base page; InnerIdx >= B identifies tail page
// (InnerIdx - B) of the range.
type PID struct {
	CellIdx      int
	InnerPageIdx int
	PageRangeIdx int
}

// Key returns the PageKey (page-granularity identity) this PID addresses.
func (p PID) Key() PageKey { return PageKey{InnerPageIdx: p.InnerPageIdx, PageRangeIdx: p.PageRangeIdx} }

// PageKey identifies one page within a table, independent of which cell in
// it is being addressed. The buffer pool pins/evicts at this granularity.
type PageKey struct {
	InnerPageIdx int
	PageRangeIdx int
}

// IsTail reports whether this key addresses a tail page given B base pages.
func (k PageKey) IsTail(basePagesPerRange int) bool { return k.InnerPageIdx >= basePagesPerRange }

// TailIndex returns the 0-based tail index for a tail PageKey.
func (k PageKey) TailIndex(basePagesPerRange int) int { return k.InnerPageIdx - basePagesPerRange }

// PageRange is a fixed-capacity array of <= B base pages plus an unbounded,
// append-only list of tail pages (spec §3, §4.2).
type PageRange struct {
	cfg   *lconfig.Config
	index int // this range's page_range_idx

	mu        sync.Mutex // serializes create_base_page/get_open_tail_page
	basePages []*Page
	tailPages []*Page
}

// NewPageRange creates an empty range at the given index.
func NewPageRange(cfg *lconfig.Config, index int) *PageRange {
	return &PageRange{cfg: cfg, index: index}
}

// Index returns this range's page_range_idx.
func (pr *PageRange) Index() int { return pr.index }

// BasePageCount returns the number of base pages created so far.
func (pr *PageRange) BasePageCount() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.basePages)
}

// TailPageCount returns the number of tail pages created so far.
func (pr *PageRange) TailPageCount() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.tailPages)
}

// IsFull reports whether the range has reached its base-page capacity.
func (pr *PageRange) IsFull() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return len(pr.basePages) >= pr.cfg.PageRangeMaxBasePages
}

// CreateBasePage allocates the next base page slot. Fails with the internal
// RangeFull error when the range already has B base pages (spec §4.2).
func (pr *PageRange) CreateBasePage() (int, *Page, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if len(pr.basePages) >= pr.cfg.PageRangeMaxBasePages {
		return 0, nil, lerr.RangeFull()
	}
	idx := len(pr.basePages)
	p := NewResident(pr.cfg)
	pr.basePages = append(pr.basePages, p)
	return idx, p, nil
}

// AdoptBasePage installs a page recovered from disk at inner index idx,
// extending the slice if necessary. Used by DiskManager on open.
func (pr *PageRange) AdoptBasePage(idx int, p *Page) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.growBase(idx + 1)
	pr.basePages[idx] = p
}

// AdoptTailPage installs a tail page recovered from disk at tail index idx.
func (pr *PageRange) AdoptTailPage(idx int, p *Page) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.growTail(idx + 1)
	pr.tailPages[idx] = p
}

func (pr *PageRange) growBase(n int) {
	for len(pr.basePages) < n {
		pr.basePages = append(pr.basePages, nil)
	}
}

func (pr *PageRange) growTail(n int) {
	for len(pr.tailPages) < n {
		pr.tailPages = append(pr.tailPages, nil)
	}
}

// GetBasePage returns the base page at inner index idx.
func (pr *PageRange) GetBasePage(idx int) *Page {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if idx < 0 || idx >= len(pr.basePages) {
		return nil
	}
	return pr.basePages[idx]
}

// GetTailPage returns the tail page at 0-based tail index idx.
func (pr *PageRange) GetTailPage(idx int) *Page {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if idx < 0 || idx >= len(pr.tailPages) {
		return nil
	}
	return pr.tailPages[idx]
}

// GetOpenTailPage returns the current open tail page (creating one if the
// range has none, or if the current one is full), serialized under the
// range's lock so concurrent updaters never create competing tails
// (spec §4.2).
func (pr *PageRange) GetOpenTailPage() (int, *Page) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if n := len(pr.tailPages); n > 0 {
		last := pr.tailPages[n-1]
		if last != nil && last.NumRecords() < pr.cfg.CellsPerPage {
			return pr.cfg.PageRangeMaxBasePages + n - 1, last
		}
	}
	p := NewResident(pr.cfg)
	pr.tailPages = append(pr.tailPages, p)
	return pr.cfg.PageRangeMaxBasePages + len(pr.tailPages) - 1, p
}

// GetPage returns the page at an inner index, whether base or tail.
func (pr *PageRange) GetPage(innerIdx int) *Page {
	if innerIdx < pr.cfg.PageRangeMaxBasePages {
		return pr.GetBasePage(innerIdx)
	}
	return pr.GetTailPage(innerIdx - pr.cfg.PageRangeMaxBasePages)
}
