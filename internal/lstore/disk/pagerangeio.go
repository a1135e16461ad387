package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

const pageRangeHeaderBytes = 16 // base_page_count u64 + tail_page_count u64

// PageRangeFile manages one <table>/pagerange_<n> file: a base_page_count
// and tail_page_count header followed by fixed-size page slots. Byte offset
// for inner index i is 16 + i*(8+PAGE_SIZE) (spec §4.7). The table stores
// tail page t at inner index PageRangeMaxBasePages+t, not at
// base_page_count+t, so tail slots do not follow the base pages written.
type PageRangeFile struct {
	path      string
	pageSize  int
	mu        sync.Mutex
	basePages int
	tailPages int
}

func pageRangePath(root, table string, idx int) string {
	return filepath.Join(root, table, fmt.Sprintf("pagerange_%d", idx))
}

// OpenPageRangeFile opens (creating if absent) the page-range file for
// table/idx, reading its header if it already exists.
func (m *Manager) OpenPageRangeFile(table string, idx int, pageSize int) (*PageRangeFile, error) {
	if _, err := m.TableDir(table); err != nil {
		return nil, err
	}
	path := pageRangePath(m.root, table, idx)
	prf := &PageRangeFile{path: path, pageSize: pageSize}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := prf.writeHeader(); err != nil {
			return nil, err
		}
		return prf, nil
	}
	if err := prf.readHeader(); err != nil {
		return nil, err
	}
	return prf, nil
}

func (prf *PageRangeFile) slotSize() int { return 8 + prf.pageSize }

func (prf *PageRangeFile) offset(innerIdx int) int64 {
	return int64(pageRangeHeaderBytes) + int64(innerIdx)*int64(prf.slotSize())
}

func (prf *PageRangeFile) readHeader() error {
	f, err := os.Open(prf.path)
	if err != nil {
		return fmt.Errorf("lstore/disk: %w: open %s: %v", lerr.ErrIO, prf.path, err)
	}
	defer f.Close()
	var hdr [pageRangeHeaderBytes]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("lstore/disk: %w: read header %s: %v", lerr.ErrCorrupt, prf.path, err)
	}
	prf.mu.Lock()
	prf.basePages = int(binary.LittleEndian.Uint64(hdr[0:8]))
	prf.tailPages = int(binary.LittleEndian.Uint64(hdr[8:16]))
	prf.mu.Unlock()
	return nil
}

func (prf *PageRangeFile) writeHeader() error {
	f, err := os.OpenFile(prf.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("lstore/disk: %w: open %s: %v", lerr.ErrIO, prf.path, err)
	}
	defer f.Close()
	var hdr [pageRangeHeaderBytes]byte
	prf.mu.Lock()
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(prf.basePages))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(prf.tailPages))
	prf.mu.Unlock()
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("lstore/disk: %w: write header %s: %v", lerr.ErrIO, prf.path, err)
	}
	return nil
}

// BasePageCount returns the persisted base-page count.
func (prf *PageRangeFile) BasePageCount() int {
	prf.mu.Lock()
	defer prf.mu.Unlock()
	return prf.basePages
}

// TailPageCount returns the persisted tail-page count.
func (prf *PageRangeFile) TailPageCount() int {
	prf.mu.Lock()
	defer prf.mu.Unlock()
	return prf.tailPages
}

// GrowBase records that a new base page slot now exists and persists the
// updated header. Slot bytes are written lazily by the first WritePage.
func (prf *PageRangeFile) GrowBase(newCount int) error {
	prf.mu.Lock()
	if newCount > prf.basePages {
		prf.basePages = newCount
	}
	prf.mu.Unlock()
	return prf.writeHeader()
}

// GrowTail records that a new tail page slot now exists and persists the
// updated header.
func (prf *PageRangeFile) GrowTail(newCount int) error {
	prf.mu.Lock()
	if newCount > prf.tailPages {
		prf.tailPages = newCount
	}
	prf.mu.Unlock()
	return prf.writeHeader()
}

// ReadPage reads the num_records+payload slot at inner index idx.
func (prf *PageRangeFile) ReadPage(innerIdx int) (data []byte, numRecords int, err error) {
	f, err := os.Open(prf.path)
	if err != nil {
		return nil, 0, fmt.Errorf("lstore/disk: %w: open %s: %v", lerr.ErrIO, prf.path, err)
	}
	defer f.Close()

	slot := make([]byte, prf.slotSize())
	if _, err := f.ReadAt(slot, prf.offset(innerIdx)); err != nil {
		return nil, 0, fmt.Errorf("lstore/disk: %w: read page %d of %s: %v", lerr.ErrCorrupt, innerIdx, prf.path, err)
	}
	numRecords = int(binary.LittleEndian.Uint64(slot[0:8]))
	payload := make([]byte, prf.pageSize)
	copy(payload, slot[8:])
	return payload, numRecords, nil
}

// WritePage writes the num_records+payload slot at inner index idx. Callers
// only invoke this for dirty pages — clean pages are left untouched on
// disk, which is the "seek past, don't rewrite" behavior spec §4.7
// describes (achieved here simply by never calling WritePage for a page
// that was never marked dirty).
func (prf *PageRangeFile) WritePage(innerIdx int, data []byte, numRecords int) error {
	f, err := os.OpenFile(prf.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("lstore/disk: %w: open %s: %v", lerr.ErrIO, prf.path, err)
	}
	defer f.Close()

	slot := make([]byte, prf.slotSize())
	binary.LittleEndian.PutUint64(slot[0:8], uint64(numRecords))
	copy(slot[8:], data)
	if _, err := f.WriteAt(slot, prf.offset(innerIdx)); err != nil {
		return fmt.Errorf("lstore/disk: %w: write page %d of %s: %v", lerr.ErrIO, innerIdx, prf.path, err)
	}
	return nil
}
