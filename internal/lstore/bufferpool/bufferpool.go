// Package bufferpool implements the demand-loading, pinning, evicting page
// cache described in spec §4.3. It generalizes the teacher's
// pager.PageBufferPool (a single global LRU list keyed by PageID with an
// int pin count per frame, see internal/storage/pager/pager.go) to the
// striped-lock, merge-pin-aware pool spec §4.3/§5 require.
package bufferpool

import (
	"fmt"
	"log"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/page"
)

// PageStore is the table-scoped collaborator the pool delegates to: it
// resolves the structural Page object for a key (creating the PageRange
// slot on first reference) and performs the actual disk I/O.
type PageStore interface {
	// Resolve returns the structural Page for key, never nil on success.
	Resolve(key page.PageKey) (*page.Page, error)
	// LoadBytes reads a page's persisted bytes and record count.
	LoadBytes(key page.PageKey) ([]byte, int, error)
	// WriteBytes persists a page's bytes and record count.
	WriteBytes(key page.PageKey, data []byte, numRecords int) error
}

type entry struct {
	key page.PageKey
	pg  *page.Page
}

// BufferPool caches resident pages for a single table, pinning, evicting,
// and cooperating with the merge subsystem via merge-pins (spec §4.3).
type BufferPool struct {
	cfg    *lconfig.Config
	store  PageStore
	logger *log.Logger

	getStripes  []chan struct{} // semaphores of size 1, one per stripe
	loadStripes []chan struct{}

	mu            chanMutex
	pages         []entry
	pins          map[page.PageKey]int
	mergePins     map[page.PageKey]int
	loadedOffPool map[page.PageKey]*page.Page
	numPoolPages  int

	admitCh chan entry
	closeCh chan struct{}
}

// chanMutex is a trivial channel-based mutex so the package avoids a second
// import just for sync.Mutex wrapping (kept local, not exported).
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}
func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// New creates a BufferPool backed by store. logger defaults to log.Default
// when nil, matching the teacher's use of the standard log package
// throughout internal/storage.
func New(cfg *lconfig.Config, store PageStore, logger *log.Logger) *BufferPool {
	if logger == nil {
		logger = log.Default()
	}
	bp := &BufferPool{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		pins:          make(map[page.PageKey]int),
		mergePins:     make(map[page.PageKey]int),
		loadedOffPool: make(map[page.PageKey]*page.Page),
		mu:            newChanMutex(),
		admitCh:       make(chan entry, 1024),
		closeCh:       make(chan struct{}),
	}
	bp.getStripes = make([]chan struct{}, cfg.StripeCount)
	bp.loadStripes = make([]chan struct{}, cfg.StripeCount)
	for i := range bp.getStripes {
		bp.getStripes[i] = make(chan struct{}, 1)
		bp.getStripes[i] <- struct{}{}
		bp.loadStripes[i] = make(chan struct{}, 1)
		bp.loadStripes[i] <- struct{}{}
	}
	go bp.admissionWorker()
	return bp
}

func (bp *BufferPool) stripe(key page.PageKey) int {
	return (key.InnerPageIdx + 100*(key.PageRangeIdx+1)) % bp.cfg.StripeCount
}

func (bp *BufferPool) lockGet(key page.PageKey)   { <-bp.getStripes[bp.stripe(key)] }
func (bp *BufferPool) unlockGet(key page.PageKey) { bp.getStripes[bp.stripe(key)] <- struct{}{} }

func (bp *BufferPool) lockLoad(key page.PageKey)   { <-bp.loadStripes[bp.stripe(key)] }
func (bp *BufferPool) unlockLoad(key page.PageKey) { bp.loadStripes[bp.stripe(key)] <- struct{}{} }

// GetPage resolves, optionally pins, and ensures residency of the page at
// key. Callers that pass pin=true must later call Unpin(key) exactly once.
func (bp *BufferPool) GetPage(key page.PageKey, pin bool) (*page.Page, error) {
	bp.lockGet(key)
	defer bp.unlockGet(key)

	pg, err := bp.store.Resolve(key)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: resolve %+v: %w", key, err)
	}

	if pin {
		bp.mu.Lock()
		bp.pins[key]++
		bp.mu.Unlock()
	}

	if !pg.IsLoaded() {
		if err := bp.loadPage(key, pg); err != nil {
			if pin {
				bp.mu.Lock()
				bp.pins[key]--
				bp.mu.Unlock()
			}
			return nil, err
		}
	}

	select {
	case bp.admitCh <- entry{key: key, pg: pg}:
	default:
		// Admission queue full: admit synchronously rather than block the
		// caller indefinitely (soft-limit pool, spec §4.3 failure model).
		bp.admit(entry{key: key, pg: pg})
	}

	return pg, nil
}

// loadPage double-checks residency under the per-key load-lock bank before
// calling out to the disk manager (spec §4.1/§4.3).
func (bp *BufferPool) loadPage(key page.PageKey, pg *page.Page) error {
	bp.lockLoad(key)
	defer bp.unlockLoad(key)
	if pg.IsLoaded() {
		return nil
	}
	data, numRecords, err := bp.store.LoadBytes(key)
	if err != nil {
		return fmt.Errorf("bufferpool: load %+v: %w", key, err)
	}
	pg.Load(data, numRecords, false)
	return nil
}

// Unpin decrements the pin count for key, flooring at 0.
func (bp *BufferPool) Unpin(key page.PageKey) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.pins[key] > 0 {
		bp.pins[key]--
	}
}

// MergePin increments the merge-pin refcount for key, preventing eviction
// while the merge job is reading/rewriting the page (spec §4.3, §4.6).
func (bp *BufferPool) MergePin(key page.PageKey) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.mergePins[key]++
}

// MergeUnpin decrements the merge-pin refcount for key.
func (bp *BufferPool) MergeUnpin(key page.PageKey) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.mergePins[key] > 0 {
		bp.mergePins[key]--
	}
}

func (bp *BufferPool) admissionWorker() {
	for {
		select {
		case e := <-bp.admitCh:
			bp.admit(e)
		case <-bp.closeCh:
			return
		}
	}
}

// admit performs the LRU-touch insert-or-move and triggers eviction when
// the soft cap is exceeded (spec §4.3).
func (bp *BufferPool) admit(e entry) {
	bp.mu.Lock()
	idx := -1
	for i, existing := range bp.pages {
		if existing.key == e.key {
			idx = i
			break
		}
	}
	if idx >= 0 {
		bp.pages = append(bp.pages[:idx], bp.pages[idx+1:]...)
	} else {
		bp.numPoolPages++
	}
	bp.pages = append(bp.pages, e)
	exceeded := bp.numPoolPages > bp.cfg.MaxPoolPages
	bp.mu.Unlock()

	if exceeded {
		bp.evict()
	}
}

// evict selects up to numPoolPages/4 unpinned victims walking the LRU list
// head (oldest) to tail and write-back/unloads them, deferring any that are
// merge-pinned onto loadedOffPool for MergePin's owner to flush later
// (spec §4.3).
func (bp *BufferPool) evict() {
	bp.mu.Lock()
	victimTarget := bp.numPoolPages / 4
	if victimTarget < 1 {
		victimTarget = 1
	}
	var candidates []entry
	for _, e := range bp.pages {
		if bp.pins[e.key] == 0 {
			candidates = append(candidates, e)
			if len(candidates) >= victimTarget {
				break
			}
		}
	}
	bp.mu.Unlock()

	for _, cand := range candidates {
		bp.evictOne(cand)
	}
}

func (bp *BufferPool) evictOne(cand entry) {
	bp.lockGet(cand.key)
	defer bp.unlockGet(cand.key)

	bp.mu.Lock()
	if bp.pins[cand.key] > 0 {
		bp.mu.Unlock()
		panic(fmt.Sprintf("lstore/bufferpool: eviction candidate %+v became pinned — invariant violation", cand.key))
	}
	if bp.mergePins[cand.key] > 0 {
		bp.loadedOffPool[cand.key] = cand.pg
		bp.removePageLocked(cand.key)
		bp.mu.Unlock()
		return
	}
	bp.mu.Unlock()

	if cand.pg.IsDirty() {
		if err := bp.store.WriteBytes(cand.key, cand.pg.Bytes(), cand.pg.NumRecords()); err != nil {
			bp.logger.Printf("bufferpool: eviction write-back failed for %+v: %v", cand.key, err)
			return
		}
		cand.pg.ClearDirty()
	}
	cand.pg.Unload()

	bp.mu.Lock()
	bp.removePageLocked(cand.key)
	bp.mu.Unlock()
}

func (bp *BufferPool) removePageLocked(key page.PageKey) {
	for i, e := range bp.pages {
		if e.key == key {
			bp.pages = append(bp.pages[:i], bp.pages[i+1:]...)
			bp.numPoolPages--
			return
		}
	}
}

// FlushUnpooled is called by the merge job on completion: any page deferred
// onto loadedOffPool during eviction is now written back (if dirty) and
// unloaded, provided it is no longer pinned (spec §4.3, §4.6).
func (bp *BufferPool) FlushUnpooled() {
	bp.mu.Lock()
	deferred := make([]entry, 0, len(bp.loadedOffPool))
	for k, pg := range bp.loadedOffPool {
		deferred = append(deferred, entry{key: k, pg: pg})
	}
	bp.mu.Unlock()

	for _, e := range deferred {
		bp.mu.Lock()
		stillPinned := bp.pins[e.key] > 0 || bp.mergePins[e.key] > 0
		bp.mu.Unlock()
		if stillPinned {
			continue
		}
		if e.pg.IsDirty() {
			if err := bp.store.WriteBytes(e.key, e.pg.Bytes(), e.pg.NumRecords()); err != nil {
				bp.logger.Printf("bufferpool: flush_unpooled write-back failed for %+v: %v", e.key, err)
				continue
			}
			e.pg.ClearDirty()
		}
		e.pg.Unload()
		bp.mu.Lock()
		delete(bp.loadedOffPool, e.key)
		bp.mu.Unlock()
	}
}

// FlushAll writes back every dirty resident page — both pooled and any
// deferred onto loadedOffPool by a merge-pin — without unloading or
// evicting them. Table.Close calls this before persisting its meta so a
// reopen observes every write made before close (spec §4.3, §8).
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	all := make([]entry, 0, len(bp.pages)+len(bp.loadedOffPool))
	all = append(all, bp.pages...)
	for k, pg := range bp.loadedOffPool {
		all = append(all, entry{key: k, pg: pg})
	}
	bp.mu.Unlock()

	for _, e := range all {
		if !e.pg.IsDirty() {
			continue
		}
		if err := bp.store.WriteBytes(e.key, e.pg.Bytes(), e.pg.NumRecords()); err != nil {
			return fmt.Errorf("lstore/bufferpool: flush %+v: %w", e.key, err)
		}
		e.pg.ClearDirty()
	}
	return nil
}

// Stats reports the current resident-page count (for tests/diagnostics).
func (bp *BufferPool) Stats() (resident int, pinned int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	resident = bp.numPoolPages
	for _, v := range bp.pins {
		pinned += v
	}
	return
}

// Close stops the admission worker goroutine.
func (bp *BufferPool) Close() {
	close(bp.closeCh)
}
