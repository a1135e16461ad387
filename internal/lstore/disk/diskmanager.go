// Package disk implements the DiskManager described in spec §4.7: the
// bit-exact on-disk layout of the database directory, per-table metadata,
// and per-range page files. It generalizes the teacher's pager.Pager
// (internal/storage/pager/pager.go), which reads/writes fixed-size pages
// through a single *os.File with a superblock, to three cooperating file
// kinds keyed by table name and page-range index.
package disk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lerr"
)

const directoryFileName = "Database_Directory"

// separator is int_to_bytes(int_from_bytes("NewTable")) — the 8 ASCII bytes
// of "NewTable" reinterpreted as a little-endian u64, per spec §4.7.
var separator = [8]byte{'N', 'e', 'w', 'T', 'a', 'b', 'l', 'e'}

func separatorU64() uint64 { return binary.LittleEndian.Uint64(separator[:]) }

// TableEntry is one row of the database directory file.
type TableEntry struct {
	Name          string
	KeyCol        int
	NumColumns    int
	NumPageRanges int
}

// Manager owns one database's root directory on disk.
type Manager struct {
	root string
}

// Open ensures root exists (creating it if necessary) and returns a Manager
// rooted there. A brand-new root gets an empty Database_Directory.
func Open(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("lstore/disk: create root %s: %w", root, err)
	}
	m := &Manager{root: root}
	dirPath := filepath.Join(root, directoryFileName)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if err := m.writeDirectory(nil); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Root returns the database's root directory path.
func (m *Manager) Root() string { return m.root }

// TableDir returns the on-disk directory for a table, creating it if absent.
func (m *Manager) TableDir(name string) (string, error) {
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("lstore/disk: create table dir %s: %w", name, err)
	}
	return dir, nil
}

// ListTables decodes the Database_Directory file.
func (m *Manager) ListTables() ([]TableEntry, error) {
	buf, err := os.ReadFile(filepath.Join(m.root, directoryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lstore/disk: %w: read directory: %v", lerr.ErrIO, err)
	}
	r := newReader(buf)
	numTables, err := r.u64()
	if err != nil {
		return nil, fmt.Errorf("lstore/disk: %w: directory header: %v", lerr.ErrCorrupt, err)
	}
	entries := make([]TableEntry, 0, numTables)
	for i := uint64(0); i < numTables; i++ {
		nameLen, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("lstore/disk: %w: directory entry %d: %v", lerr.ErrCorrupt, i, err)
		}
		nameBytes, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("lstore/disk: %w: directory name %d: %v", lerr.ErrCorrupt, i, err)
		}
		keyCol, err := r.u64()
		if err != nil {
			return nil, err
		}
		numColumns, err := r.u64()
		if err != nil {
			return nil, err
		}
		numRanges, err := r.u64()
		if err != nil {
			return nil, err
		}
		sep, err := r.u64()
		if err != nil {
			return nil, err
		}
		if sep != separatorU64() {
			return nil, fmt.Errorf("lstore/disk: %w: directory entry %d bad separator", lerr.ErrCorrupt, i)
		}
		entries = append(entries, TableEntry{
			Name:          string(nameBytes),
			KeyCol:        int(keyCol),
			NumColumns:    int(numColumns),
			NumPageRanges: int(numRanges),
		})
	}
	return entries, nil
}

// UpsertTable adds or replaces a table's directory entry and persists it.
func (m *Manager) UpsertTable(entry TableEntry) error {
	entries, err := m.ListTables()
	if err != nil {
		return err
	}
	found := false
	for i, e := range entries {
		if e.Name == entry.Name {
			entries[i] = entry
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, entry)
	}
	return m.writeDirectory(entries)
}

// RemoveTable drops a table's directory entry (used by DropTable). It does
// not remove the table's on-disk files — callers do that separately, after
// closing any open handles.
func (m *Manager) RemoveTable(name string) error {
	entries, err := m.ListTables()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return m.writeDirectory(out)
}

func (m *Manager) writeDirectory(entries []TableEntry) error {
	w := newWriter()
	w.u64(uint64(len(entries)))
	for _, e := range entries {
		w.u64(uint64(len(e.Name)))
		w.putBytes([]byte(e.Name))
		w.u64(uint64(e.KeyCol))
		w.u64(uint64(e.NumColumns))
		w.u64(uint64(e.NumPageRanges))
		w.u64(separatorU64())
	}
	path := filepath.Join(m.root, directoryFileName)
	if err := os.WriteFile(path, w.bytes(), 0o644); err != nil {
		return fmt.Errorf("lstore/disk: %w: write directory: %v", lerr.ErrIO, err)
	}
	return nil
}

// ColumnPID mirrors page.PID's three fields for on-disk encode/decode,
// kept independent of the page package to avoid an import cycle (disk is
// a lower layer that table/page build on top of).
type ColumnPID struct {
	CellIdx      int
	InnerPageIdx int
	PageRangeIdx int
}

// MetaRecord is one live row of a table's page directory (spec §4.7): a
// base record carries one PID per (system+user) column; a tail record
// carries a schema-encoding bitmap and only the PIDs for columns the
// bitmap marks present.
type MetaRecord struct {
	RID     uint64
	Key     uint64
	IsBase  bool
	Schema  uint64 // tail records only: low NumUserColumns bits
	Columns []ColumnPID
}

// DeletedRecord is one entry of the tombstone list.
type DeletedRecord struct {
	Schema uint64
}

// TableMeta is the fully decoded contents of <table>_meta.
type TableMeta struct {
	PrevRID uint64
	PrevTID uint64
	NumRows uint64
	Deleted []DeletedRecord
	Records []MetaRecord
}

const (
	tagBDeleted = "bdeleted"
	tagDRecord  = "d0000000"
	tagEDeleted = "edeleted"
	tagNoDelete = "nodelete"
)

func tagU64(s string) uint64 { return binary.LittleEndian.Uint64([]byte(s)) }

// ReadMeta decodes <table>/<table>_meta. numUserColumns is supplied by the
// caller from the table's Database_Directory entry (NumColumns minus the
// fixed system-column count), since the meta file itself does not repeat
// the column count.
func (m *Manager) ReadMeta(table string, numUserColumns int) (*TableMeta, error) {
	path := filepath.Join(m.root, table, table+"_meta")
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TableMeta{}, nil
		}
		return nil, fmt.Errorf("lstore/disk: %w: read meta %s: %v", lerr.ErrIO, table, err)
	}
	r := newReader(buf)
	meta := &TableMeta{}
	if meta.PrevRID, err = r.u64(); err != nil {
		return nil, fmt.Errorf("lstore/disk: %w: meta header: %v", lerr.ErrCorrupt, err)
	}
	if meta.PrevTID, err = r.u64(); err != nil {
		return nil, err
	}
	pageDirSize, err := r.u64()
	if err != nil {
		return nil, err
	}
	if meta.NumRows, err = r.u64(); err != nil {
		return nil, err
	}

	tag, err := r.u64()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagU64(tagBDeleted):
		numDeleted, err := r.u64()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < numDeleted; i++ {
			dtag, err := r.u64()
			if err != nil || dtag != tagU64(tagDRecord) {
				return nil, fmt.Errorf("lstore/disk: %w: deleted record %d tag", lerr.ErrCorrupt, i)
			}
			schema, err := r.u64()
			if err != nil {
				return nil, err
			}
			meta.Deleted = append(meta.Deleted, DeletedRecord{Schema: schema})
		}
		etag, err := r.u64()
		if err != nil || etag != tagU64(tagEDeleted) {
			return nil, fmt.Errorf("lstore/disk: %w: missing edeleted tag", lerr.ErrCorrupt)
		}
	case tagU64(tagNoDelete):
		// nothing further
	default:
		return nil, fmt.Errorf("lstore/disk: %w: unrecognized tombstone tag", lerr.ErrCorrupt)
	}

	numSystem := lconfig.NumSystemColumns
	for i := uint64(0); i < pageDirSize; i++ {
		rid, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("lstore/disk: %w: record %d rid: %v", lerr.ErrCorrupt, i, err)
		}
		key, err := r.u64()
		if err != nil {
			return nil, err
		}
		rec := MetaRecord{RID: rid, Key: key}
		if rid <= meta.PrevRID {
			rec.IsBase = true
			total := numSystem + numUserColumns
			rec.Columns = make([]ColumnPID, total)
			for c := 0; c < total; c++ {
				if rec.Columns[c], err = r.pid(); err != nil {
					return nil, fmt.Errorf("lstore/disk: %w: base record %d column %d: %v", lerr.ErrCorrupt, i, c, err)
				}
			}
		} else {
			schema, err := r.u64()
			if err != nil {
				return nil, err
			}
			rec.Schema = schema
			for c := 0; c < numSystem; c++ {
				pid, err := r.pid()
				if err != nil {
					return nil, fmt.Errorf("lstore/disk: %w: tail record %d system column %d: %v", lerr.ErrCorrupt, i, c, err)
				}
				rec.Columns = append(rec.Columns, pid)
			}
			for c := 0; c < numUserColumns; c++ {
				if schema&(1<<uint(c)) == 0 {
					continue
				}
				pid, err := r.pid()
				if err != nil {
					return nil, fmt.Errorf("lstore/disk: %w: tail record %d user column %d: %v", lerr.ErrCorrupt, i, c, err)
				}
				rec.Columns = append(rec.Columns, pid)
			}
		}
		meta.Records = append(meta.Records, rec)
	}
	return meta, nil
}

// WriteMeta encodes and persists a table's metadata file.
func (m *Manager) WriteMeta(table string, meta *TableMeta) error {
	dir, err := m.TableDir(table)
	if err != nil {
		return err
	}
	w := newWriter()
	w.u64(meta.PrevRID)
	w.u64(meta.PrevTID)
	w.u64(uint64(len(meta.Records)))
	w.u64(meta.NumRows)

	if len(meta.Deleted) == 0 {
		w.u64(tagU64(tagNoDelete))
	} else {
		w.u64(tagU64(tagBDeleted))
		w.u64(uint64(len(meta.Deleted)))
		for _, d := range meta.Deleted {
			w.u64(tagU64(tagDRecord))
			w.u64(d.Schema)
		}
		w.u64(tagU64(tagEDeleted))
	}

	for _, rec := range meta.Records {
		w.u64(rec.RID)
		w.u64(rec.Key)
		if rec.IsBase {
			for _, pid := range rec.Columns {
				w.pid(pid)
			}
		} else {
			w.u64(rec.Schema)
			for _, pid := range rec.Columns {
				w.pid(pid)
			}
		}
	}

	path := filepath.Join(dir, table+"_meta")
	if err := os.WriteFile(path, w.bytes(), 0o644); err != nil {
		return fmt.Errorf("lstore/disk: %w: write meta %s: %v", lerr.ErrIO, table, err)
	}
	return nil
}

// --- small binary helpers -------------------------------------------------

type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) pid() (ColumnPID, error) {
	cellIdx, err := r.u64()
	if err != nil {
		return ColumnPID{}, err
	}
	innerIdx, err := r.u64()
	if err != nil {
		return ColumnPID{}, err
	}
	rangeIdx, err := r.u64()
	if err != nil {
		return ColumnPID{}, err
	}
	return ColumnPID{CellIdx: int(cellIdx), InnerPageIdx: int(innerIdx), PageRangeIdx: int(rangeIdx)}, nil
}

type writer struct {
	raw []byte
}

func newWriter() *writer {
	return &writer{raw: make([]byte, 0, 4096)}
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.raw = append(w.raw, b[:]...)
}

func (w *writer) putBytes(b []byte) { w.raw = append(w.raw, b...) }

func (w *writer) pid(p ColumnPID) {
	w.u64(uint64(p.CellIdx))
	w.u64(uint64(p.InnerPageIdx))
	w.u64(uint64(p.PageRangeIdx))
}

// bytes returns the encoded buffer.
func (w *writer) bytes() []byte { return w.raw }
