package disk

import (
	"testing"

	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
)

func TestManager_ListTablesEmptyOnFreshRoot(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries, err := m.ListTables()
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no tables on a fresh root, got %d", len(entries))
	}
}

func TestManager_UpsertAndListTables(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := TableEntry{Name: "orders", KeyCol: 0, NumColumns: 6, NumPageRanges: 2}
	if err := m.UpsertTable(want); err != nil {
		t.Fatalf("UpsertTable: %v", err)
	}
	entries, err := m.ListTables()
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(entries) != 1 || entries[0] != want {
		t.Fatalf("ListTables = %+v, want [%+v]", entries, want)
	}

	want.NumPageRanges = 3
	if err := m.UpsertTable(want); err != nil {
		t.Fatalf("UpsertTable (update): %v", err)
	}
	entries, err = m.ListTables()
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(entries) != 1 || entries[0].NumPageRanges != 3 {
		t.Fatalf("expected in-place update, got %+v", entries)
	}
}

func TestManager_RemoveTable(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.UpsertTable(TableEntry{Name: "a", NumColumns: 4}); err != nil {
		t.Fatalf("UpsertTable a: %v", err)
	}
	if err := m.UpsertTable(TableEntry{Name: "b", NumColumns: 4}); err != nil {
		t.Fatalf("UpsertTable b: %v", err)
	}
	if err := m.RemoveTable("a"); err != nil {
		t.Fatalf("RemoveTable: %v", err)
	}
	entries, err := m.ListTables()
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Fatalf("expected only table b left, got %+v", entries)
	}
}

func TestManager_WriteReadMetaRoundTrip(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const numUserColumns = 2
	base := MetaRecord{
		RID: 1, Key: 100, IsBase: true,
		Columns: make([]ColumnPID, lconfig.NumSystemColumns+numUserColumns),
	}
	for i := range base.Columns {
		base.Columns[i] = ColumnPID{CellIdx: i, InnerPageIdx: i + 1, PageRangeIdx: 0}
	}
	tail := MetaRecord{
		RID: ^uint64(0) - 1, Key: 100, IsBase: false, Schema: 0b01,
		Columns: []ColumnPID{
			{CellIdx: 0, InnerPageIdx: 4, PageRangeIdx: 0},
			{CellIdx: 1, InnerPageIdx: 4, PageRangeIdx: 0},
			{CellIdx: 2, InnerPageIdx: 4, PageRangeIdx: 0},
			{CellIdx: 3, InnerPageIdx: 4, PageRangeIdx: 0},
			{CellIdx: 4, InnerPageIdx: 4, PageRangeIdx: 0},
		},
	}
	meta := &TableMeta{
		PrevRID: 1,
		PrevTID: ^uint64(0) - 1,
		NumRows: 1,
		Deleted: []DeletedRecord{{Schema: 0b10}},
		Records: []MetaRecord{base, tail},
	}
	if err := m.WriteMeta("orders", meta); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := m.ReadMeta("orders", numUserColumns)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.PrevRID != meta.PrevRID || got.PrevTID != meta.PrevTID || got.NumRows != meta.NumRows {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if len(got.Deleted) != 1 || got.Deleted[0].Schema != 0b10 {
		t.Fatalf("deleted list mismatch: %+v", got.Deleted)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	if !got.Records[0].IsBase || got.Records[0].RID != 1 {
		t.Errorf("record 0 = %+v, want the base record", got.Records[0])
	}
	if got.Records[1].IsBase || got.Records[1].Schema != 0b01 {
		t.Errorf("record 1 = %+v, want the tail record", got.Records[1])
	}
}

func TestManager_ReadMetaMissingFileIsEmpty(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	meta, err := m.ReadMeta("nope", 2)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.NumRows != 0 || len(meta.Records) != 0 {
		t.Fatalf("expected empty meta for a never-written table, got %+v", meta)
	}
}

func TestPageRangeFile_HeaderGrowthAndPageRoundTrip(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rf, err := m.OpenPageRangeFile("orders", 0, 64)
	if err != nil {
		t.Fatalf("OpenPageRangeFile: %v", err)
	}
	if rf.BasePageCount() != 0 || rf.TailPageCount() != 0 {
		t.Fatalf("fresh page-range file should start at 0/0")
	}
	if err := rf.GrowBase(3); err != nil {
		t.Fatalf("GrowBase: %v", err)
	}
	if err := rf.GrowTail(1); err != nil {
		t.Fatalf("GrowTail: %v", err)
	}

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := rf.WritePage(1, payload, 5); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	reopened, err := m.OpenPageRangeFile("orders", 0, 64)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.BasePageCount() != 3 || reopened.TailPageCount() != 1 {
		t.Fatalf("header not persisted: base=%d tail=%d", reopened.BasePageCount(), reopened.TailPageCount())
	}
	data, numRecords, err := reopened.ReadPage(1)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if numRecords != 5 {
		t.Fatalf("numRecords = %d, want 5", numRecords)
	}
	for i := range payload {
		if data[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d: got %d want %d", i, data[i], payload[i])
		}
	}
}
