package lconfig

import (
	"path/filepath"
	"testing"
)

func TestDefault_DerivesCellsPerPageAndMergeThreshold(t *testing.T) {
	c := Default()
	want := c.PageSize/c.CellSizeBytes - 1
	if c.CellsPerPage != want {
		t.Fatalf("CellsPerPage = %d, want %d", c.CellsPerPage, want)
	}
	if c.MergeThreshold != want/2 {
		t.Fatalf("MergeThreshold = %d, want %d", c.MergeThreshold, want/2)
	}
	if c.ReservedTID != ^uint64(0) {
		t.Fatalf("ReservedTID = %d, want 2^64-1", c.ReservedTID)
	}
}

func TestDeriveCellsPerPage_MergeThresholdFloorsAtOne(t *testing.T) {
	c := &Config{PageSize: 16, CellSizeBytes: 8}
	DeriveCellsPerPage(c)
	if c.CellsPerPage != 1 {
		t.Fatalf("CellsPerPage = %d, want 1", c.CellsPerPage)
	}
	if c.MergeThreshold < 1 {
		t.Fatalf("MergeThreshold = %d, should floor at 1", c.MergeThreshold)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := Default()
	c.PageSize = 8192
	c.MaxPoolPages = 4096
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PageSize != c.PageSize || loaded.MaxPoolPages != c.MaxPoolPages {
		t.Fatalf("loaded config = %+v, want PageSize=%d MaxPoolPages=%d", loaded, c.PageSize, c.MaxPoolPages)
	}
	if loaded.CellsPerPage != c.PageSize/c.CellSizeBytes-1 {
		t.Fatalf("Load did not derive CellsPerPage: got %d", loaded.CellsPerPage)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
