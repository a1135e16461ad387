package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SimonWaldherr/lstore-engine/internal/facade/query"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/disk"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/lconfig"
	"github.com/SimonWaldherr/lstore-engine/internal/lstore/table"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := lconfig.Default()
	cfg.PageSize = 64
	cfg.CellSizeBytes = 8
	cfg.PageRangeMaxBasePages = 2
	cfg.MaxPoolPages = 64
	cfg.StripeCount = 8
	lconfig.DeriveCellsPerPage(cfg)

	diskMgr, err := disk.Open(t.TempDir())
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	tbl, err := table.Open(cfg, diskMgr, "people", 3, 0, nil, nil)
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return New(query.New(tbl))
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHTTPAPI_InsertThenSelect(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/rows", insertRequest{Columns: []uint64{1, 10, 20}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/rows/0/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rows []*table.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
}

func TestHTTPAPI_UpdateDeleteIncrement(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/rows", insertRequest{Columns: []uint64{1, 10, 20}})

	rec := doJSON(t, s, http.MethodPatch, "/rows/1", updateRequest{Values: []uint64{0, 99, 0}, Present: []bool{false, true, false}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/rows/1/increment", incrementRequest{Column: 1, Delta: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("increment status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/rows/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/rows/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete of missing key status = %d, want 404", rec.Code)
	}
}

func TestHTTPAPI_SumAndIndices(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/rows", insertRequest{Columns: []uint64{1, 10, 20}})
	doJSON(t, s, http.MethodPost, "/rows", insertRequest{Columns: []uint64{2, 30, 40}})

	rec := doJSON(t, s, http.MethodGet, "/sum/1/1/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sum status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sumResp struct {
		Sum uint64 `json:"sum"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sumResp); err != nil {
		t.Fatalf("unmarshal sum response: %v", err)
	}
	if sumResp.Sum != 40 {
		t.Fatalf("sum = %d, want 40", sumResp.Sum)
	}

	rec = doJSON(t, s, http.MethodPost, "/indices/1", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create index status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s, http.MethodDelete, "/indices/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("drop index status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHTTPAPI_BadParamsReturn400(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/rows/notanumber/1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad column status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPatch, "/rows/notanumber", updateRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad key status = %d, want 400", rec.Code)
	}
}
