package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elmissouri16/quickrows/internal/dialect"
)

type noopEvents struct{}

func (noopEvents) ParseProgress(rows int64)                            {}
func (noopEvents) RowCount(total int64)                                {}
func (noopEvents) IndexReady(ready bool)                                {}
func (noopEvents) SearchChunk(requestID string, matches []uint32)      {}
func (noopEvents) SearchComplete(requestID string, total int)          {}
func (noopEvents) DuplicatesChunk(requestID string, matches []uint32)  {}
func (noopEvents) DuplicatesComplete(requestID string, total int)      {}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitForRows(t *testing.T, e *Engine, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := e.RowCount(); err == nil && n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("offsets never reached %d rows in time", want)
}

func TestOpenAndReadChunk(t *testing.T) {
	path := writeCSV(t, "id,name\n1,alice\n2,bob\n3,carol\n")
	e := New(noopEvents{}, t.TempDir(), false)

	res, err := e.Open(path, dialect.Overrides{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(res.Headers) != 2 || res.Headers[0] != "id" {
		t.Fatalf("Open headers = %v", res.Headers)
	}

	waitForRows(t, e, 3)

	rows, err := e.ReadChunk(0, 2)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if len(rows) != 2 || rows[0][1] != "alice" {
		t.Errorf("rows = %v", rows)
	}
}

func TestSearchAndSort(t *testing.T) {
	path := writeCSV(t, "id,name\n3,carol\n1,alice\n2,bob\n")
	e := New(noopEvents{}, t.TempDir(), false)
	if _, err := e.Open(path, dialect.Overrides{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitForRows(t, e, 3)

	matches, err := e.Search(1, "bob", false, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0] != 2 {
		t.Errorf("matches = %v", matches)
	}

	perm, err := e.Sort(1, true)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	want := []uint32{1, 2, 0} // alice, bob, carol
	for i := range want {
		if perm[i] != want[i] {
			t.Errorf("perm = %v, want %v", perm, want)
		}
	}

	ids, rows, err := e.GetSortedChunk(0, 3)
	if err != nil {
		t.Fatalf("GetSortedChunk: %v", err)
	}
	if len(ids) != 3 || rows[0][1] != "alice" {
		t.Errorf("sorted rows = %v", rows)
	}

	if err := e.ClearSort(); err != nil {
		t.Fatalf("ClearSort: %v", err)
	}
	if _, err := e.GetSortedIndices(0, 1); err == nil {
		t.Error("expected a precondition error after ClearSort")
	}
}

func TestOperationsFailBeforeOpen(t *testing.T) {
	e := New(noopEvents{}, t.TempDir(), false)
	if _, err := e.ReadChunk(0, 1); err == nil {
		t.Error("expected a precondition error before any file is open")
	}
}

func TestFindDuplicates(t *testing.T) {
	path := writeCSV(t, "id,email\n1,a@x.com\n2,b@x.com\n3,a@x.com\n")
	e := New(noopEvents{}, t.TempDir(), false)
	if _, err := e.Open(path, dialect.Overrides{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitForRows(t, e, 3)

	ids, err := e.FindDuplicates(1)
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 duplicate rows", ids)
	}
}
