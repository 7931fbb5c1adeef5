package session

import (
	"testing"

	"github.com/elmissouri16/quickrows/internal/cache"
	"github.com/elmissouri16/quickrows/internal/record"
)

func TestSamePathAfterOffsetsSet(t *testing.T) {
	s := New("/data.csv")
	s.SetOffsets([]int64{0, 10})
	if !s.SamePath("/data.csv") {
		t.Error("SamePath should match the session's own path")
	}
	if s.SamePath("/other.csv") {
		t.Error("SamePath should not match a different path")
	}
}

func TestOffsetsAndRowCount(t *testing.T) {
	s := New("/data.csv")
	if s.RowCount() != 0 {
		t.Errorf("RowCount() = %d, want 0 before offsets are set", s.RowCount())
	}
	s.SetOffsets([]int64{0, 10, 20})
	if s.RowCount() != 3 {
		t.Errorf("RowCount() = %d, want 3", s.RowCount())
	}
}

func TestHeaderIndex(t *testing.T) {
	s := New("/data.csv")
	s.SetHeaders([]string{"id", "name", "email"})
	idx := s.HeaderIndex()
	if idx["name"] != 1 {
		t.Errorf("HeaderIndex()[name] = %d, want 1", idx["name"])
	}
}

func TestSortOrderRoundTrip(t *testing.T) {
	s := New("/data.csv")
	s.SetSortOrder([]uint32{2, 0, 1}, 1, true)
	perm, col, asc := s.SortOrder()
	if col != 1 || !asc || len(perm) != 3 {
		t.Errorf("SortOrder() = %v, %d, %v", perm, col, asc)
	}
	s.ClearSortOrder()
	perm, col, _ = s.SortOrder()
	if perm != nil || col != -1 {
		t.Errorf("after ClearSortOrder: perm = %v, col = %d", perm, col)
	}
}

func TestWarningsAppendAndClear(t *testing.T) {
	s := New("/data.csv")
	s.AppendWarnings([]record.Warning{{Record: 1, Kind: record.WarnParse}})
	s.AppendWarnings(nil) // must be a no-op, never panic
	if len(s.Warnings()) != 1 {
		t.Fatalf("Warnings() = %v, want 1 entry", s.Warnings())
	}
	s.ClearWarnings()
	if len(s.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want empty after ClearWarnings", s.Warnings())
	}
}

func TestSnapReflectsCurrentState(t *testing.T) {
	s := New("/data.csv")
	s.SetOffsets([]int64{0, 5})
	s.SetHeaders([]string{"a", "b"})

	snap := s.Snap()
	if snap.Path != "/data.csv" || len(snap.Offsets) != 2 || len(snap.Headers) != 2 {
		t.Errorf("Snap() = %+v", snap)
	}
}

func TestCacheClearIsIsolatedFromSortOrder(t *testing.T) {
	s := New("/data.csv")
	s.Cache().Put(cache.ChunkKey{Start: 0, Count: 1}, nil)
	s.SetSortOrder([]uint32{1}, 0, true)
	s.ClearCache()
	if _, col, _ := s.SortOrder(); col != 0 {
		t.Error("ClearCache must not disturb sort order state")
	}
}
