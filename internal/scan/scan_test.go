package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/offsetindex"
)

func setup(t *testing.T, content string) (ioengine.Source, []int64, dialect.Dialect) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := ioengine.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	d := dialect.Dialect{
		Delimiter:     ',',
		Quote:         '"',
		HasHeaders:    true,
		Malformed:     dialect.Strict,
		MaxFieldSize:  dialect.DefaultMaxFieldSize,
		MaxRecordSize: dialect.DefaultMaxRecordSize,
	}
	result, err := offsetindex.Build(src, d, nil)
	if err != nil {
		t.Fatal(err)
	}
	return src, result.Offsets, d
}

func TestPredicateMatches(t *testing.T) {
	tests := []struct {
		name  string
		pred  Predicate
		cell  string
		query string
		want  bool
	}{
		{"substring case-insensitive", Predicate{MatchCase: false, WholeWord: false}, "Hello World", "world", true},
		{"substring case-sensitive miss", Predicate{MatchCase: true, WholeWord: false}, "Hello World", "world", false},
		{"whole word exact", Predicate{MatchCase: false, WholeWord: true}, "bob", "BOB", true},
		{"whole word not substring", Predicate{MatchCase: false, WholeWord: true}, "bobby", "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.matches(tt.cell, tt.query); got != tt.want {
				t.Errorf("matches(%q, %q) = %v, want %v", tt.cell, tt.query, got, tt.want)
			}
		})
	}
}

func TestSearchByColumn(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n3,Alice Smith\n4,carol\n")

	matches, err := Search(src, offsets, d, 2, 1, "alice", Predicate{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []uint32{0, 2}
	if len(matches) != len(want) {
		t.Fatalf("matches = %v, want %v", matches, want)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Errorf("matches[%d] = %d, want %d", i, matches[i], want[i])
		}
	}
}

func TestSearchWholeRecord(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n")
	matches, err := Search(src, offsets, d, 2, -1, "bob", Predicate{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0] != 1 {
		t.Errorf("matches = %v, want [1]", matches)
	}
}

func TestSearchStreamEmitsChunksAndTotal(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,alice\n3,bob\n")

	chunks := make(chan []uint32, 10)
	total, err := SearchStream(src, offsets, d, 2, 1, "alice", Predicate{}, chunks)
	close(chunks)
	if err != nil {
		t.Fatalf("SearchStream: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	var got []uint32
	for c := range chunks {
		got = append(got, c...)
	}
	if len(got) != 2 {
		t.Errorf("chunks delivered %d ids, want 2", len(got))
	}
}

func TestSearchEmptyOffsetsReturnsNil(t *testing.T) {
	src, _, d := setup(t, "id,name\n1,alice\n")
	matches, err := Search(src, nil, d, 2, 0, "x", Predicate{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches != nil {
		t.Errorf("matches = %v, want nil", matches)
	}
}
