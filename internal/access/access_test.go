package access

import (
	"os"
	"path/filepath"
	"reflect"
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

func TestReadRangeContiguous(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n3,carol\n4,dave\n")

	rows, _, err := ReadRange(src, offsets, d, 2, 1, 2)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	want := [][]string{{"2", "bob"}, {"3", "carol"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestReadRangeOutOfBoundsClamped(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n")

	rows, _, err := ReadRange(src, offsets, d, 2, 1, 100)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1 (clamped to available rows)", len(rows))
	}
}

func TestReadRangeNegativeStartReturnsEmpty(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n")
	rows, _, err := ReadRange(src, offsets, d, 2, -1, 1)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if rows != nil {
		t.Errorf("rows = %v, want nil", rows)
	}
}

func TestReadByIndicesPreservesRequestOrder(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n3,carol\n4,dave\n")

	rows, err := ReadByIndices(src, offsets, d, 2, []int64{3, 0, 2})
	if err != nil {
		t.Fatalf("ReadByIndices: %v", err)
	}
	want := [][]string{{"4", "dave"}, {"1", "alice"}, {"3", "carol"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestReadByIndicesOutOfRangeYieldsEmptyRow(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n1,alice\n2,bob\n")

	rows, err := ReadByIndices(src, offsets, d, 2, []int64{0, 99})
	if err != nil {
		t.Fatalf("ReadByIndices: %v", err)
	}
	if len(rows[1]) != 0 {
		t.Errorf("out-of-range row = %v, want empty", rows[1])
	}
}
