package sortengine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

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

func TestSortAscendingByColumn(t *testing.T) {
	src, offsets, d := setup(t, "id,name\n3,carol\n1,alice\n4,dave\n2,bob\n")

	perm, err := Sort(src, offsets, d, 2, 1, t.TempDir())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	// names in row order: carol(0), alice(1), dave(2), bob(3)
	// ascending by name: alice(1), bob(3), carol(0), dave(2)
	want := []uint32{1, 3, 0, 2}
	if len(perm) != len(want) {
		t.Fatalf("perm = %v, want %v", perm, want)
	}
	for i := range want {
		if perm[i] != want[i] {
			t.Errorf("perm[%d] = %d, want %d", i, perm[i], want[i])
		}
	}
}

func TestReverseFlipsOrder(t *testing.T) {
	asc := []uint32{0, 1, 2, 3}
	desc := Reverse(asc)
	want := []uint32{3, 2, 1, 0}
	for i := range want {
		if desc[i] != want[i] {
			t.Errorf("desc[%d] = %d, want %d", i, desc[i], want[i])
		}
	}
}

func TestTruncateKeyRespectsUTF8Boundary(t *testing.T) {
	// a multi-byte rune straddling the 256-byte cut point must not be split
	s := ""
	for len(s) < 255 {
		s += "a"
	}
	s += "éé" // two 2-byte runes, pushing the boundary past 256

	out := truncateKey(s)
	trimmed := len(out)
	for i, b := range out {
		if b == 0 {
			trimmed = i
			break
		}
	}
	if !utf8.ValidString(string(out[:trimmed])) {
		t.Errorf("truncateKey produced invalid UTF-8: %q", out[:trimmed])
	}
}

func TestSortShortValuesUnaffectedByTruncation(t *testing.T) {
	k := truncateKey(fmt.Sprintf("short-%d", 1))
	if k[6] != '1' {
		t.Errorf("expected short value copied verbatim into key")
	}
}
