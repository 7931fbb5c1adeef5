package offsetindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
)

func writeCSV(t *testing.T, content string) ioengine.Source {
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
	return src
}

func baseDialect() dialect.Dialect {
	return dialect.Dialect{
		Delimiter:     ',',
		Quote:         '"',
		HasHeaders:    true,
		Malformed:     dialect.Strict,
		MaxFieldSize:  dialect.DefaultMaxFieldSize,
		MaxRecordSize: dialect.DefaultMaxRecordSize,
	}
}

func TestBuildCountsRowsAndHeaders(t *testing.T) {
	src := writeCSV(t, "id,name\n1,alice\n2,bob\n3,carol\n")
	result, err := Build(src, baseDialect(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Offsets) != 3 {
		t.Errorf("got %d offsets, want 3", len(result.Offsets))
	}
	if len(result.Headers) != 2 || result.Headers[0] != "id" {
		t.Errorf("headers = %v", result.Headers)
	}
}

func TestBuildSkipModeDropsBadRows(t *testing.T) {
	d := baseDialect()
	d.Malformed = dialect.Skip
	src := writeCSV(t, "id,name\n1,alice\n2\n3,carol\n")

	result, err := Build(src, d, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Offsets) != 2 {
		t.Errorf("got %d kept offsets, want 2 (bad row dropped)", len(result.Offsets))
	}
	if len(result.Warnings) == 0 {
		t.Error("expected at least one warning for the dropped row")
	}
}

func TestBuildStrictModeFailsOnBadRow(t *testing.T) {
	d := baseDialect()
	src := writeCSV(t, "id,name\n1,alice\n2\n")

	_, err := Build(src, d, nil)
	if err == nil {
		t.Fatal("expected a fatal error in strict mode for unequal field count")
	}
}

func TestBuildProgressCallback(t *testing.T) {
	var lines []string
	for i := 0; i < 3; i++ {
		lines = append(lines, "x")
	}
	_ = lines

	d := baseDialect()
	d.HasHeaders = false
	content := ""
	for i := 0; i < 25000; i++ {
		content += "a\n"
	}
	src := writeCSV(t, content)

	calls := 0
	_, err := Build(src, d, func(n int64) { calls++ })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if calls != 2 { // fires every 10_000 rows: at 10000 and 20000
		t.Errorf("progress callback fired %d times, want 2", calls)
	}
}
