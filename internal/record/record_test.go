package record

import (
	"reflect"
	"testing"

	"github.com/elmissouri16/quickrows/internal/dialect"
)

func testDialect() dialect.Dialect {
	return dialect.Dialect{
		Delimiter:     ',',
		Quote:         '"',
		Malformed:     dialect.Strict,
		MaxFieldSize:  dialect.DefaultMaxFieldSize,
		MaxRecordSize: dialect.DefaultMaxRecordSize,
	}
}

func TestSplitFieldsQuoted(t *testing.T) {
	d := testDialect()
	fields := SplitFields([]byte(`a,"b,c",d`), d)
	got := make([]string, len(fields))
	for i, f := range fields {
		got[i] = string(f)
	}
	want := []string{"a", "b,c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitFields = %v, want %v", got, want)
	}
}

func TestSplitFieldsEscapedQuote(t *testing.T) {
	d := testDialect()
	fields := SplitFields([]byte(`"a""b",c`), d)
	if string(fields[0]) != `a"b` {
		t.Errorf("field 0 = %q, want a\"b", fields[0])
	}
	if string(fields[1]) != "c" {
		t.Errorf("field 1 = %q, want c", fields[1])
	}
}

func TestDecodeRecordStrictUnequalLengths(t *testing.T) {
	d := testDialect()
	dec := NewDecoder(d, 3, false)
	fields := SplitFields([]byte("a,b"), d)
	_, kept, _, err := dec.DecodeRecord(fields, 1, 2, 0, false)
	if kept {
		t.Error("expected record not kept")
	}
	if err == nil {
		t.Fatal("expected fatal error in strict mode")
	}
	if _, ok := err.(*FatalError); !ok {
		t.Errorf("err type = %T, want *FatalError", err)
	}
}

func TestDecodeRecordSkipUnequalLengths(t *testing.T) {
	d := testDialect()
	d.Malformed = dialect.Skip
	dec := NewDecoder(d, 3, false)
	fields := SplitFields([]byte("a,b"), d)
	row, kept, warnings, err := dec.DecodeRecord(fields, 1, 2, 0, false)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if kept {
		t.Error("expected row to be dropped")
	}
	if row != nil {
		t.Errorf("row = %v, want nil", row)
	}
	if len(warnings) != 1 || warnings[0].Kind != WarnUnequalLengths {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestDecodeRecordRepairPadsShortRows(t *testing.T) {
	d := testDialect()
	d.Malformed = dialect.Repair
	dec := NewDecoder(d, 3, false)
	fields := SplitFields([]byte("a,b"), d)
	row, kept, warnings, err := dec.DecodeRecord(fields, 1, 2, 0, false)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !kept {
		t.Fatal("expected row kept under repair mode")
	}
	want := []string{"a", "b", ""}
	if !reflect.DeepEqual(row, want) {
		t.Errorf("row = %v, want %v", row, want)
	}
	if len(warnings) != 1 || warnings[0].Kind != WarnRepaired {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestDecodeRecordMaxFieldSizeStrict(t *testing.T) {
	d := testDialect()
	d.MaxFieldSize = 4
	dec := NewDecoder(d, 0, false)
	fields := SplitFields([]byte("abcdef,x"), d)
	_, kept, _, err := dec.DecodeRecord(fields, 0, 1, 0, true)
	if kept {
		t.Error("expected row not kept")
	}
	if err == nil {
		t.Fatal("expected fatal error")
	}
}
