package overrides

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Empty() {
		t.Error("expected an empty store for a file with no sidecar")
	}
}

func TestSetSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")

	s, err := Load(csvPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Set(128, "name", "corrected")
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := Load(csvPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	row := s2.Row(128)
	if row == nil || row["name"] != "corrected" {
		t.Errorf("Row(128) = %v, want name=corrected", row)
	}
	if s2.Empty() {
		t.Error("reloaded store should not be empty")
	}
}

func TestApplyOverridesToRow(t *testing.T) {
	headerIdx := map[string]int{"id": 0, "name": 1}
	row := []string{"1", "alice"}
	out := Apply(row, map[string]string{"name": "bob"}, headerIdx)
	if out[1] != "bob" {
		t.Errorf("out = %v, want name overridden to bob", out)
	}
}

func TestApplyUnknownColumnIsIgnored(t *testing.T) {
	headerIdx := map[string]int{"id": 0}
	row := []string{"1"}
	out := Apply(row, map[string]string{"ghost": "x"}, headerIdx)
	if len(out) != 1 || out[0] != "1" {
		t.Errorf("out = %v, want unchanged", out)
	}
}
