package bitscan

import "testing"

func positions(bits []uint64, n int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if Test(bits, i) {
			out = append(out, i)
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScan(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		quotes []int
		seps   []int
	}{
		{"simple", "a,b,c", nil, []int{1, 3}},
		{"quoted field", `"a,b",c`, []int{0, 4}, []int{2, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []byte(tt.input)
			bm := NewBitmaps(len(input))
			Scan(input, ',', bm)

			gotQuotes := positions(bm.Quotes, len(input))
			gotSeps := positions(bm.Seps, len(input))
			if !equalInts(gotQuotes, tt.quotes) {
				t.Errorf("quotes = %v, want %v", gotQuotes, tt.quotes)
			}
			if !equalInts(gotSeps, tt.seps) {
				t.Errorf("seps = %v, want %v", gotSeps, tt.seps)
			}
		})
	}
}

func TestTestOutOfRangeIsFalse(t *testing.T) {
	bm := NewBitmaps(4)
	if Test(bm.Seps, 1000) {
		t.Error("Test beyond bitmap length should be false")
	}
}
