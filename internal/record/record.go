// Package record parses a byte stream into records honoring a dialect:
// quote handling (a doubled quote inside a quoted field stands for one
// quote), per-field decoding, and the malformed-row length/size
// policies of spec §4.3. The dialect's escape byte (Escape/HasEscape)
// is not interpreted when splitting or unquoting fields.
//
// Field extraction is grounded on the teacher's bitmap-driven
// parseLineSimd (internal/indexer/scanner.go), generalized from a
// fixed comma/bitmap pair to internal/bitscan's three-bitmap scan for
// an arbitrary configured delimiter.
package record

import (
	"bytes"

	"github.com/elmissouri16/quickrows/internal/bitscan"
	"github.com/elmissouri16/quickrows/internal/dialect"
)

// WarningKind enumerates the structured warning kinds of spec §3 —
// never formatted strings, so the UI can filter by kind.
type WarningKind int

const (
	WarnParse WarningKind = iota
	WarnUnequalLengths
	WarnUTF8
	WarnMaxFieldSize
	WarnMaxRecordSize
	WarnRepaired
)

func (k WarningKind) String() string {
	switch k {
	case WarnUnequalLengths:
		return "unequal-lengths"
	case WarnUTF8:
		return "utf8"
	case WarnMaxFieldSize:
		return "max-field-size"
	case WarnMaxRecordSize:
		return "max-record-size"
	case WarnRepaired:
		return "repaired"
	default:
		return "parse"
	}
}

// Warning is a structured diagnostic, never a pre-formatted string.
type Warning struct {
	Record      int64
	Line        int64
	Byte        int64
	Field       int
	Kind        WarningKind
	Message     string
	ExpectedLen int
	Len         int
}

// FatalError signals that strict mode must abort the whole operation.
type FatalError struct {
	Kind    WarningKind
	Message string
}

func (e *FatalError) Error() string { return e.Message }

// Decoder parses dialect-conformant records out of raw line bytes.
type Decoder struct {
	d          dialect.Dialect
	targetLen  int // 0 = no target (headers absent / not yet known)
	stripBOM0  bool
	dec        decodeFunc
}

type decodeFunc func([]byte) ([]byte, bool)

func NewDecoder(d dialect.Dialect, targetLen int, stripBOMField0 bool) *Decoder {
	dd := d.Encoding.Decoder()
	var fn decodeFunc
	if dd == nil {
		fn = func(b []byte) ([]byte, bool) { return b, true }
	} else {
		fn = func(b []byte) ([]byte, bool) {
			out, err := dd.Bytes(b)
			return out, err == nil
		}
	}
	return &Decoder{d: d, targetLen: targetLen, stripBOM0: stripBOMField0, dec: fn}
}

// SplitFields splits one unterminated line into raw (not yet decoded)
// quote-stripped field byte slices, using the bitscan separator bitmap
// computed over the line and the dialect's quote byte.
func SplitFields(line []byte, d dialect.Dialect) [][]byte {
	bm := bitscan.NewBitmaps(len(line))
	bitscan.Scan(line, d.Delimiter, bm)

	var fields [][]byte
	start := 0
	inQuote := false
	for i := 0; i < len(line); i++ {
		if line[i] == d.Quote {
			inQuote = !inQuote
			continue
		}
		if bitscan.Test(bm.Seps, i) && !inQuote {
			fields = append(fields, unquote(line[start:i], d.Quote))
			start = i + 1
		}
	}
	fields = append(fields, unquote(line[start:], d.Quote))
	return fields
}

func unquote(f []byte, quote byte) []byte {
	if len(f) >= 2 && f[0] == quote && f[len(f)-1] == quote {
		f = f[1 : len(f)-1]
		f = bytes.ReplaceAll(f, []byte{quote, quote}, []byte{quote})
	}
	return f
}

// StripLineEnding removes a trailing CR from a line already split on
// LF (used when the dialect's line ending is CRLF).
func StripLineEnding(line []byte, le dialect.LineEnding) []byte {
	if le == dialect.CRLF && len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

// DecodeRecord turns raw split fields into decoded strings, applying
// the length and size policies of spec §4.3. It returns (row, kept,
// warnings, fatal).
func (dec *Decoder) DecodeRecord(rawFields [][]byte, recordIdx, lineNo, byteOff int64, isFirstDataRow bool) ([]string, bool, []Warning, error) {
	var warnings []Warning

	fields := rawFields
	if isFirstDataRow && dec.stripBOM0 && len(fields) > 0 {
		fields[0] = stripBOMBytes(fields[0])
	}

	// Size policy: per-field and per-record caps.
	totalSize := 0
	for i, f := range fields {
		totalSize += len(f)
		if len(f) > dec.d.MaxFieldSize {
			switch dec.d.Malformed {
			case dialect.Strict:
				return nil, false, warnings, &FatalError{Kind: WarnMaxFieldSize, Message: "field exceeds max-field-size"}
			case dialect.Skip:
				warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Field: i, Kind: WarnMaxFieldSize, Message: "field exceeds max-field-size"})
				return nil, false, warnings, nil
			case dialect.Repair:
				fields[i] = f[:dec.d.MaxFieldSize]
				warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Field: i, Kind: WarnRepaired, Message: "field truncated to max-field-size"})
			}
		}
	}
	if totalSize > dec.d.MaxRecordSize {
		switch dec.d.Malformed {
		case dialect.Strict:
			return nil, false, warnings, &FatalError{Kind: WarnMaxRecordSize, Message: "record exceeds max-record-size"}
		case dialect.Skip:
			warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Kind: WarnMaxRecordSize, Message: "record exceeds max-record-size"})
			return nil, false, warnings, nil
		case dialect.Repair:
			fields = truncateToBudget(fields, dec.d.MaxRecordSize)
			warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Kind: WarnRepaired, Message: "record truncated to max-record-size"})
		}
	}

	// Length policy: compare against target column count.
	if dec.targetLen > 0 && len(fields) != dec.targetLen {
		switch dec.d.Malformed {
		case dialect.Strict:
			return nil, false, warnings, &FatalError{Kind: WarnUnequalLengths, Message: "record has unexpected field count"}
		case dialect.Skip:
			warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Kind: WarnUnequalLengths, Message: "record dropped: unequal field count", ExpectedLen: dec.targetLen, Len: len(fields)})
			return nil, false, warnings, nil
		case dialect.Repair:
			fields = padOrTruncate(fields, dec.targetLen)
			warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Kind: WarnRepaired, Message: "record repaired to header width", ExpectedLen: dec.targetLen, Len: len(fields)})
		}
	}

	row := make([]string, len(fields))
	for i, f := range fields {
		decoded, ok := dec.dec(f)
		if !ok {
			switch dec.d.Malformed {
			case dialect.Strict:
				return nil, false, warnings, &FatalError{Kind: WarnUTF8, Message: "invalid encoding in field"}
			default:
				warnings = append(warnings, Warning{Record: recordIdx, Line: lineNo, Byte: byteOff, Field: i, Kind: WarnUTF8, Message: "invalid encoding in field; using replacement"})
			}
		}
		row[i] = string(decoded)
	}

	return row, true, warnings, nil
}

func stripBOMBytes(f []byte) []byte {
	if bytes.HasPrefix(f, []byte{0xEF, 0xBB, 0xBF}) {
		return f[3:]
	}
	return f
}

func padOrTruncate(fields [][]byte, target int) [][]byte {
	if len(fields) > target {
		return fields[:target]
	}
	out := make([][]byte, target)
	copy(out, fields)
	for i := len(fields); i < target; i++ {
		out[i] = []byte{}
	}
	return out
}

func truncateToBudget(fields [][]byte, budget int) [][]byte {
	total := 0
	for i, f := range fields {
		if total+len(f) > budget {
			return fields[:i]
		}
		total += len(f)
	}
	return fields
}
