// Package dialect detects and represents the CSV-family dialect of a
// file: delimiter, quote, escape, line ending, encoding, header
// presence, malformed-row policy and size caps.
//
// Line ending, malformed mode and encoding are small closed
// enumerations with explicit string conversions, never a "dynamically
// typed option bag" — per the design notes this spec carries forward.
package dialect

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// LineEnding is a closed enumeration of record terminators.
type LineEnding int

const (
	LF LineEnding = iota
	CR
	CRLF
)

func (l LineEnding) String() string {
	switch l {
	case CRLF:
		return "crlf"
	case CR:
		return "cr"
	default:
		return "lf"
	}
}

func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToLower(s) {
	case "lf", "":
		return LF, nil
	case "cr":
		return CR, nil
	case "crlf":
		return CRLF, nil
	default:
		return LF, fmt.Errorf("dialect: unknown line ending %q", s)
	}
}

// MalformedMode selects how the Record Reader treats rows that violate
// the target column count or size caps.
type MalformedMode int

const (
	Strict MalformedMode = iota
	Skip
	Repair
)

func (m MalformedMode) String() string {
	switch m {
	case Skip:
		return "skip"
	case Repair:
		return "repair"
	default:
		return "strict"
	}
}

func ParseMalformedMode(s string) (MalformedMode, error) {
	switch strings.ToLower(s) {
	case "strict", "":
		return Strict, nil
	case "skip":
		return Skip, nil
	case "repair":
		return Repair, nil
	default:
		return Strict, fmt.Errorf("dialect: unknown malformed mode %q", s)
	}
}

// EncodingLabel is a closed enumeration of the encodings this engine
// auto-detects or accepts as an override.
type EncodingLabel int

const (
	UTF8 EncodingLabel = iota
	UTF16LE
	UTF16BE
	Latin1
)

func (e EncodingLabel) String() string {
	switch e {
	case UTF16LE:
		return "utf-16le"
	case UTF16BE:
		return "utf-16be"
	case Latin1:
		return "iso-8859-1"
	default:
		return "utf-8"
	}
}

// encodingAliases normalizes user-supplied encoding names (utf8,
// latin1, cp1252, ...) to canonical values, per §4.1's override rules.
var encodingAliases = map[string]EncodingLabel{
	"utf8": UTF8, "utf-8": UTF8,
	"utf16le": UTF16LE, "utf-16le": UTF16LE,
	"utf16be": UTF16BE, "utf-16be": UTF16BE,
	"latin1": Latin1, "iso-8859-1": Latin1, "windows-1252": Latin1, "cp1252": Latin1,
}

func ParseEncodingLabel(s string) (EncodingLabel, error) {
	if s == "" || strings.EqualFold(s, "auto") {
		return UTF8, nil
	}
	if e, ok := encodingAliases[strings.ToLower(s)]; ok {
		return e, nil
	}
	return UTF8, fmt.Errorf("dialect: unknown encoding %q", s)
}

// Decoder returns the x/text decoder for this label.
func (e EncodingLabel) Decoder() *encoding.Decoder {
	switch e {
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	case Latin1:
		return charmap.Windows1252.NewDecoder()
	default:
		return nil // UTF-8 needs no decoding
	}
}

const (
	DefaultMaxFieldSize  = 256 * 1024
	DefaultMaxRecordSize = 2 * 1024 * 1024
)

// Dialect is the full set of parameters governing how bytes become
// records, per spec §3.
type Dialect struct {
	Delimiter     byte
	Quote         byte
	Escape        byte
	HasEscape     bool
	LineEnding    LineEnding
	Encoding      EncodingLabel
	HasHeaders    bool
	Malformed     MalformedMode
	MaxFieldSize  int
	MaxRecordSize int
	BOMLen        int
}

// Overrides replaces a subset of detected fields; nil fields are left
// as detected. Values accept the symbolic aliases named in §4.1: comma,
// tab, pipe, semicolon, double, single, lf, crlf, cr, auto, latin1, etc.
type Overrides struct {
	Delimiter  *string
	Quote      *string
	LineEnding *string
	Encoding   *string
	HasHeaders *bool
	Malformed  *string
}

var delimiterAliases = map[string]byte{
	"comma": ',', ",": ',',
	"tab": '\t', "\t": '\t',
	"pipe": '|', "|": '|',
	"semicolon": ';', ";": ';',
}

var quoteAliases = map[string]byte{
	"double": '"', `"`: '"',
	"single": '\'', "'": '\'',
}

func Apply(d Dialect, o Overrides) (Dialect, error) {
	if o.Delimiter != nil {
		b, ok := delimiterAliases[strings.ToLower(*o.Delimiter)]
		if !ok {
			return d, fmt.Errorf("dialect: unknown delimiter %q", *o.Delimiter)
		}
		d.Delimiter = b
	}
	if o.Quote != nil {
		b, ok := quoteAliases[strings.ToLower(*o.Quote)]
		if !ok {
			return d, fmt.Errorf("dialect: unknown quote %q", *o.Quote)
		}
		d.Quote = b
	}
	if o.LineEnding != nil {
		le, err := ParseLineEnding(*o.LineEnding)
		if err != nil {
			return d, err
		}
		d.LineEnding = le
	}
	if o.Encoding != nil {
		e, err := ParseEncodingLabel(*o.Encoding)
		if err != nil {
			return d, err
		}
		d.Encoding = e
	}
	if o.HasHeaders != nil {
		d.HasHeaders = *o.HasHeaders
	}
	if o.Malformed != nil {
		m, err := ParseMalformedMode(*o.Malformed)
		if err != nil {
			return d, err
		}
		d.Malformed = m
	}
	return d, nil
}

const sampleSize = 64 * 1024

// Detect implements §4.1: read up to 64 KiB, strip BOM, guess encoding,
// decode, then derive line ending / quote / delimiter / escape / header
// heuristics from the decoded sample.
func Detect(head []byte) (Dialect, []string, error) {
	if len(head) > sampleSize {
		head = head[:sampleSize]
	}

	d := Dialect{
		MaxFieldSize:  DefaultMaxFieldSize,
		MaxRecordSize: DefaultMaxRecordSize,
		Malformed:     Strict,
	}

	bomLen, enc := stripBOM(head)
	d.BOMLen = bomLen
	d.Encoding = enc
	body := head[bomLen:]

	if dec := d.Encoding.Decoder(); dec != nil {
		decoded, err := dec.Bytes(body)
		if err == nil {
			body = decoded
		}
	}

	d.LineEnding = detectLineEnding(body)
	d.Quote = detectQuote(body)
	lines := splitLines(body, d.LineEnding)
	d.Delimiter, d.HasEscape, d.Escape = detectDelimiterAndEscape(lines, d.Quote)
	var headerRow []string
	d.HasHeaders, headerRow = detectHeaders(lines, d.Delimiter, d.Quote)

	return d, headerRow, nil
}

func stripBOM(head []byte) (int, EncodingLabel) {
	switch {
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		return 3, UTF8
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return 2, UTF16LE
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return 2, UTF16BE
	default:
		return 0, guessEncoding(head)
	}
}

// guessEncoding falls back to Windows-1252 for non-UTF-8 byte streams,
// matching the encoding detector observed in other_examples'
// joshuapare-hivekit reader.
func guessEncoding(head []byte) EncodingLabel {
	if isValidUTF8(head) {
		return UTF8
	}
	return Latin1
}

func isValidUTF8(b []byte) bool {
	for len(b) > 0 {
		r, size := decodeRuneSafe(b)
		if r == 0xFFFD && size == 1 {
			return false
		}
		b = b[size:]
	}
	return true
}

func decodeRuneSafe(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0xFFFD, 0
	}
	c := b[0]
	switch {
	case c < 0x80:
		return rune(c), 1
	case c&0xE0 == 0xC0 && len(b) >= 2:
		return rune(c), 2
	case c&0xF0 == 0xE0 && len(b) >= 3:
		return rune(c), 3
	case c&0xF8 == 0xF0 && len(b) >= 4:
		return rune(c), 4
	default:
		return 0xFFFD, 1
	}
}

func detectLineEnding(body []byte) LineEnding {
	var crlf, lf, cr int
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\n':
			if i > 0 && body[i-1] == '\r' {
				crlf++
			} else {
				lf++
			}
		case '\r':
			if i+1 >= len(body) || body[i+1] != '\n' {
				cr++
			}
		}
	}
	switch {
	case crlf >= lf && crlf >= cr && crlf > 0:
		return CRLF
	case lf >= cr && lf > 0:
		return LF
	case cr > 0:
		return CR
	default:
		return LF
	}
}

func detectQuote(body []byte) byte {
	dq := bytes.Count(body, []byte{'"'})
	sq := bytes.Count(body, []byte{'\''})
	if dq > 0 && dq >= sq {
		return '"'
	}
	if sq > 0 {
		return '\''
	}
	return '"'
}

func splitLines(body []byte, le LineEnding) [][]byte {
	var sep []byte
	switch le {
	case CRLF:
		sep = []byte("\r\n")
	case CR:
		sep = []byte("\r")
	default:
		sep = []byte("\n")
	}
	parts := bytes.Split(body, sep)
	var lines [][]byte
	for _, p := range parts {
		if len(p) > 0 {
			lines = append(lines, p)
		}
	}
	return lines
}

var delimiterCandidates = []byte{',', '\t', ';', '|'}

// detectDelimiterAndEscape implements §4.1's modal field-count voting
// across up to 20 sample lines, then checks for a backslash-escape
// sequence preceding the chosen quote.
func detectDelimiterAndEscape(lines [][]byte, quote byte) (byte, bool, byte) {
	sampleLines := lines
	if len(sampleLines) > 20 {
		sampleLines = sampleLines[:20]
	}

	bestDelim := byte(',')
	bestFreq := -1
	bestMode := 0

	for _, cand := range delimiterCandidates {
		counts := map[int]int{}
		for _, line := range sampleLines {
			fields := splitQuoteAware(line, cand, quote)
			counts[len(fields)]++
		}
		mode, freq := modalCount(counts)
		if mode < 2 {
			continue
		}
		if freq > bestFreq || (freq == bestFreq && mode > bestMode) {
			bestFreq = freq
			bestMode = mode
			bestDelim = cand
		}
	}

	escapeSeq := append([]byte{'\\'}, quote)
	hasEscape := false
	for _, line := range lines {
		if bytes.Contains(line, escapeSeq) {
			hasEscape = true
			break
		}
	}
	return bestDelim, hasEscape, '\\'
}

func modalCount(counts map[int]int) (mode, freq int) {
	for count, f := range counts {
		if f > freq {
			freq = f
			mode = count
		}
	}
	return
}

// splitQuoteAware is a minimal quote-aware splitter used only for
// dialect detection sampling (the Record Reader has its own bitmap
// scanner for the hot path).
func splitQuoteAware(line []byte, sep, quote byte) [][]byte {
	var fields [][]byte
	start := 0
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case quote:
			inQuote = !inQuote
		case sep:
			if !inQuote {
				fields = append(fields, line[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, line[start:])
	return fields
}

// detectHeaders implements §4.1's heuristic (a)/(b) over the first two
// rows parsed with the tentative dialect.
func detectHeaders(lines [][]byte, delim, quote byte) (bool, []string) {
	if len(lines) < 2 {
		if len(lines) == 1 {
			return true, stringFields(splitQuoteAware(lines[0], delim, quote))
		}
		return true, nil
	}

	first := splitQuoteAware(lines[0], delim, quote)
	second := splitQuoteAware(lines[1], delim, quote)

	firstRatio := numericRatio(first)
	secondRatio := numericRatio(second)

	condA := firstRatio < 0.2 && secondRatio > 0.4
	condB := allUniqueWordLike(first) && secondRatio > firstRatio

	has := condA || condB
	return has, stringFields(first)
}

func stringFields(fields [][]byte) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func numericRatio(fields [][]byte) float64 {
	if len(fields) == 0 {
		return 0
	}
	n := 0
	for _, f := range fields {
		if isNumeric(f) {
			n++
		}
	}
	return float64(n) / float64(len(fields))
}

func isNumeric(f []byte) bool {
	f = bytes.TrimSpace(f)
	if len(f) == 0 {
		return false
	}
	seenDigit, seenDot := false, false
	for i, b := range f {
		switch {
		case b >= '0' && b <= '9':
			seenDigit = true
		case b == '.' && !seenDot:
			seenDot = true
		case (b == '-' || b == '+') && i == 0:
		default:
			return false
		}
	}
	return seenDigit
}

func allUniqueWordLike(fields [][]byte) bool {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		s := string(f)
		if seen[s] {
			return false
		}
		seen[s] = true
		for _, b := range f {
			wordChar := (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
				b == '_' || b == '-' || b == ' '
			if !wordChar {
				return false
			}
		}
	}
	return true
}
