// Package offsetindex builds the per-row byte-offset array in a single
// sequential pass, grounded on
// _examples/original_source/src-tauri/src/csv_handler.rs's
// build_row_offsets_from_reader (offset snapshot taken BEFORE each
// record read) and the teacher's progress-ticker cadence
// (internal/indexer/indexer.go's startReporting, every-10000 rows here
// instead of every-second).
package offsetindex

import (
	"bufio"
	"fmt"
	"io"

	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/record"
)

const maxWarnings = 200

const progressEvery = 10_000

// Result is the outcome of an offset-indexer pass.
type Result struct {
	Offsets  []int64
	Headers  []string
	Warnings []record.Warning
}

// ProgressFunc is invoked every progressEvery kept rows with the
// running count.
type ProgressFunc func(keptRows int64)

// Build performs the single linear pass described by spec §4.4.
func Build(src ioengine.Source, d dialect.Dialect, onProgress ProgressFunc) (Result, error) {
	lineReader := newLineReader(src, d.LineEnding)

	var headers []string
	targetLen := 0

	if d.HasHeaders {
		headerLine, _, err := lineReader.next()
		if err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("offsetindex: reading header: %w", err)
		}
		if headerLine != nil {
			fields := record.SplitFields(headerLine, d)
			headers = make([]string, len(fields))
			for i, f := range fields {
				headers[i] = string(f)
			}
			targetLen = len(headers)
		}
	}

	dec := record.NewDecoder(d, targetLen, !d.HasHeaders)

	var result Result
	var recordIdx int64
	var lineNo int64 = 1
	if d.HasHeaders {
		lineNo = 2
	}

	for {
		lineStart := lineReader.offset()
		line, hadLine, err := lineReader.next()
		if err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("offsetindex: %w", err)
		}
		if !hadLine {
			break
		}

		fields := record.SplitFields(line, d)
		_, kept, warnings, ferr := dec.DecodeRecord(fields, recordIdx, lineNo, lineStart, recordIdx == 0 && !d.HasHeaders)
		if ferr != nil {
			return Result{}, &fatalWrap{ferr}
		}

		if len(result.Warnings) < maxWarnings {
			room := maxWarnings - len(result.Warnings)
			if room < len(warnings) {
				warnings = warnings[:room]
			}
			result.Warnings = append(result.Warnings, warnings...)
		}

		if kept {
			result.Offsets = append(result.Offsets, lineStart)
			recordIdx++
			if onProgress != nil && recordIdx%progressEvery == 0 {
				onProgress(recordIdx)
			}
		}
		lineNo++

		if err == io.EOF {
			break
		}
	}

	result.Headers = headers
	return result, nil
}

type fatalWrap struct{ err error }

func (f *fatalWrap) Error() string { return f.err.Error() }
func (f *fatalWrap) Unwrap() error { return f.err }

// lineReader splits a Source into dialect-terminated lines without
// reading the whole file into memory when the source is buffered.
type lineReader struct {
	src    ioengine.Source
	le     dialect.LineEnding
	br     *bufio.Reader
	mapped []byte
	pos    int64
}

func newLineReader(src ioengine.Source, le dialect.LineEnding) *lineReader {
	lr := &lineReader{src: src, le: le}
	if data, ok := src.Bytes(); ok {
		lr.mapped = data
	} else {
		lr.br = bufio.NewReaderSize(&readerAtAdapter{src: src}, 1<<20)
	}
	return lr
}

func (lr *lineReader) offset() int64 { return lr.pos }

// next returns the next line (without its terminator) and whether a
// line was produced. At EOF with no trailing terminator, the final
// partial line is still returned once, with err == io.EOF.
func (lr *lineReader) next() ([]byte, bool, error) {
	term := lineTerminatorByte(lr.le)

	if lr.mapped != nil {
		if lr.pos >= int64(len(lr.mapped)) {
			return nil, false, io.EOF
		}
		rest := lr.mapped[lr.pos:]
		idx := indexByte(rest, term)
		if idx == -1 {
			line := record.StripLineEnding(rest, lr.le)
			lr.pos += int64(len(rest))
			return line, true, io.EOF
		}
		line := record.StripLineEnding(rest[:idx], lr.le)
		lr.pos += int64(idx + 1)
		return line, true, nil
	}

	line, err := lr.br.ReadBytes(term)
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	if len(line) == 0 && err == io.EOF {
		return nil, false, io.EOF
	}
	n := len(line)
	trimmed := line
	if err == nil {
		trimmed = line[:len(line)-1]
	}
	trimmed = record.StripLineEnding(trimmed, lr.le)
	lr.pos += int64(n)
	return trimmed, true, err
}

func lineTerminatorByte(le dialect.LineEnding) byte {
	if le == dialect.CR {
		return '\r'
	}
	return '\n'
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

type readerAtAdapter struct {
	src ioengine.Source
	off int64
}

func (r *readerAtAdapter) Read(p []byte) (int, error) {
	n, err := r.src.ReadAt(p, r.off)
	r.off += int64(n)
	if n > 0 && err == io.EOF {
		return n, nil
	}
	return n, err
}
