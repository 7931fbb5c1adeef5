// Package access implements the Random-Access Reader of spec §4.5:
// given offsets, seek and decode individual rows or contiguous ranges,
// optimizing monotonic index sequences with forward reads instead of
// reseeking.
//
// Grounded on
// _examples/original_source/src-tauri/src/csv_handler.rs's
// read_chunk_with_offsets_from_reader (seek to offsets[start], then
// sequential read) and read_rows_by_index_from_reader (sort indices,
// track last_row_index, forward-read when contiguous, reseek
// otherwise).
package access

import (
	"bufio"
	"io"
	"sort"

	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/record"
)

// ReadRange reads count records starting at row index start, per spec
// §4.5's contiguous-range case.
func ReadRange(src ioengine.Source, offsets []int64, d dialect.Dialect, headerLen int, start, count int64) ([][]string, []record.Warning, error) {
	if start < 0 || start >= int64(len(offsets)) || count <= 0 {
		return nil, nil, nil
	}
	end := start + count
	if end > int64(len(offsets)) {
		end = int64(len(offsets))
	}

	dec := record.NewDecoder(d, headerLen, !d.HasHeaders)
	r := newSeekReader(src, d.LineEnding)
	r.seek(offsets[start])

	rows := make([][]string, 0, end-start)
	var warnings []record.Warning

	for i := start; i < end; i++ {
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, warnings, err
		}
		fields := record.SplitFields(line, d)
		row, kept, ws, ferr := dec.DecodeRecord(fields, i, i+1, offsets[i], i == 0 && !d.HasHeaders)
		warnings = append(warnings, ws...)
		if ferr != nil {
			return nil, warnings, ferr
		}
		if kept {
			rows = append(rows, row)
		} else {
			rows = append(rows, nil)
		}
	}
	return rows, warnings, nil
}

// ReadByIndices reads the rows named by indices, writing results back
// into the caller's original order. Out-of-range indices yield an
// empty row in their slot, per spec §4.5.
func ReadByIndices(src ioengine.Source, offsets []int64, d dialect.Dialect, headerLen int, indices []int64) ([][]string, error) {
	type target struct {
		origPos int
		rowIdx  int64
	}
	targets := make([]target, len(indices))
	for i, idx := range indices {
		targets[i] = target{origPos: i, rowIdx: idx}
	}
	sort.Slice(targets, func(a, b int) bool { return targets[a].rowIdx < targets[b].rowIdx })

	out := make([][]string, len(indices))
	dec := record.NewDecoder(d, headerLen, !d.HasHeaders)
	r := newSeekReader(src, d.LineEnding)

	lastRowIdx := int64(-2)
	for _, t := range targets {
		if t.rowIdx < 0 || t.rowIdx >= int64(len(offsets)) {
			out[t.origPos] = []string{}
			continue
		}
		if t.rowIdx != lastRowIdx+1 {
			r.seek(offsets[t.rowIdx])
		}
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		fields := record.SplitFields(line, d)
		row, kept, _, ferr := dec.DecodeRecord(fields, t.rowIdx, t.rowIdx+1, offsets[t.rowIdx], t.rowIdx == 0 && !d.HasHeaders)
		if ferr != nil {
			return nil, ferr
		}
		if kept {
			out[t.origPos] = row
		} else {
			out[t.origPos] = []string{}
		}
		lastRowIdx = t.rowIdx
	}
	return out, nil
}

// seekReader wraps a Source with a small buffered cursor that can be
// repositioned, used so contiguous reads don't pay a seek per row.
type seekReader struct {
	src ioengine.Source
	le  dialect.LineEnding
	off int64
	br  *bufio.Reader
}

func newSeekReader(src ioengine.Source, le dialect.LineEnding) *seekReader {
	return &seekReader{src: src, le: le}
}

func (r *seekReader) seek(off int64) {
	r.off = off
	r.br = bufio.NewReaderSize(&offsetReaderAt{src: r.src, off: off}, 64*1024)
}

func (r *seekReader) readLine() ([]byte, error) {
	term := byte('\n')
	if r.le == dialect.CR {
		term = '\r'
	}
	line, err := r.br.ReadBytes(term)
	if err != nil && err != io.EOF {
		return nil, err
	}
	trimmed := line
	if err == nil {
		trimmed = line[:len(line)-1]
	}
	return record.StripLineEnding(trimmed, r.le), err
}

type offsetReaderAt struct {
	src ioengine.Source
	off int64
}

func (o *offsetReaderAt) Read(p []byte) (int, error) {
	n, err := o.src.ReadAt(p, o.off)
	o.off += int64(n)
	if n > 0 && err == io.EOF {
		return n, nil
	}
	return n, err
}
