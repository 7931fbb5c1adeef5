// Package dedup implements the Duplicate Finder of spec §4.8: a
// two-phase hash-then-verify external sort. Phase 1 projects a field-
// boundary-delimited key (a specific column, or the whole record) and
// hashes it with xxhash, externally sorting (hash, rowID) pairs on
// internal/mergesort exactly as internal/sortengine sorts (key, rowID)
// pairs. Phase 2 walks hash-equal runs and verifies true byte equality
// via internal/access seek-reads, since a hash collision alone must
// never be reported as a duplicate.
package dedup

import (
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/elmissouri16/quickrows/internal/access"
	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/enginerr"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/mergesort"
)

const (
	bulkChunk = 10_000
	// fieldSep mixes between fields so "ab"+"" never hashes equal to
	// "a"+"b", matching the teacher's fixed-width-key boundary instinct
	// in common.IndexRecord.
	fieldSep = 0x1f
)

// Group is one run of row-ids that verified as true duplicates.
type Group struct {
	RowIDs []uint32
}

type hashedRow struct {
	hash  uint64
	rowID uint32
}

func less(a, b hashedRow) bool {
	if a.hash != b.hash {
		return a.hash < b.hash
	}
	return a.rowID < b.rowID
}

func encode(w io.Writer, v hashedRow) error {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], v.hash)
	binary.LittleEndian.PutUint32(buf[8:], v.rowID)
	_, err := w.Write(buf[:])
	return err
}

func decode(r io.Reader) (hashedRow, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return hashedRow{}, err
	}
	return hashedRow{
		hash:  binary.LittleEndian.Uint64(buf[:8]),
		rowID: binary.LittleEndian.Uint32(buf[8:]),
	}, nil
}

func projectKey(row []string, column int) string {
	if column >= 0 {
		if column < len(row) {
			return row[column]
		}
		return ""
	}
	var b strings.Builder
	for i, f := range row {
		if i > 0 {
			b.WriteByte(fieldSep)
		}
		b.WriteString(f)
	}
	return b.String()
}

// Find locates duplicate row groups for the given column, or for whole
// records when column < 0. Offsets must already be built; callers
// without an offset array get a precondition error per spec §4.8.
func Find(src ioengine.Source, offsets []int64, d dialect.Dialect, headerLen int, column int, tempDir string) ([]Group, error) {
	if len(offsets) == 0 {
		return nil, enginerr.New(enginerr.KindPrecondition, "dedup: offset index not built")
	}

	eng := mergesort.New(mergesort.Options[hashedRow]{
		TempDir:   tempDir,
		ChunkSize: 300_000,
		Less:      less,
		Encode:    encode,
		Decode:    decode,
	})

	// Hashing is the CPU-bound part of phase 1 (spec §4.8 "parallel
	// hashing"); read and hash each bulkChunk range concurrently, bounded
	// at runtime.NumCPU() as scan.go does, then feed the results to
	// mergesort in range order since Engine.Add is not concurrency-safe.
	total := int64(len(offsets))
	numChunks := int((total + bulkChunk - 1) / bulkChunk)
	partials := make([][]hashedRow, numChunks)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for c := 0; c < numChunks; c++ {
		c := c
		g.Go(func() error {
			start := int64(c) * bulkChunk
			n := int64(bulkChunk)
			if start+n > total {
				n = total - start
			}
			rows, _, err := access.ReadRange(src, offsets, d, headerLen, start, n)
			if err != nil {
				return fmt.Errorf("dedup: reading chunk at %d: %w", start, err)
			}
			var hashed []hashedRow
			for i, row := range rows {
				if row == nil {
					continue
				}
				rowID := uint32(start) + uint32(i)
				key := projectKey(row, column)
				hashed = append(hashed, hashedRow{hash: xxhash.Sum64String(key), rowID: rowID})
			}
			partials[c] = hashed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, hashed := range partials {
		for _, v := range hashed {
			if err := eng.Add(v); err != nil {
				return nil, err
			}
		}
	}

	var (
		groups   []Group
		runHash  uint64
		runRows  []uint32
		haveRun  bool
	)
	flush := func() error {
		if !haveRun || len(runRows) < 2 {
			runRows = nil
			return nil
		}
		verified, err := verifyRun(src, offsets, d, headerLen, column, runRows)
		if err != nil {
			return err
		}
		groups = append(groups, verified...)
		runRows = nil
		return nil
	}

	err := eng.Finalize(func(v hashedRow) error {
		if haveRun && v.hash == runHash {
			runRows = append(runRows, v.rowID)
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		runHash = v.hash
		runRows = []uint32{v.rowID}
		haveRun = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: merging: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return groups, nil
}

// verifyRun splits a hash-equal run into true-equality subgroups,
// guarding against hash collisions masquerading as duplicates.
func verifyRun(src ioengine.Source, offsets []int64, d dialect.Dialect, headerLen int, column int, rowIDs []uint32) ([]Group, error) {
	idx := make([]int64, len(rowIDs))
	for i, id := range rowIDs {
		idx[i] = int64(id)
	}
	rows, err := access.ReadByIndices(src, offsets, d, headerLen, idx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]uint32, len(rows))
	order := make([]string, 0, len(rows))
	for i, row := range rows {
		key := projectKey(row, column)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], rowIDs[i])
	}

	var groups []Group
	for _, key := range order {
		if len(byKey[key]) >= 2 {
			groups = append(groups, Group{RowIDs: byKey[key]})
		}
	}
	return groups, nil
}
