// Package colindex implements the Column Inverted Index of spec §4.9:
// background build, one in-memory map per column from truncated
// lowercased cell value to an ascending deduplicated row-id list, each
// guarded by its own Bloom filter so a miss short-circuits a search
// before the map is touched — including mid-build, while the map is
// still partial.
//
// Generalized from the teacher's internal/indexer.go pipeline-per-
// column fan-out (one goroutine per column consuming a channel of
// records, NewIndexer/runSorterNode): the teacher spills each column's
// sorted keys to a disk-backed .cidx block file; this index lives
// entirely in memory, and Build instead fans bulk row ranges out to a
// bounded worker pool whose workers insert directly into the
// per-column maps.
package colindex

import (
	"runtime"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/elmissouri16/quickrows/internal/access"
	"github.com/elmissouri16/quickrows/internal/bloom"
	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
)

const (
	bulkChunk       = 10_000
	keyWidth        = 256
	cardinalityCap  = 2_000_000
	bloomEstimate   = 1_000_000
	bloomFPRate     = 0.01
)

// Column holds the built (or abandoned) index for one column.
type Column struct {
	mu       sync.RWMutex
	entries  map[string][]uint32
	bloom    *bloom.Filter
	skipped  bool
	distinct int
}

func newColumn() *Column {
	return &Column{
		entries: make(map[string][]uint32),
		bloom:   bloom.New(bloomEstimate, bloomFPRate),
	}
}

func (c *Column) insert(key string, rowID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.skipped {
		return
	}
	if _, exists := c.entries[key]; !exists {
		c.distinct++
		if c.distinct > cardinalityCap {
			c.skipped = true
			c.entries = nil
			return
		}
	}
	c.entries[key] = append(c.entries[key], rowID)
	c.bloom.Add(key)
}

// Skipped reports whether this column was abandoned for exceeding the
// cardinality cap.
func (c *Column) Skipped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skipped
}

// Lookup returns the ascending row-id list for an exact truncated key,
// consulting the Bloom filter first.
func (c *Column) Lookup(key string) ([]uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.skipped {
		return nil, false
	}
	if !c.bloom.MightContain(key) {
		return nil, false
	}
	ids, ok := c.entries[key]
	return ids, ok
}

// Contains scans the key set for keys containing substr, unioning and
// deduplicating their row-id lists, per spec §4.9's substring
// index-accelerated path. The scan runs sequentially on the calling
// goroutine under the column's read lock; it is not split across
// workers.
func (c *Column) Contains(substr string) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.skipped {
		return nil
	}
	seen := make(map[uint32]struct{})
	var out []uint32
	for key, ids := range c.entries {
		if !strings.Contains(key, substr) {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Index is the full set of per-column indexes for a session.
type Index struct {
	mu      sync.RWMutex
	columns map[string]*Column
}

func New() *Index {
	return &Index{columns: make(map[string]*Column)}
}

// Column returns the column's index, or nil if it was never built or
// was abandoned.
func (idx *Index) Column(name string) *Column {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	c := idx.columns[name]
	if c == nil || c.Skipped() {
		return nil
	}
	return c
}

// SkippedColumns lists columns dropped for exceeding the cardinality
// cap, per spec §4.9's "skipped columns" list.
func (idx *Index) SkippedColumns() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []string
	for name, c := range idx.columns {
		if c.Skipped() {
			out = append(out, name)
		}
	}
	return out
}

// TruncateLower lowercases and truncates to keyWidth bytes at a
// UTF-8 code-point boundary, matching internal/sortengine's truncation
// discipline. Callers doing an index-accelerated lookup must normalize
// their query the same way before calling Lookup/Contains, since the
// index's keys are stored in this form.
func TruncateLower(s string) string {
	s = strings.ToLower(s)
	if len(s) <= keyWidth {
		return s
	}
	cut := keyWidth
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Build runs the background index build of spec §4.9: after the offset
// array is ready, stream the file in bulk chunks fanned out across a
// worker pool bounded at runtime.NumCPU() (matching the teacher's
// scanner.go range-partitioned workers), inserting
// (truncated-lowercased-cell) -> row-id into each column's map. Column
// inserts are safe for concurrent use (each *Column* guards its own
// mutex), so chunks need no further synchronization among themselves.
// A chunk that fails to read is skipped rather than aborting the whole
// build, so Build always returns whatever was successfully indexed.
func Build(src ioengine.Source, offsets []int64, d dialect.Dialect, headerLen int, headers []string) *Index {
	idx := New()
	if len(headers) == 0 {
		return idx
	}

	idx.mu.Lock()
	for _, h := range headers {
		idx.columns[h] = newColumn()
	}
	idx.mu.Unlock()

	total := int64(len(offsets))
	numChunks := int((total + bulkChunk - 1) / bulkChunk)

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
				return nil
			}
			for i, row := range rows {
				if row == nil {
					continue
				}
				rowID := uint32(start) + uint32(i)
				for ci, cell := range row {
					if ci >= len(headers) {
						break
					}
					col := idx.columns[headers[ci]]
					if col == nil || col.Skipped() {
						continue
					}
					col.insert(TruncateLower(cell), rowID)
				}
			}
			return nil
		})
	}
	g.Wait()

	// Chunks finish in any order, so each key's row-id list is put back
	// into ascending order once every insert has landed.
	for _, col := range idx.columns {
		col.mu.Lock()
		for _, ids := range col.entries {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		}
		col.mu.Unlock()
	}
	return idx
}
