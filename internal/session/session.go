// Package session holds all mutable state bound to one open file
// (spec §3/§4.11): one mutex per field, fixed lock order
// path -> offsets -> mmap -> dialect -> headers -> cache -> sortOrder
// -> columnIndex -> warnings, per spec §5. No method acquires locks
// out of this order, and no lock is held across I/O — callers clone
// what they need under a field's own lock and release before doing
// any blocking work.
package session

import (
	"sync"

	"github.com/elmissouri16/quickrows/internal/cache"
	"github.com/elmissouri16/quickrows/internal/colindex"
	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/overrides"
	"github.com/elmissouri16/quickrows/internal/record"
)

// Session is all state for one open file. Fields are ordered top to
// bottom to match the required lock order; never take a lower lock
// while holding a higher one in this list.
type Session struct {
	pathMu sync.RWMutex
	path   string

	offsetsMu sync.RWMutex
	offsets   []int64

	mmapMu sync.RWMutex
	source ioengine.Source

	dialectMu sync.RWMutex
	dialect   dialect.Dialect

	headersMu sync.RWMutex
	headers   []string

	cacheMu sync.Mutex
	chunks  *cache.ChunkCache

	sortMu    sync.RWMutex
	sortOrder []uint32
	sortCol   int
	sortAsc   bool

	colIndexMu sync.RWMutex
	colIndex   *colindex.Index

	warningsMu sync.RWMutex
	warnings   []record.Warning

	overridesMu sync.RWMutex
	overrides   *overrides.Store
}

// New creates an empty session for path, with a fresh chunk cache.
func New(path string) *Session {
	return &Session{
		path:    path,
		chunks:  cache.New(cache.DefaultSize),
		sortCol: -1,
	}
}

func (s *Session) Path() string {
	s.pathMu.RLock()
	defer s.pathMu.RUnlock()
	return s.path
}

// SamePath reports whether path still names this session's file,
// used for the path-equality staleness check of spec §5: a background
// result for a since-replaced file is discarded, never applied.
func (s *Session) SamePath(path string) bool {
	return s.Path() == path
}

func (s *Session) SetOffsets(offsets []int64) {
	s.offsetsMu.Lock()
	defer s.offsetsMu.Unlock()
	s.offsets = offsets
}

// Offsets returns the current offset array, or nil if not yet built —
// observed as either fully absent or fully present, per the single
// atomic-swap publication rule.
func (s *Session) Offsets() []int64 {
	s.offsetsMu.RLock()
	defer s.offsetsMu.RUnlock()
	return s.offsets
}

func (s *Session) RowCount() int64 {
	s.offsetsMu.RLock()
	defer s.offsetsMu.RUnlock()
	return int64(len(s.offsets))
}

func (s *Session) SetSource(src ioengine.Source) {
	s.mmapMu.Lock()
	defer s.mmapMu.Unlock()
	s.source = src
}

func (s *Session) Source() ioengine.Source {
	s.mmapMu.RLock()
	defer s.mmapMu.RUnlock()
	return s.source
}

func (s *Session) SetDialect(d dialect.Dialect) {
	s.dialectMu.Lock()
	defer s.dialectMu.Unlock()
	s.dialect = d
}

func (s *Session) Dialect() dialect.Dialect {
	s.dialectMu.RLock()
	defer s.dialectMu.RUnlock()
	return s.dialect
}

func (s *Session) SetHeaders(headers []string) {
	s.headersMu.Lock()
	defer s.headersMu.Unlock()
	s.headers = headers
}

func (s *Session) Headers() []string {
	s.headersMu.RLock()
	defer s.headersMu.RUnlock()
	return s.headers
}

func (s *Session) HeaderIndex() map[string]int {
	s.headersMu.RLock()
	defer s.headersMu.RUnlock()
	idx := make(map[string]int, len(s.headers))
	for i, h := range s.headers {
		idx[h] = i
	}
	return idx
}

func (s *Session) Cache() *cache.ChunkCache {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.chunks
}

// ClearCache drops every cached chunk, used on file change, dialect
// change, and resort per spec §4.10.
func (s *Session) ClearCache() {
	s.cacheMu.Lock()
	c := s.chunks
	s.cacheMu.Unlock()
	c.Clear()
}

func (s *Session) SetSortOrder(perm []uint32, column int, ascending bool) {
	s.sortMu.Lock()
	defer s.sortMu.Unlock()
	s.sortOrder = perm
	s.sortCol = column
	s.sortAsc = ascending
}

func (s *Session) SortOrder() ([]uint32, int, bool) {
	s.sortMu.RLock()
	defer s.sortMu.RUnlock()
	return s.sortOrder, s.sortCol, s.sortAsc
}

func (s *Session) ClearSortOrder() {
	s.sortMu.Lock()
	defer s.sortMu.Unlock()
	s.sortOrder = nil
	s.sortCol = -1
}

func (s *Session) SetColumnIndex(idx *colindex.Index) {
	s.colIndexMu.Lock()
	defer s.colIndexMu.Unlock()
	s.colIndex = idx
}

func (s *Session) ColumnIndex() *colindex.Index {
	s.colIndexMu.RLock()
	defer s.colIndexMu.RUnlock()
	return s.colIndex
}

func (s *Session) AppendWarnings(ws []record.Warning) {
	if len(ws) == 0 {
		return
	}
	s.warningsMu.Lock()
	defer s.warningsMu.Unlock()
	s.warnings = append(s.warnings, ws...)
}

func (s *Session) Warnings() []record.Warning {
	s.warningsMu.RLock()
	defer s.warningsMu.RUnlock()
	out := make([]record.Warning, len(s.warnings))
	copy(out, s.warnings)
	return out
}

func (s *Session) ClearWarnings() {
	s.warningsMu.Lock()
	defer s.warningsMu.Unlock()
	s.warnings = nil
}

func (s *Session) SetOverrides(o *overrides.Store) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	s.overrides = o
}

func (s *Session) Overrides() *overrides.Store {
	s.overridesMu.RLock()
	defer s.overridesMu.RUnlock()
	return s.overrides
}

// Snapshot is a consistent, lock-free-to-read view of the fields
// needed by most request handlers, built by taking each field's lock
// in order and releasing it before taking the next — never holding
// two at once, and never holding any across the I/O callers do with
// the result.
type Snapshot struct {
	Path      string
	Offsets   []int64
	Source    ioengine.Source
	Dialect   dialect.Dialect
	Headers   []string
	SortOrder []uint32
	SortCol   int
	SortAsc   bool
	ColIndex  *colindex.Index
}

func (s *Session) Snap() Snapshot {
	snap := Snapshot{
		Path:    s.Path(),
		Offsets: s.Offsets(),
		Source:  s.Source(),
		Dialect: s.Dialect(),
		Headers: s.Headers(),
	}
	snap.SortOrder, snap.SortCol, snap.SortAsc = s.SortOrder()
	snap.ColIndex = s.ColumnIndex()
	return snap
}

// Close releases the session's I/O resources.
func (s *Session) Close() error {
	src := s.Source()
	if src == nil {
		return nil
	}
	return src.Close()
}
