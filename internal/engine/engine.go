// Package engine implements the top-level operation surface of spec
// §6: open/read_chunk/search/find_duplicates/sort/... as plain Go
// methods on Engine, the primary in-process surface a shell embeds
// directly. internal/engine/daemon exposes the same operations behind
// a Unix-domain-socket JSON protocol for out-of-process shells.
//
// Background work (offset build, column-index build) follows the
// teacher's "file-open kicks off one background worker" shape
// (internal/indexer.Indexer.Run launched from cmd/benchmark/main.go):
// Open starts one plain goroutine that builds the offsets and then the
// column index, and a later open invalidates an in-flight one via the
// path-equality check of spec §5 without any explicit cancellation
// token.
package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/elmissouri16/quickrows/internal/access"
	"github.com/elmissouri16/quickrows/internal/applog"
	"github.com/elmissouri16/quickrows/internal/cache"
	"github.com/elmissouri16/quickrows/internal/colindex"
	"github.com/elmissouri16/quickrows/internal/dedup"
	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/diskcache"
	"github.com/elmissouri16/quickrows/internal/enginerr"
	"github.com/elmissouri16/quickrows/internal/ioengine"
	"github.com/elmissouri16/quickrows/internal/offsetindex"
	"github.com/elmissouri16/quickrows/internal/overrides"
	"github.com/elmissouri16/quickrows/internal/record"
	"github.com/elmissouri16/quickrows/internal/scan"
	"github.com/elmissouri16/quickrows/internal/session"
	"github.com/elmissouri16/quickrows/internal/sortengine"
)

const sampleBytes = 64 * 1024

// Events is the sink for the events of spec §6: parse-progress,
// row-count, index-ready, search-chunk/complete,
// duplicates-chunk/complete. A nil Events disables event emission.
type Events interface {
	ParseProgress(rows int64)
	RowCount(total int64)
	IndexReady(ready bool)
	SearchChunk(requestID string, matches []uint32)
	SearchComplete(requestID string, total int)
	DuplicatesChunk(requestID string, matches []uint32)
	DuplicatesComplete(requestID string, total int)
}

// OpenResult is the payload of the open operation.
type OpenResult struct {
	Headers          []string
	DetectedDialect  dialect.Dialect
	EffectiveDialect dialect.Dialect
	Warnings         []string
	EstimatedRows    int64
}

// Engine owns the current session and dispatches every spec §6
// operation against it.
type Engine struct {
	mu           sync.Mutex
	sess         *session.Session
	events       Events
	log          *applog.Logger
	indexingOn   bool
	tempDirRoot  string
}

// New creates an Engine. tempDir hosts external-sort spill files;
// verbose gates applog.Logger's diagnostic output.
func New(events Events, tempDir string, verbose bool) *Engine {
	return &Engine{
		events:      events,
		log:         applog.New(verbose),
		indexingOn:  true,
		tempDirRoot: tempDir,
	}
}

func (e *Engine) emitProgress(rows int64) {
	if e.events != nil {
		e.events.ParseProgress(rows)
	}
}

// Open detects dialect, installs a new session (discarding any prior
// one's in-flight background results via the path-equality check), and
// launches the background offset build, per spec §6's open.
func (e *Engine) Open(path string, ov dialect.Overrides) (OpenResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return OpenResult{}, enginerr.Wrap(enginerr.KindIO, fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	head := make([]byte, sampleBytes)
	n, rerr := io.ReadFull(f, head)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return OpenResult{}, enginerr.Wrap(enginerr.KindIO, "reading sample", rerr)
	}
	head = head[:n]

	detected, headerRow, err := dialect.Detect(head)
	if err != nil {
		return OpenResult{}, enginerr.Wrap(enginerr.KindDialect, "detecting dialect", err)
	}
	effective, err := dialect.Apply(detected, ov)
	if err != nil {
		return OpenResult{}, enginerr.Wrap(enginerr.KindDialect, "applying dialect overrides", err)
	}

	src, err := ioengine.Open(path)
	if err != nil {
		return OpenResult{}, enginerr.Wrap(enginerr.KindIO, "opening source", err)
	}

	sess := session.New(path)
	sess.SetSource(src)
	sess.SetDialect(effective)

	ovStore, err := overrides.Load(path)
	if err == nil {
		sess.SetOverrides(ovStore)
	}

	var estimated int64
	if nl := countNewlines(head); nl > 0 {
		if info, statErr := f.Stat(); statErr == nil {
			estimated = info.Size() / (int64(len(head)) / int64(nl))
		}
	}

	e.mu.Lock()
	if e.sess != nil {
		e.sess.Close()
	}
	e.sess = sess
	e.mu.Unlock()

	go e.buildOffsets(sess, path, effective)

	headers := headerRow
	if !effective.HasHeaders {
		headers = nil
	}

	return OpenResult{
		Headers:          headers,
		DetectedDialect:  detected,
		EffectiveDialect: effective,
		EstimatedRows:    estimated,
	}, nil
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

// buildOffsets is the one background worker launched on open. It
// recovers from panics at its goroutine root and discards its result
// if a newer Open has since replaced the session, rather than ever
// re-entering the operation.
func (e *Engine) buildOffsets(sess *session.Session, path string, d dialect.Dialect) {
	defer e.recoverCrash("buildOffsets")

	src := sess.Source()
	cacheDir, cerr := diskcache.Dir()
	var key diskcache.Key
	var fileLen, mtime int64
	if info, err := os.Stat(path); err == nil {
		fileLen = info.Size()
		mtime = info.ModTime().Unix()
	}
	if cerr == nil {
		key = diskcache.Key{
			Path:        path,
			FileLen:     fileLen,
			MtimeSecs:   mtime,
			DialectHash: diskcache.DialectHash(d.Delimiter, d.Quote, d.HasHeaders, int(d.Malformed)),
		}
		if offsets, ok := diskcache.ReadOffsets(cacheDir, key); ok {
			e.publishOffsets(sess, path, offsets, nil)
			return
		}
	}

	result, err := offsetindex.Build(src, d, e.emitProgress)
	if err != nil {
		e.log.Errorf("offset build failed for %s: %v", path, err)
		return
	}
	if cerr == nil {
		if werr := diskcache.WriteOffsets(cacheDir, key, result.Offsets); werr != nil {
			e.log.Verbosef("caching offsets for %s: %v", path, werr)
		}
	}
	e.publishOffsets(sess, path, result.Offsets, result.Headers)
	sess.AppendWarnings(result.Warnings)
}

func (e *Engine) publishOffsets(sess *session.Session, path string, offsets []int64, headers []string) {
	if !sess.SamePath(path) {
		return
	}
	sess.SetOffsets(offsets)
	if headers != nil {
		sess.SetHeaders(headers)
	}
	if e.events != nil {
		e.events.RowCount(int64(len(offsets)))
	}

	e.mu.Lock()
	indexingOn := e.indexingOn
	e.mu.Unlock()
	if indexingOn {
		go e.buildColumnIndex(sess, path)
	}
}

func (e *Engine) buildColumnIndex(sess *session.Session, path string) {
	defer e.recoverCrash("buildColumnIndex")
	snap := sess.Snap()
	if !sess.SamePath(path) {
		return
	}
	idx := colindex.Build(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), snap.Headers)
	if !sess.SamePath(path) {
		return
	}
	sess.SetColumnIndex(idx)
	if e.events != nil {
		e.events.IndexReady(true)
	}
}

func (e *Engine) recoverCrash(op string) {
	if r := recover(); r != nil {
		e.log.Errorf("panic in %s: %v", op, r)
		if dir, err := diskcache.Dir(); err == nil {
			if f, ferr := os.OpenFile(dir+"/crash.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); ferr == nil {
				defer f.Close()
				w := bufio.NewWriter(f)
				fmt.Fprintf(w, "[%s] panic in %s: %v\n%s\n", time.Now().Format(time.RFC3339), op, r, debug.Stack())
				w.Flush()
			}
		}
	}
}

func (e *Engine) session() (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil, enginerr.New(enginerr.KindPrecondition, "no file open")
	}
	return e.sess, nil
}

// ReadChunk serves [start,start+count) from the chunk cache when
// possible, else reads through internal/access and caches the result.
func (e *Engine) ReadChunk(start, count int64) ([][]string, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	snap := sess.Snap()

	key := cache.ChunkKey{Start: start, Count: int(count)}
	if rows, ok := sess.Cache().Get(key); ok {
		return rows, nil
	}

	headerLen := len(snap.Headers)
	rows, warnings, err := access.ReadRange(snap.Source, snap.Offsets, snap.Dialect, headerLen, start, count)
	if err != nil {
		return nil, err
	}
	sess.AppendWarnings(warnings)

	ov := sess.Overrides()
	if ov != nil && !ov.Empty() {
		idx := sess.HeaderIndex()
		for i, row := range rows {
			rowIdx := start + int64(i)
			if rowIdx < 0 || rowIdx >= int64(len(snap.Offsets)) {
				continue
			}
			off := snap.Offsets[rowIdx]
			if o := ov.Row(off); o != nil {
				rows[i] = overrides.Apply(row, o, idx)
			}
		}
	}

	sess.Cache().Put(key, rows)
	return rows, nil
}

// Search runs the non-streaming search, preferring the column index
// when spec §4.9's preconditions hold.
func (e *Engine) Search(column int, query string, matchCase, wholeWord bool) ([]uint32, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	snap := sess.Snap()
	if len(snap.Offsets) == 0 {
		return nil, enginerr.New(enginerr.KindPrecondition, "file not fully indexed yet")
	}

	if !matchCase && column >= 0 && snap.ColIndex != nil {
		if col := snap.ColIndex.Column(snap.Headers[column]); col != nil {
			normalized := colindex.TruncateLower(query)
			if wholeWord {
				if ids, ok := col.Lookup(normalized); ok {
					return ids, nil
				}
				return nil, nil
			}
			return col.Contains(normalized), nil
		}
	}

	pred := scan.Predicate{MatchCase: matchCase, WholeWord: wholeWord}
	return scan.Search(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), column, query, pred)
}

// SearchStream runs the scan and emits search-chunk/search-complete
// events to sink, tagged by requestID. sink defaults to the engine's
// own Events (set at New) when nil, but callers serving more than one
// concurrent requester — the daemon, one sink per connection — must
// pass their own so chunks reach the right caller instead of the
// engine-global sink.
func (e *Engine) SearchStream(column int, query string, matchCase, wholeWord bool, requestID string, sink Events) error {
	if sink == nil {
		sink = e.events
	}
	sess, err := e.session()
	if err != nil {
		return err
	}
	snap := sess.Snap()
	if len(snap.Offsets) == 0 {
		return enginerr.New(enginerr.KindPrecondition, "file not fully indexed yet")
	}

	chunks := make(chan []uint32, 4)
	pred := scan.Predicate{MatchCase: matchCase, WholeWord: wholeWord}

	var total int
	var scanErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		total, scanErr = scan.SearchStream(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), column, query, pred, chunks)
		close(chunks)
	}()

	for chunk := range chunks {
		if sink != nil {
			sink.SearchChunk(requestID, chunk)
		}
	}
	<-done
	if scanErr != nil {
		return scanErr
	}
	if sink != nil {
		sink.SearchComplete(requestID, total)
	}
	return nil
}

// FindDuplicates requires a built offset array per spec §6.
func (e *Engine) FindDuplicates(column int) ([]uint32, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	snap := sess.Snap()
	groups, err := dedup.Find(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), column, e.tempDirRoot)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, g := range groups {
		ids = append(ids, g.RowIDs...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// FindDuplicatesStream emits duplicates-chunk/duplicates-complete in
// bounded chunks using the same 5,000-row chunk size as search, to
// sink (or the engine-global Events when sink is nil; see
// SearchStream).
func (e *Engine) FindDuplicatesStream(column int, requestID string, sink Events) error {
	if sink == nil {
		sink = e.events
	}
	ids, err := e.FindDuplicates(column)
	if err != nil {
		return err
	}
	const chunkMax = 5_000
	for start := 0; start < len(ids); start += chunkMax {
		end := start + chunkMax
		if end > len(ids) {
			end = len(ids)
		}
		if sink != nil {
			sink.DuplicatesChunk(requestID, ids[start:end])
		}
	}
	if sink != nil {
		sink.DuplicatesComplete(requestID, len(ids))
	}
	return nil
}

// Sort computes and installs the permutation for column/ascending.
func (e *Engine) Sort(column int, ascending bool) ([]uint32, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	snap := sess.Snap()
	if len(snap.Offsets) == 0 {
		return nil, enginerr.New(enginerr.KindPrecondition, "file not fully indexed yet")
	}

	cacheDir, cerr := diskcache.Dir()
	var key diskcache.Key
	if cerr == nil {
		var fileLen, mtime int64
		if info, serr := os.Stat(snap.Path); serr == nil {
			fileLen = info.Size()
			mtime = info.ModTime().Unix()
		}
		key = diskcache.Key{
			Path:      snap.Path,
			FileLen:   fileLen,
			MtimeSecs: mtime,
			DialectHash: diskcache.DialectHash(snap.Dialect.Delimiter, snap.Dialect.Quote,
				snap.Dialect.HasHeaders, int(snap.Dialect.Malformed)),
		}
		if ids, ok := diskcache.ReadOrder(cacheDir, key, uint32(column), ascending); ok {
			perm := make([]uint32, len(ids))
			for i, v := range ids {
				perm[i] = uint32(v)
			}
			sess.SetSortOrder(perm, column, ascending)
			sess.ClearCache()
			return perm, nil
		}
	}

	asc, err := sortengine.Sort(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), column, e.tempDirRoot)
	if err != nil {
		return nil, err
	}
	perm := asc
	if !ascending {
		perm = sortengine.Reverse(asc)
	}

	if cerr == nil {
		ids := make([]uint64, len(perm))
		for i, v := range perm {
			ids[i] = uint64(v)
		}
		if werr := diskcache.WriteOrder(cacheDir, key, uint32(column), ascending, ids); werr != nil {
			e.log.Verbosef("caching sort order: %v", werr)
		}
	}

	sess.SetSortOrder(perm, column, ascending)
	sess.ClearCache()
	return perm, nil
}

// GetSortedChunk returns rows in permutation order for
// [start,start+count).
func (e *Engine) GetSortedChunk(start, count int64) ([]uint32, [][]string, error) {
	ids, err := e.GetSortedIndices(start, count)
	if err != nil {
		return nil, nil, err
	}
	sess, err := e.session()
	if err != nil {
		return nil, nil, err
	}
	snap := sess.Snap()
	idx64 := make([]int64, len(ids))
	for i, v := range ids {
		idx64[i] = int64(v)
	}
	rows, err := access.ReadByIndices(snap.Source, snap.Offsets, snap.Dialect, len(snap.Headers), idx64)
	if err != nil {
		return nil, nil, err
	}
	return ids, rows, nil
}

// GetSortedIndices returns the row-ids in [start,start+count) of the
// installed permutation, failing with precondition if none is set.
func (e *Engine) GetSortedIndices(start, count int64) ([]uint32, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	perm, _, _ := sess.SortOrder()
	if perm == nil {
		return nil, enginerr.New(enginerr.KindPrecondition, "no sort permutation installed")
	}
	if start < 0 || start >= int64(len(perm)) {
		return nil, nil
	}
	end := start + count
	if end > int64(len(perm)) {
		end = int64(len(perm))
	}
	return perm[start:end], nil
}

// ClearSort removes the installed permutation.
func (e *Engine) ClearSort() error {
	sess, err := e.session()
	if err != nil {
		return err
	}
	sess.ClearSortOrder()
	sess.ClearCache()
	return nil
}

// RowCount returns the current row count (0 if offsets aren't built
// yet; callers distinguish via the estimated count from Open).
func (e *Engine) RowCount() (int64, error) {
	sess, err := e.session()
	if err != nil {
		return 0, err
	}
	return sess.RowCount(), nil
}

// GetWarnings returns the session's bounded warning list, optionally
// clearing it.
func (e *Engine) GetWarnings(clear bool) ([]record.Warning, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	ws := sess.Warnings()
	if clear {
		sess.ClearWarnings()
	}
	return ws, nil
}

// SetIndexingEnabled toggles column-index building; disabling clears
// any already-built index.
func (e *Engine) SetIndexingEnabled(enabled bool) error {
	e.mu.Lock()
	e.indexingOn = enabled
	sess := e.sess
	e.mu.Unlock()

	if !enabled && sess != nil {
		sess.SetColumnIndex(nil)
	}
	return nil
}

