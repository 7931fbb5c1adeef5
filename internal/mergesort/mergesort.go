// Package mergesort implements a generic external merge-sort engine:
// records accumulate in a bounded in-memory buffer; each full buffer is
// sorted and spilled to an LZ4-compressed temp file; Finalize performs
// a k-way merge of the spill files (or sorts in memory directly if
// everything fit in one chunk) and streams the result to a callback in
// order.
//
// Generalized from the teacher's internal/indexer/sorter.go: same
// chunk-sort-and-spill shape, same manual binary-heap k-way merge (to
// avoid container/heap's interface{} boxing), same LZ4 spill
// compression and bufio.Reader/Writer pooling. The teacher's record
// type and key comparison are fixed to its fingerprint-prefixed
// IndexRecord; here both are supplied by the caller so the engine
// serves both the Sort Engine (spec §4.7) and the Duplicate Finder
// (spec §4.8).
package mergesort

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var bufWriterPool = sync.Pool{
	New: func() any { return bufio.NewWriterSize(nil, 256*1024) },
}

var bufReaderPool = sync.Pool{
	New: func() any { return bufio.NewReaderSize(nil, 64*1024) },
}

// Options configures an Engine for element type T.
type Options[T any] struct {
	// TempDir holds spill chunk files.
	TempDir string
	// ChunkSize is the max number of elements buffered in memory before
	// a spill, e.g. memoryBudget/estimatedElementSize with a sane floor.
	ChunkSize int
	// Less reports whether a sorts before b.
	Less func(a, b T) bool
	// Encode writes one element to w.
	Encode func(w io.Writer, v T) error
	// Decode reads one element from r. Decode must return io.EOF (and
	// only io.EOF, no partial T) when the stream is exhausted.
	Decode func(r io.Reader) (T, error)
}

// Engine accumulates elements and produces them back in sorted order.
type Engine[T any] struct {
	opts       Options[T]
	buf        []T
	chunkFiles []string
	total      int64
}

func New[T any](opts Options[T]) *Engine[T] {
	if opts.ChunkSize < 1000 {
		opts.ChunkSize = 1000
	}
	return &Engine[T]{
		opts: opts,
		buf:  make([]T, 0, opts.ChunkSize),
	}
}

// Add appends one element, spilling the buffer to disk once full.
func (e *Engine[T]) Add(v T) error {
	e.buf = append(e.buf, v)
	e.total++
	if len(e.buf) >= e.opts.ChunkSize {
		return e.spill()
	}
	return nil
}

// Len reports how many elements have been added so far.
func (e *Engine[T]) Len() int64 { return e.total }

func (e *Engine[T]) spill() error {
	if len(e.buf) == 0 {
		return nil
	}
	sort.Slice(e.buf, func(i, j int) bool { return e.opts.Less(e.buf[i], e.buf[j]) })

	path := filepath.Join(e.opts.TempDir, fmt.Sprintf("mergesort_chunk_%d.tmp", len(e.chunkFiles)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mergesort: creating spill chunk: %w", err)
	}

	lzw := lz4.NewWriter(f)
	bw := bufWriterPool.Get().(*bufio.Writer)
	bw.Reset(lzw)
	defer func() {
		bw.Reset(nil)
		bufWriterPool.Put(bw)
	}()

	for _, v := range e.buf {
		if err := e.opts.Encode(bw, v); err != nil {
			bw.Flush()
			lzw.Close()
			f.Close()
			return fmt.Errorf("mergesort: writing spill chunk: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		lzw.Close()
		f.Close()
		return err
	}
	if err := lzw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	e.chunkFiles = append(e.chunkFiles, path)
	e.buf = e.buf[:0]
	return nil
}

// Cleanup removes any spill files left on disk. Finalize already
// cleans up after itself; Cleanup is for callers that abandon a run.
func (e *Engine[T]) Cleanup() {
	for _, p := range e.chunkFiles {
		os.Remove(p)
	}
	e.chunkFiles = nil
}

// Finalize streams every element in sorted order to emit, then removes
// all spill files. If nothing was ever spilled, it sorts the in-memory
// buffer directly rather than paying for a merge of one chunk.
func (e *Engine[T]) Finalize(emit func(T) error) error {
	if len(e.chunkFiles) == 0 {
		sort.Slice(e.buf, func(i, j int) bool { return e.opts.Less(e.buf[i], e.buf[j]) })
		for _, v := range e.buf {
			if err := emit(v); err != nil {
				return err
			}
		}
		e.buf = e.buf[:0]
		return nil
	}
	if err := e.spill(); err != nil {
		return err
	}
	err := e.kWayMerge(emit)
	e.Cleanup()
	return err
}

type mergeItem[T any] struct {
	v      T
	source int
}

// manualHeap is a hand-rolled min-heap over mergeItem, avoiding
// container/heap's interface{} boxing for a type that's on the hot
// path of every merge step.
type manualHeap[T any] struct {
	items []mergeItem[T]
	less  func(a, b T) bool
}

func (h *manualHeap[T]) Len() int { return len(h.items) }
func (h *manualHeap[T]) lessAt(i, j int) bool {
	return h.less(h.items[i].v, h.items[j].v)
}
func (h *manualHeap[T]) swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *manualHeap[T]) push(it mergeItem[T]) {
	h.items = append(h.items, it)
	h.up(len(h.items) - 1)
}

func (h *manualHeap[T]) pop() mergeItem[T] {
	n := len(h.items)
	x := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	h.down(0)
	return x
}

func (h *manualHeap[T]) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.lessAt(j, i) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *manualHeap[T]) down(i0 int) {
	n := len(h.items)
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.lessAt(j2, j1) {
			j = j2
		}
		if !h.lessAt(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
}

func (e *Engine[T]) kWayMerge(emit func(T) error) error {
	k := len(e.chunkFiles)
	readers := make([]*bufio.Reader, k)
	files := make([]*os.File, k)

	for i, path := range e.chunkFiles {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("mergesort: opening spill chunk %d: %w", i, err)
		}
		files[i] = f
		lzr := lz4.NewReader(f)
		br := bufReaderPool.Get().(*bufio.Reader)
		br.Reset(lzr)
		readers[i] = br
	}
	defer func() {
		for _, r := range readers {
			if r != nil {
				r.Reset(nil)
				bufReaderPool.Put(r)
			}
		}
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()

	h := &manualHeap[T]{less: e.opts.Less}
	for i := 0; i < k; i++ {
		v, err := e.opts.Decode(readers[i])
		if err == nil {
			h.push(mergeItem[T]{v: v, source: i})
		} else if err != io.EOF {
			return fmt.Errorf("mergesort: reading spill chunk %d: %w", i, err)
		}
	}

	for h.Len() > 0 {
		item := h.pop()
		if err := emit(item.v); err != nil {
			return err
		}
		next, err := e.opts.Decode(readers[item.source])
		if err == nil {
			h.push(mergeItem[T]{v: next, source: item.source})
		} else if err != io.EOF {
			return fmt.Errorf("mergesort: reading spill chunk %d: %w", item.source, err)
		}
	}
	return nil
}
