// Package cache implements the bounded hot-chunk cache of spec §4.10:
// a (start,count) → rows mapping, size 64, cleared on file/dialect
// change and resort.
//
// It wraps github.com/opencoff/golang-lru's ARCCache (Adaptive
// Replacement Cache), grounded on
// other_examples/.../opencoff-go-chd/dbreader.go's use of the same
// library. ARC tracks both recency and frequency, a strict superset of
// what a plain LRU needs, so it satisfies this spec's "bounded LRU
// mapping" contract without hand-rolling a container/list LRU.
package cache

import (
	"sync"

	lru "github.com/opencoff/golang-lru"
)

const DefaultSize = 64

// ChunkKey identifies one cached contiguous row range.
type ChunkKey struct {
	Start int64
	Count int
}

// ChunkCache serializes access per spec §4.10: "a consistency layer,
// not a parallelism layer."
type ChunkCache struct {
	mu  sync.Mutex
	arc *lru.ARCCache
}

func New(size int) *ChunkCache {
	if size <= 0 {
		size = DefaultSize
	}
	arc, err := lru.NewARC(size)
	if err != nil {
		// NewARC only fails for size <= 0, already guarded above.
		panic(err)
	}
	return &ChunkCache{arc: arc}
}

func (c *ChunkCache) Get(key ChunkKey) ([][]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.arc.Get(key)
	if !ok {
		return nil, false
	}
	return v.([][]string), true
}

func (c *ChunkCache) Put(key ChunkKey, rows [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arc.Add(key, rows)
}

// Clear drops all entries, used on file change, dialect change, and
// resort per spec §4.10.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arc.Purge()
}
