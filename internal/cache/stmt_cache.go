// Package cache provides an LRU cache of prepared statements keyed by SQL text.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// DefaultStmtCacheCapacity is the default maximum number of cached prepared statements.
const DefaultStmtCacheCapacity = 1000

// StmtCache stores prepared statements with LRU eviction. Evicted and
// replaced statements are closed.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lru      *list.List

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry struct {
	query string
	stmt  *sqlx.Stmt
}

// NewStmtCache creates a cache with DefaultStmtCacheCapacity.
func NewStmtCache() *StmtCache {
	return NewStmtCacheWithCapacity(DefaultStmtCacheCapacity)
}

// NewStmtCacheWithCapacity creates a cache holding at most capacity statements.
// A non-positive capacity falls back to DefaultStmtCacheCapacity.
func NewStmtCacheWithCapacity(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get returns the statement prepared for query and marks it recently used.
func (sc *StmtCache) Get(query string) (*sqlx.Stmt, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, ok := sc.items[query]
	if !ok {
		sc.misses.Add(1)
		return nil, false
	}
	sc.lru.MoveToFront(elem)
	sc.hits.Add(1)
	return elem.Value.(*entry).stmt, true
}

// Set stores stmt for query, evicting the least recently used statement
// when the cache is full.
func (sc *StmtCache) Set(query string, stmt *sqlx.Stmt) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if elem, ok := sc.items[query]; ok {
		sc.lru.MoveToFront(elem)
		e := elem.Value.(*entry)
		if e.stmt != stmt {
			_ = e.stmt.Close()
			e.stmt = stmt
		}
		return
	}

	if sc.lru.Len() >= sc.capacity {
		if oldest := sc.lru.Back(); oldest != nil {
			e := sc.lru.Remove(oldest).(*entry)
			delete(sc.items, e.query)
			_ = e.stmt.Close()
			sc.evictions.Add(1)
		}
	}

	sc.items[query] = sc.lru.PushFront(&entry{query: query, stmt: stmt})
}

// Clear closes and removes every cached statement.
func (sc *StmtCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for elem := sc.lru.Front(); elem != nil; elem = elem.Next() {
		_ = elem.Value.(*entry).stmt.Close()
	}
	sc.items = make(map[string]*list.Element, sc.capacity)
	sc.lru.Init()
}

// Stats holds cache performance metrics.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns cache statistics.
func (sc *StmtCache) Stats() Stats {
	sc.mu.Lock()
	size := sc.lru.Len()
	sc.mu.Unlock()

	hits, misses := sc.hits.Load(), sc.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Size:      size,
		Capacity:  sc.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: sc.evictions.Load(),
		HitRate:   rate,
	}
}
