// Package cache memoizes compilation results for Bifrost.
//
// Compiling the same query against the same view is fully
// deterministic, so repeated compilations can be served from memory.
// The memoizer keys on everything that influences the emitted SQL:
// the query text, the view name, the catalog snapshot version, the
// supplied parameters, and the view arguments. A catalog reload bumps
// the snapshot version, which silently invalidates every entry
// compiled against the old snapshot.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration for long-lived processes
// - Thread-safe operations
// - Hit/miss statistics
package cache

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Memoizer is a thread-safe LRU cache for compiled queries.
//
// The cache uses a hash map for O(1) lookups and a doubly-linked list
// for LRU ordering. Entries expire after the configured TTL.
//
// Example:
//
//	memo := cache.NewMemoizer(1000, 5*time.Minute)
//
//	key := memo.Key("social", snapshot.Version, query, params, nil)
//	if compiled, ok := memo.Get(key); ok {
//		return compiled
//	}
//	compiled := compileQuery(query)
//	memo.Put(key, compiled)
type Memoizer struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[uint64]*list.Element

	hits   uint64
	misses uint64
}

type entry struct {
	key       uint64
	value     interface{}
	expiresAt time.Time
}

// NewMemoizer creates a memoizer holding up to maxSize entries, each
// valid for ttl (0 = no expiration). A non-positive maxSize falls back
// to 1000.
func NewMemoizer(maxSize int, ttl time.Duration) *Memoizer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Memoizer{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key fingerprints one compilation. Parameter and view-argument values
// are part of the key because compiled SQL inlines them as literals;
// maps are folded in sorted key order so the fingerprint is stable.
func (m *Memoizer) Key(view string, catalogVersion uint64, query string, params map[string]any, viewArgs map[string]string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00", view, catalogVersion, query)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "%s=%v\x00", name, params[name])
	}

	args := make([]string, 0, len(viewArgs))
	for name := range viewArgs {
		args = append(args, name)
	}
	sort.Strings(args)
	for _, name := range args {
		fmt.Fprintf(h, "%s=%s\x00", name, viewArgs[name])
	}
	return h.Sum64()
}

// Get retrieves a cached compilation if present and not expired.
// On a hit the entry moves to the front of the LRU list.
func (m *Memoizer) Get(key uint64) (interface{}, bool) {
	if !m.enabled {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	m.mu.RLock()
	elem, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	e := elem.Value.(*entry)
	if m.ttl > 0 && time.Now().After(e.expiresAt) {
		m.mu.Lock()
		m.removeElement(elem)
		m.mu.Unlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	m.mu.Lock()
	m.list.MoveToFront(elem)
	m.mu.Unlock()

	atomic.AddUint64(&m.hits, 1)
	return e.value, true
}

// Put stores a compilation. The least recently used entry is evicted
// when the cache is full; existing keys are updated in place.
func (m *Memoizer) Put(key uint64, value interface{}) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		if m.ttl > 0 {
			e.expiresAt = time.Now().Add(m.ttl)
		}
		m.list.MoveToFront(elem)
		return
	}

	for m.list.Len() >= m.maxSize {
		m.evictOldest()
	}

	e := &entry{key: key, value: value}
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
	m.items[key] = m.list.PushFront(e)
}

// Remove drops a single entry.
func (m *Memoizer) Remove(key uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Clear drops all entries.
func (m *Memoizer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.list.Init()
	m.items = make(map[uint64]*list.Element, m.maxSize)
}

// Len returns the number of cached entries.
func (m *Memoizer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list.Len()
}

// SetEnabled toggles the cache. Disabling also drops all entries.
func (m *Memoizer) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled

	if !enabled {
		m.list.Init()
		m.items = make(map[uint64]*list.Element, m.maxSize)
	}
}

// Stats returns cache performance statistics.
func (m *Memoizer) Stats() Stats {
	hits := atomic.LoadUint64(&m.hits)
	misses := atomic.LoadUint64(&m.misses)

	m.mu.RLock()
	size := m.list.Len()
	m.mu.RUnlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
		MaxSize: m.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (m *Memoizer) evictOldest() {
	if elem := m.list.Back(); elem != nil {
		m.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (m *Memoizer) removeElement(elem *list.Element) {
	m.list.Remove(elem)
	delete(m.items, elem.Value.(*entry).key)
}
