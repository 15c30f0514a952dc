// Package cache implements the bounded, byte-accounted LRU store shared by
// every proxy request. It is the only mutable state shared across
// concurrent requests; everything else in the proxy is either read-only
// configuration or per-request local state.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the value handed back to callers of Find. It is a snapshot: the
// byte slice is a private copy, so callers may hold and read it after the
// cache has moved on to evict or replace the underlying node.
type Entry struct {
	URL        string
	Data       []byte
	Length     int
	InsertedAt time.Time
	LastAccess time.Time
}

// node is the internal doubly-linked-list element. Unlike Entry it is never
// copied: moveToFront and evictTail splice nodes in place under the cache
// mutex, and the map (index) always points at the live node for a key.
type node struct {
	key        string
	data       []byte
	length     int
	insertedAt time.Time
	lastAccess time.Time
	prev, next *node
}

func (n *node) size() int {
	return n.length + len(n.key)
}

// Stats is a point-in-time snapshot of cache occupancy and hit ratio.
// Reading it never mutates the cache.
type Stats struct {
	CurrentBytes int64
	ItemCount    int
	Hits         int64
	Misses       int64
	HitRate      float64
}

// Reporter receives a Stats snapshot once per StatsInterval. Both
// logging.Logger and metrics.Metrics satisfy it; emission is fire-and-forget
// and must never block or fail a cache operation.
type Reporter interface {
	ReportCacheStats(Stats)
}

// Options configures a new LRUCache. Zero-value MaxBytes/MaxEntryBytes fall
// back to the spec defaults (200 MiB store, 10 MiB per-entry ceiling).
type Options struct {
	MaxBytes      int64
	MaxEntryBytes int64
	StatsInterval time.Duration
	Reporter      Reporter
}

const (
	DefaultMaxBytes      = 200 * 1024 * 1024
	DefaultMaxEntryBytes = 10 * 1024 * 1024
	DefaultStatsInterval = 60 * time.Second
)

// LRUCache is a map-indexed doubly-linked list: O(1) find/add/evict, with
// byte-accounted capacity enforcement and cascaded eviction. A single mutex
// serializes find/add/clear/stats; no I/O ever happens while it is held.
type LRUCache struct {
	mu            sync.Mutex
	index         map[string]*node
	head, tail    *node
	currentBytes  int64
	maxBytes      int64
	maxEntryBytes int64

	hits   atomic.Int64
	misses atomic.Int64

	reporter Reporter
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an LRUCache and, if a Reporter is given, starts the passive
// background reporter goroutine (a zero StatsInterval falls back to
// DefaultStatsInterval). Call Close to stop it.
func New(opts Options) *LRUCache {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	maxEntryBytes := opts.MaxEntryBytes
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}

	c := &LRUCache{
		index:         make(map[string]*node),
		maxBytes:      maxBytes,
		maxEntryBytes: maxEntryBytes,
		reporter:      opts.Reporter,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	interval := opts.StatsInterval
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if c.reporter != nil {
		go c.reportLoop(interval)
	} else {
		close(c.doneCh)
	}

	return c
}

// Close stops the background stats reporter. Safe to call more than once.
func (c *LRUCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *LRUCache) reportLoop(interval time.Duration) {
	defer close(c.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.reporter.ReportCacheStats(c.Stats())
		case <-c.stopCh:
			return
		}
	}
}

// Find looks up url. A hit increments hits, refreshes lastAccess, and
// promotes the entry to head (most-recently-used). A miss increments misses.
// The returned Entry is a private copy; the caller may read it freely even
// if a later Add evicts the underlying node.
func (c *LRUCache) Find(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.index[url]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}

	c.hits.Add(1)
	n.lastAccess = time.Now()
	c.moveToFront(n)

	data := make([]byte, len(n.data))
	copy(data, n.data)
	return Entry{
		URL:        n.key,
		Data:       data,
		Length:     n.length,
		InsertedAt: n.insertedAt,
		LastAccess: n.lastAccess,
	}, true
}

// Add inserts data under url, evicting least-recently-used entries until it
// fits within maxBytes. It returns false without mutating the cache when the
// entry alone (data + key bytes) exceeds maxEntryBytes — this is a capacity
// rejection, not an error: the caller still serves the response, it just
// will not be served from cache on the next request.
func (c *LRUCache) Add(data []byte, url string) bool {
	entrySize := int64(len(data) + len(url))
	if entrySize > c.maxEntryBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.index[url]; ok {
		c.unlink(existing)
		c.currentBytes -= int64(existing.size())
		delete(c.index, url)
	}

	for c.currentBytes+entrySize > c.maxBytes {
		if c.tail == nil {
			// maxEntryBytes <= maxBytes is a configuration invariant, so this
			// is unreachable in practice; guard anyway rather than loop forever.
			return false
		}
		c.evictTail()
	}

	now := time.Now()
	n := &node{
		key:        url,
		data:       append([]byte(nil), data...),
		length:     len(data),
		insertedAt: now,
		lastAccess: now,
	}
	c.index[url] = n
	c.linkAtHead(n)
	c.currentBytes += entrySize
	return true
}

// Clear drops every entry and resets all counters, including hits/misses.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]*node)
	c.head = nil
	c.tail = nil
	c.currentBytes = 0
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns a snapshot of occupancy and hit ratio. It never mutates.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	currentBytes := c.currentBytes
	itemCount := len(c.index)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		CurrentBytes: currentBytes,
		ItemCount:    itemCount,
		Hits:         hits,
		Misses:       misses,
		HitRate:      hitRate,
	}
}

// moveToFront relinks n as head. No-op if n is already head. Must be called
// with mu held.
func (c *LRUCache) moveToFront(n *node) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.linkAtHead(n)
}

// linkAtHead splices n in as the new head. Must be called with mu held.
func (c *LRUCache) linkAtHead(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// unlink removes n from the list, patching its neighbors and head/tail as
// needed. It does not touch the index map. Must be called with mu held.
func (c *LRUCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

// evictTail removes the least-recently-used entry (c.tail). Must be called
// with mu held.
func (c *LRUCache) evictTail() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlink(victim)
	delete(c.index, victim.key)
	c.currentBytes -= int64(victim.size())
}
