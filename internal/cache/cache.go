// Package cache stores statically decidable authorization decisions
// keyed by (actor, entity, action). Only decisions with no filter and
// no strict residual are cacheable; anything else depends on record
// data and must be recomputed.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/policyflow/go-core/pkg/types"
)

// DecisionCache is the engine-facing cache contract.
type DecisionCache interface {
	Get(key string) (*types.Decision, bool)
	Set(key string, d *types.Decision)
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// LRU is an in-process LRU decision cache with per-entry TTL.
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	decision  *types.Decision
	expiresAt time.Time
}

// NewLRU creates an LRU cache holding at most capacity decisions, each
// valid for ttl.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *LRU) Get(key string) (*types.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.order.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return entry.decision, true
}

func (c *LRU) Set(key string, d *types.Decision) {
	if !Cacheable(d) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.decision = d
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		decision:  d,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()

	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// Cacheable reports whether a decision is valid independent of record
// data. Filtered and strict-residual decisions are not.
func Cacheable(d *types.Decision) bool {
	return d != nil && d.Filter == nil && len(d.Residual) == 0
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Noop is a DecisionCache that stores nothing, used when caching is
// disabled.
type Noop struct{}

func (Noop) Get(string) (*types.Decision, bool) { return nil, false }
func (Noop) Set(string, *types.Decision)        {}
func (Noop) Delete(string)                      {}
func (Noop) Clear()                             {}
func (Noop) Stats() Stats                       { return Stats{} }
