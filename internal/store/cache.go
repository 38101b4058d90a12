package store

import (
	"container/list"
	"sync"
)

// Eviction selects which cached record is dropped when the cache is full.
type Eviction string

const (
	// EvictFIFO drops the record that was inserted first.
	EvictFIFO Eviction = "fifo"
	// EvictLRU drops the record that was read or written least recently.
	EvictLRU Eviction = "lru"
)

type cacheEntry[V any] struct {
	key   string
	value V
}

// boundedCache keeps at most capacity records, front = newest.
type boundedCache[V any] struct {
	mu       sync.Mutex
	capacity int
	policy   Eviction
	ll       *list.List
	items    map[string]*list.Element
}

func newBoundedCache[V any](capacity int, policy Eviction) *boundedCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &boundedCache[V]{
		capacity: capacity,
		policy:   policy,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *boundedCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.policy == EvictLRU {
		c.ll.MoveToFront(el)
	}
	return el.Value.(*cacheEntry[V]).value, true
}

// put stores value and returns the keys evicted to respect capacity.
func (c *boundedCache[V]) put(key string, value V) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry[V]).value = value
		if c.policy == EvictLRU {
			c.ll.MoveToFront(el)
		}
		return nil
	}

	c.items[key] = c.ll.PushFront(&cacheEntry[V]{key: key, value: value})

	var evicted []string
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		k := oldest.Value.(*cacheEntry[V]).key
		delete(c.items, k)
		evicted = append(evicted, k)
	}
	return evicted
}

func (c *boundedCache[V]) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func (c *boundedCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
