package shaledb

import (
	"container/list"
	"sync"
)

// Deleter is invoked when the last reference to a cache entry drops.
type Deleter func(key string, value interface{})

// Handle pins a cache entry. The entry's value stays alive until the
// handle is released, even if the entry is evicted or erased meanwhile.
type Handle struct {
	key     string
	value   interface{}
	charge  int
	refs    int
	inCache bool
	deleter Deleter
	elem    *list.Element
}

// Cache maps keys to opaque values with a bounded total charge and LRU
// eviction. All methods are safe for concurrent use.
type Cache interface {
	Insert(key string, value interface{}, charge int, deleter Deleter) *Handle
	Lookup(key string) *Handle
	Release(h *Handle)
	Value(h *Handle) interface{}
	Erase(key string)
	TotalCharge() int
	Close()
}

// NewLRUCache returns a Cache holding at most capacity units of charge.
func NewLRUCache(capacity int) Cache {
	return &lruCache{
		capacity: capacity,
		table:    make(map[string]*Handle),
		lru:      list.New(),
	}
}

type lruCache struct {
	mu       sync.Mutex
	capacity int
	usage    int
	table    map[string]*Handle
	lru      *list.List // front = most recent; eviction skips entries a caller still pins (refs > 1)
}

func (c *lruCache) Insert(key string, value interface{}, charge int, deleter Deleter) *Handle {
	c.mu.Lock()
	h := &Handle{
		key:     key,
		value:   value,
		charge:  charge,
		refs:    2, // one for the cache, one for the caller
		inCache: true,
		deleter: deleter,
	}
	if old, ok := c.table[key]; ok {
		c.detach(old)
	}
	c.table[key] = h
	h.elem = c.lru.PushFront(h)
	c.usage += charge
	c.evictLocked()
	c.mu.Unlock()
	return h
}

func (c *lruCache) Lookup(key string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.table[key]
	if !ok {
		return nil
	}
	h.refs++
	c.lru.MoveToFront(h.elem)
	return h
}

func (c *lruCache) Release(h *Handle) {
	c.mu.Lock()
	c.unrefLocked(h)
	c.mu.Unlock()
}

func (c *lruCache) Value(h *Handle) interface{} {
	return h.value
}

func (c *lruCache) Erase(key string) {
	c.mu.Lock()
	if h, ok := c.table[key]; ok {
		c.detach(h)
	}
	c.mu.Unlock()
}

func (c *lruCache) TotalCharge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *lruCache) Close() {
	c.mu.Lock()
	for _, h := range c.table {
		c.detach(h)
	}
	c.mu.Unlock()
}

// detach removes h from the table and drops the cache's reference.
// Callers hold c.mu.
func (c *lruCache) detach(h *Handle) {
	if !h.inCache {
		return
	}
	h.inCache = false
	delete(c.table, h.key)
	c.lru.Remove(h.elem)
	c.usage -= h.charge
	c.unrefLocked(h)
}

func (c *lruCache) unrefLocked(h *Handle) {
	h.refs--
	if h.refs > 0 {
		return
	}
	if h.deleter != nil {
		// Run the deleter outside the lock; it may reacquire the cache.
		c.mu.Unlock()
		h.deleter(h.key, h.value)
		c.mu.Lock()
	}
}

func (c *lruCache) evictLocked() {
	for c.usage > c.capacity {
		e := c.lru.Back()
		for e != nil && e.Value.(*Handle).refs > 1 {
			e = e.Prev()
		}
		if e == nil {
			return
		}
		c.detach(e.Value.(*Handle))
	}
}
