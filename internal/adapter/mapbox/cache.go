package mapbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/quake-alert/internal/domain"
	"github.com/couchcryptid/quake-alert/internal/observability"
)

// CachedRenderer wraps a MapRenderer with an in-memory LRU cache keyed by
// event id, so a notification retried on the next cycle reuses its map.
type CachedRenderer struct {
	inner   domain.MapRenderer
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedRenderer creates a cache decorator around a renderer.
func NewCachedRenderer(inner domain.MapRenderer, maxEntries int, metrics *observability.Metrics) *CachedRenderer {
	return &CachedRenderer{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedRenderer) Render(ctx context.Context, req domain.MapRequest) ([]byte, error) {
	w, h := req.Size()
	key := fmt.Sprintf("%s|%dx%d", req.Event.ID, w, h)
	if img, ok := c.cache.get(key); ok {
		c.metrics.MapCache.WithLabelValues("hit").Inc()
		return img, nil
	}
	c.metrics.MapCache.WithLabelValues("miss").Inc()

	img, err := c.inner.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(img) > 0 {
		c.cache.put(key, img)
	}
	return img, nil
}

// lruCache is a simple thread-safe LRU cache for rendered images.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []byte
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
