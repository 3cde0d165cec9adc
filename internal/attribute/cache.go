package attribute

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache interns attributes by (code, payload bytes). Values are immutable
// once inserted, so eviction is always safe and hits share one object.
// The cache is owned by the reactor goroutine; no locking beyond what the
// LRU itself does.
type Cache struct {
	lru    *lru.Cache[string, Attribute]
	hits   uint64
	misses uint64
}

const DefaultCacheSize = 8192

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, _ := lru.New[string, Attribute](size)
	return &Cache{lru: c}
}

func cacheKey(code Code, payload []byte) string {
	return string(byte(code)) + string(payload)
}

// Intern returns the canonical instance for an attribute, inserting it on
// first sight.
func (c *Cache) Intern(a Attribute) Attribute {
	key := cacheKey(a.Code(), a.Payload())
	if cached, ok := c.lru.Get(key); ok {
		c.hits++
		return cached
	}
	c.misses++
	c.lru.Add(key, a)
	return a
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Stats() (hits, misses uint64) { return c.hits, c.misses }
