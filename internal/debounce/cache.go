// Package debounce provides a TTL suppression cache: remember the last
// time a key fired and swallow repeats inside the cooldown. Instances are
// injected wherever repeated confirmations must collapse to one action.
package debounce

import (
	"sync"
	"time"
)

type Cache struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[string]time.Time
	latest time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Allow reports whether the key may fire at the given instant and, if so,
// records the firing. The first call for a key always passes.
func (c *Cache) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.latest) {
		c.latest = now
	}
	last, ok := c.seen[key]
	if ok && now.Sub(last) < c.ttl {
		return false
	}
	c.seen[key] = now
	return true
}

// Prune drops entries whose cooldown has fully elapsed. Keys are
// recorded against caller-supplied instants, which may trail the wall
// clock, so expiry is measured against the latest instant observed by
// Allow rather than time.Now.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, last := range c.seen {
		if c.latest.Sub(last) >= c.ttl {
			delete(c.seen, key)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
