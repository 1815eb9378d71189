package pageservice

import (
	"sync"

	"github.com/starford/pagestore/internal/storage"
)

const defaultCacheSize = 512

// renderCache holds parsed pages keyed by slug and validated against the
// change token they were read at. Entries are dropped explicitly on every
// write and delete.
type renderCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]cached
}

type cached struct {
	token storage.ChangeToken
	page  Page
}

func newRenderCache(size int) *renderCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &renderCache{max: size, entries: make(map[string]cached)}
}

func (c *renderCache) get(slug string, token storage.ChangeToken) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[slug]
	if !ok || e.token != token {
		return Page{}, false
	}
	return e.page.clone(), true
}

func (c *renderCache) put(slug string, token storage.ChangeToken, p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[slug]; !exists && len(c.entries) >= c.max {
		// Evict an arbitrary entry.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[slug] = cached{token: token, page: p.clone()}
}

func (c *renderCache) invalidate(slug string) {
	c.mu.Lock()
	delete(c.entries, slug)
	c.mu.Unlock()
}

func (c *renderCache) reset() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *renderCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
