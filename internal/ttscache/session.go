package ttscache

import "sync"

// SessionCache maps cache keys to playable URLs for the lifetime of one
// transcript view. It has no eviction; it is cleared wholesale.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string]string)}
}

func (c *SessionCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.entries[key]
	return url, ok
}

func (c *SessionCache) Set(key, url string) {
	if key == "" || url == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = url
	c.mu.Unlock()
}

func (c *SessionCache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
