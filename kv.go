package qamus

import "sync"

// KVCache is the lightweight entitlement cache tier. On device this is
// backed by platform preferences; the default in-process implementation
// below is enough for tests and the CLI. The tier is allowed to be
// stale and is cleared aggressively (on sign-out), unlike the
// structured profile tier which persists until an explicit wipe.
type KVCache interface {
	// GetBool returns the cached value and whether it was present.
	GetBool(key string) (value, ok bool)
	SetBool(key string, value bool)
	Delete(key string)
}

// MemoryCache is an in-process KVCache.
type MemoryCache struct {
	mu     sync.Mutex
	values map[string]bool
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{values: make(map[string]bool)}
}

// GetBool returns the cached value and whether it was present.
func (c *MemoryCache) GetBool(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.values[key]
	return v, ok
}

// SetBool stores a value.
func (c *MemoryCache) SetBool(key string, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
}

// Delete removes a key. Absent keys are a no-op.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.values, key)
}
