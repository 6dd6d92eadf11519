package keys

import (
	"context"
	"errors"
	"sync"
	"time"

	"lompapi/internal/gate"
)

type cacheEntry struct {
	key       *gate.Key
	inactive  bool
	fetchedAt time.Time
}

// CachedStore serves lookups from memory for up to ttl after they were loaded.
// Found and inactive keys are cached; misses and errors always reach the backing store,
// so a newly created key is usable at once while a revocation may lag by up to ttl.
type CachedStore struct {
	next gate.KeyStore
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

var _ gate.KeyStore = (*CachedStore)(nil)

// NewCachedStore wraps next. A non-positive ttl disables caching.
func NewCachedStore(next gate.KeyStore, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Lookup implements gate.KeyStore.
func (c *CachedStore) Lookup(ctx context.Context, secret string) (*gate.Key, error) {
	if c.ttl <= 0 {
		return c.next.Lookup(ctx, secret)
	}
	hash := HashSecret(secret)

	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		if entry.inactive {
			return entry.key, gate.ErrKeyInactive
		}
		return entry.key, nil
	}

	key, err := c.next.Lookup(ctx, secret)
	switch {
	case err == nil:
		c.put(hash, cacheEntry{key: key, fetchedAt: c.now()})
	case errors.Is(err, gate.ErrKeyInactive):
		c.put(hash, cacheEntry{key: key, inactive: true, fetchedAt: c.now()})
	default:
		c.mu.Lock()
		delete(c.entries, hash)
		c.mu.Unlock()
	}
	return key, err
}

func (c *CachedStore) put(hash string, e cacheEntry) {
	c.mu.Lock()
	c.entries[hash] = e
	c.mu.Unlock()
}

// Invalidate drops every cached entry for the given key ID.
func (c *CachedStore) Invalidate(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, e := range c.entries {
		if e.key != nil && e.key.ID == keyID {
			delete(c.entries, hash)
		}
	}
}

// Purge empties the cache.
func (c *CachedStore) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
