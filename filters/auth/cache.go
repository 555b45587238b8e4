package auth

import (
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// credentialCache holds credentials per target and treats them as stale
// once 80% of their lifetime has passed.
type credentialCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	clock   func() time.Time
}

type cacheEntry struct {
	creds     *Credentials
	fetchedAt time.Time
	ttl       time.Duration
}

func newCredentialCache(clock func() time.Time) *credentialCache {
	if clock == nil {
		clock = time.Now
	}
	return &credentialCache{entries: make(map[string]cacheEntry), clock: clock}
}

func (c *credentialCache) get(target string) *Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[target]
	if !ok {
		return nil
	}
	refreshAt := time.Duration(float64(entry.ttl) * 0.8)
	if c.clock().Sub(entry.fetchedAt) >= refreshAt {
		return nil
	}
	return entry.creds
}

func (c *credentialCache) put(target string, creds *Credentials, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[target] = cacheEntry{creds: creds, fetchedAt: c.clock(), ttl: ttl}
}

// untilExpiry converts an absolute expiry into a TTL measured from now.
func (c *credentialCache) untilExpiry(expiresOn time.Time) time.Duration {
	if expiresOn.IsZero() {
		return 0
	}
	return expiresOn.Sub(c.clock())
}
