// Package credential holds the short-lived bearer credential used to call the
// completion API.
package credential

import (
	"sync"
	"time"
)

// DefaultTTL is how long a fetched token is reused before it is fetched again.
// It is much shorter than the token's real validity so a revoked or rotated
// token is not reused for long.
const DefaultTTL = 10 * time.Second

// Key names the single slot the cache holds.
const Key = "accessToken"

// Clock returns the current time.
type Clock func() time.Time

// Credential is a bearer token and the instant the cache stops returning it.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Cache holds at most one Credential. The zero value is not usable; use NewCache.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   Clock
	entry *Credential
}

// NewCache creates an empty cache. A non-positive ttl selects DefaultTTL and
// a nil clock selects time.Now.
func NewCache(ttl time.Duration, clock Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{ttl: ttl, now: clock}
}

// Get returns the cached credential if it has not expired.
func (c *Cache) Get() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return Credential{}, false
	}
	if !c.now().Before(c.entry.ExpiresAt) {
		c.entry = nil
		return Credential{}, false
	}
	return *c.entry, true
}

// Set caches token for the configured TTL and returns the stored credential.
func (c *Cache) Set(token string) Credential {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred := Credential{Token: token, ExpiresAt: c.now().Add(c.ttl)}
	c.entry = &cred
	return cred
}

// Invalidate evicts the cached credential regardless of its expiry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// TTL returns the lifetime given to newly cached credentials.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
