package oidc

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheSize bounds the number of issuers kept in the cache.
	DefaultCacheSize = 256
	// DefaultCacheTTL is how long a resolved endpoint set stays valid.
	// Providers rotate endpoints rarely; an hour keeps logins off the
	// well-known URL without letting stale endpoints linger for long.
	DefaultCacheTTL = 1 * time.Hour
)

// Cache holds resolved endpoint sets keyed by normalized issuer. Entries
// expire by TTL only; there is no explicit invalidation besides Remove and
// Purge. Concurrent writers for the same issuer are last-writer-wins, which
// is safe because entries are idempotent snapshots of the same provider
// configuration.
//
// The cache is constructed explicitly and injected into the Client; there is
// no package-level instance.
type Cache struct {
	entries *lru.LRU[string, *Endpoints]
}

// NewCache creates a cache bounded to maxIssuers entries with the given TTL.
// Non-positive arguments fall back to the defaults.
func NewCache(maxIssuers int, ttl time.Duration) *Cache {
	if maxIssuers <= 0 {
		maxIssuers = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: lru.NewLRU[string, *Endpoints](maxIssuers, nil, ttl),
	}
}

// Get returns a copy of the cached endpoint set for a normalized issuer.
func (c *Cache) Get(issuer string) (*Endpoints, bool) {
	eps, ok := c.entries.Get(issuer)
	if !ok {
		return nil, false
	}
	return eps.clone(), true
}

// Set stores an endpoint snapshot for a normalized issuer, replacing any
// existing entry.
func (c *Cache) Set(issuer string, eps *Endpoints) {
	c.entries.Add(issuer, eps.clone())
}

// Remove evicts one issuer from the cache.
func (c *Cache) Remove(issuer string) {
	c.entries.Remove(issuer)
}

// Purge drops every cached entry, forcing re-discovery on next use.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached issuers.
func (c *Cache) Len() int {
	return c.entries.Len()
}
