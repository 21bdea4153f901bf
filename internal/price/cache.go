// Package price implements the market-data layer: a short-TTL quote cache,
// rate-limited REST source adapters behind circuit breakers, an optional
// Binance streaming feed, and the proximity-based poll scheduler.
package price

import (
	"sync"
	"time"

	"signal-bridge/pkg/types"
)

// Cache is an in-process TTL cache of the latest quote per symbol.
// Safe for concurrent use; the monitor reads while stream feeds write.
type Cache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	quotes map[string]types.PriceQuote
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:    ttl,
		quotes: make(map[string]types.PriceQuote),
	}
}

// Get returns the cached quote for symbol if it is younger than the TTL.
func (c *Cache) Get(symbol string) (types.PriceQuote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok || time.Since(q.Timestamp) > c.ttl {
		return types.PriceQuote{}, false
	}
	return q, true
}

// Put stores a quote, replacing any previous entry for the symbol.
func (c *Cache) Put(q types.PriceQuote) {
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

// Prune drops entries older than the TTL and returns how many were removed.
// Called periodically so long-gone symbols do not accumulate.
func (c *Cache) Prune() int {
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for sym, q := range c.quotes {
		if q.Timestamp.Before(cutoff) {
			delete(c.quotes, sym)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
