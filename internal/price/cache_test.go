package price

import (
	"testing"
	"time"

	"signal-bridge/pkg/types"
)

func TestCacheGetPut(t *testing.T) {
	t.Parallel()

	c := NewCache(10 * time.Second)
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatal("empty cache should miss")
	}

	c.Put(types.PriceQuote{Symbol: "BTCUSDT", Price: 50000, Timestamp: time.Now()})
	q, ok := c.Get("BTCUSDT")
	if !ok || q.Price != 50000 {
		t.Fatalf("hit = %v, quote = %+v", ok, q)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	c := NewCache(10 * time.Second)
	c.Put(types.PriceQuote{Symbol: "ETHUSDT", Price: 3000, Timestamp: time.Now().Add(-11 * time.Second)})
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Fatal("stale quote must not be served")
	}
}

func TestCachePrune(t *testing.T) {
	t.Parallel()

	c := NewCache(10 * time.Second)
	c.Put(types.PriceQuote{Symbol: "OLD", Price: 1, Timestamp: time.Now().Add(-time.Minute)})
	c.Put(types.PriceQuote{Symbol: "NEW", Price: 2, Timestamp: time.Now()})

	if removed := c.Prune(); removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("NEW"); !ok {
		t.Error("fresh quote must survive prune")
	}
}
