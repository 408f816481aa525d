package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const numShards = 16

// Quote is one cached last price.
type Quote struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuoteCache is a sharded last-price cache keyed by upper-case symbol.
type QuoteCache struct {
	shards [numShards]*quoteShard
	now    func() time.Time
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewQuoteCache creates an empty cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]Quote)}
	}
	return c
}

// SetClock replaces the time source; used by tests.
func (c *QuoteCache) SetClock(now func() time.Time) { c.now = now }

func (c *QuoteCache) shard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the last price of symbol.
func (c *QuoteCache) Set(symbol string, price float64, source string) {
	key := strings.ToUpper(symbol)
	s := c.shard(key)
	s.mu.Lock()
	s.items[key] = Quote{Price: price, Source: source, UpdatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the cached quote of symbol and its age.
func (c *QuoteCache) Get(symbol string) (Quote, time.Duration, bool) {
	key := strings.ToUpper(symbol)
	s := c.shard(key)
	s.mu.RLock()
	q, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, 0, false
	}
	return q, c.now().Sub(q.UpdatedAt), true
}

// Delete removes a symbol from the cache.
func (c *QuoteCache) Delete(symbol string) {
	key := strings.ToUpper(symbol)
	s := c.shard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns how many went.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, q := range s.items {
			if q.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Snapshot returns a copy of every cached quote.
func (c *QuoteCache) Snapshot() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q
		}
		s.mu.RUnlock()
	}
	return out
}
