package sqlguard

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores query results keyed by SQL text and parameters.
// It is safe for concurrent use from multiple goroutines.
//
// Register it with WithInterceptors(cache.Interceptor()). Queries inside a
// transaction bypass the cache, since they may see uncommitted writes.
//
// Entries are evicted least recently used first once MaxEntries is
// reached. Call Clear after writes that invalidate cached reads.
type Cache struct {
	lru *expirable.LRU[string, []Row]
}

type cacheConfig struct {
	ttl        time.Duration // 0 means no expiry
	maxEntries int           // 0 means unbounded
}

// CacheOption configures a Cache.
type CacheOption func(*cacheConfig)

// WithTTL sets the time-to-live for cache entries.
// A TTL of 0 (default) means entries never expire within the cache's lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.ttl = ttl
	}
}

// WithMaxEntries bounds the number of cached queries. Zero (default) means
// unbounded.
func WithMaxEntries(n int) CacheOption {
	return func(c *cacheConfig) {
		c.maxEntries = n
	}
}

// NewCache creates a new result cache.
func NewCache(opts ...CacheOption) *Cache {
	var cfg cacheConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{lru: expirable.NewLRU[string, []Row](cfg.maxEntries, nil, cfg.ttl)}
}

func cacheKeyFor(q CompiledQuery) string {
	return q.SQL + "\x00" + fmt.Sprintf("%#v", q.Params)
}

// Get returns a copy of the cached rows for q.
// If found is false, the entry doesn't exist or is expired.
func (c *Cache) Get(q CompiledQuery) ([]Row, bool) {
	rows, ok := c.lru.Get(cacheKeyFor(q))
	if !ok {
		return nil, false
	}
	return cloneRows(rows), true
}

// Set stores a copy of the rows returned for q.
func (c *Cache) Set(q CompiledQuery, rows []Row) {
	c.lru.Add(cacheKeyFor(q), cloneRows(rows))
}

// Size returns the number of unexpired entries in the cache.
func (c *Cache) Size() int {
	return len(c.lru.Keys())
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.lru.Purge()
}

type cacheQueryKey struct{}

// Interceptor returns an interceptor that answers repeated queries from the
// cache. A hit short-circuits execution; the cached rows are still checked
// against the calling method's shape.
func (c *Cache) Interceptor() Interceptor {
	return Interceptor{
		Name: "cache",
		BeforeQuery: func(ctx context.Context, qc *QueryContext, q CompiledQuery) (CompiledQuery, *Result, error) {
			if qc.TransactionDepth > 0 {
				return q, nil, nil
			}
			if rows, ok := c.Get(q); ok {
				return q, NewResult(rows), nil
			}
			qc.Set(cacheQueryKey{}, q)
			return q, nil, nil
		},
		AfterQuery: func(ctx context.Context, qc *QueryContext, rows []Row) ([]Row, error) {
			if v, ok := qc.Value(cacheQueryKey{}); ok {
				c.Set(v.(CompiledQuery), rows)
			}
			return rows, nil
		},
	}
}
