package packedtable

import (
	"sync"
	"time"
)

// QueryCache is a small TTL-bounded cache for identical (sql, params)
// table queries, so a view re-issuing the same tabular query while the
// user scrolls doesn't round-trip to the store each time.
type QueryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	table     *Table
	expiresAt time.Time
}

func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &QueryCache{ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// Get returns the cached Table for key if present and unexpired.
func (c *QueryCache) Get(key string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.table, true
}

// Put stores t under key with this cache's configured TTL.
func (c *QueryCache) Put(key string, t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{table: t, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate drops every cached entry; called by Trace.DeleteTable /
// DeleteAllTables since a trimmed or deleted table might
// otherwise be served stale.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Key builds the cache key from a query string and a stable param tuple
// rendering; callers pass a pre-joined representation (e.g. sql+"|"+
// fmt.Sprint(params)) so this package stays agnostic of param types.
func Key(sql string, paramsRepr string) string {
	return sql + "\x00" + paramsRepr
}
