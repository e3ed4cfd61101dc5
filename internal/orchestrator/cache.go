package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// ttlCache is a bounded map with TTL expiry. Once the entry count exceeds
// maxEntries, the oldest fifth of entries is dropped.
type ttlCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry[V any] struct {
	ts    time.Time
	value V
}

func newTTLCache[V any](ttl time.Duration, maxEntries int, now func() time.Time) *ttlCache[V] {
	if ttl < time.Second {
		ttl = time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &ttlCache[V]{
		entries:    make(map[string]cacheEntry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	row, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(row.ts) > c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return row.value, true
}

func (c *ttlCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{ts: c.now(), value: value}
	if len(c.entries) <= c.maxEntries {
		return
	}
	type aged struct {
		key string
		ts  time.Time
	}
	rows := make([]aged, 0, len(c.entries))
	for k, v := range c.entries {
		rows = append(rows, aged{key: k, ts: v.ts})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ts.Before(rows[j].ts) })
	drop := c.maxEntries / 5
	if drop < 1 {
		drop = 1
	}
	for _, row := range rows[:drop] {
		delete(c.entries, row.key)
	}
}

func (c *ttlCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// toolCacheKey hashes (tool name, canonical argument JSON). json.Marshal
// sorts map keys, so argument order never changes the key.
func toolCacheKey(toolName string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{"tool": toolName, "args": args})
	if err != nil {
		raw = []byte(toolName)
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
