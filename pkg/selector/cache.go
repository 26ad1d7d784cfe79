package selector

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CacheStats 缓存统计
type CacheStats struct {
	Entries    int     `json:"entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	Generation uint64  `json:"generation"`
}

type cacheEntry struct {
	gen   uint64
	value interface{}
}

// lookupCache 带代数的旁路缓存，ClearCache 只需递增代数
// 未命中时回源，同一键的并发未命中合并为一次加载
type lookupCache struct {
	mu         sync.RWMutex
	generation uint64
	entries    map[string]cacheEntry
	hits       atomic.Int64
	misses     atomic.Int64
	group      singleflight.Group
}

func newLookupCache() *lookupCache {
	return &lookupCache{entries: make(map[string]cacheEntry)}
}

// get 读取缓存，未命中时调用 load，错误结果不缓存
func (c *lookupCache) get(key string, load func() (interface{}, error)) (interface{}, error) {
	c.mu.RLock()
	gen := c.generation
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.gen == gen {
		c.hits.Add(1)
		return e.value, nil
	}

	c.misses.Add(1)
	v, err, _ := c.group.Do(key+"#"+strconv.FormatUint(gen, 10), load)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generation == gen {
		c.entries[key] = cacheEntry{gen: gen, value: v}
	}
	c.mu.Unlock()
	return v, nil
}

func (c *lookupCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[string]cacheEntry)
}

func (c *lookupCache) stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	gen := c.generation
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
		Generation: gen,
	}
}
