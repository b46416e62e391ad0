package cache

import (
	"path"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 4096

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a bounded in-process LRU with a per entry deadline.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]
	dropped atomic.Int64
}

func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = defaultMemoryEntries
	}

	m := &MemoryCache{}
	// lru.NewWithEvict only fails for a non-positive size.
	m.entries, _ = lru.NewWithEvict(size, func(string, memoryEntry) {
		m.dropped.Add(1)
	})
	return m
}

func (m *MemoryCache) Set(key string, value any, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.entries.Add(key, entry)
}

func (m *MemoryCache) Get(key string) (any, bool) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		m.entries.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryCache) Delete(key string) {
	m.entries.Remove(key)
}

// DeletePattern removes keys matching a glob in the syntax of path.Match,
// which covers the '*' patterns Redis uses for the same keys.
func (m *MemoryCache) DeletePattern(pattern string) {
	for _, key := range m.entries.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			m.entries.Remove(key)
		}
	}
}

func (m *MemoryCache) Len() int {
	return m.entries.Len()
}

func (m *MemoryCache) Stats() map[string]any {
	return map[string]any{
		"entries": m.entries.Len(),
		"dropped": m.dropped.Load(),
	}
}
