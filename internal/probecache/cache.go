// Package probecache keeps recent probe results in memory so repeated
// status lookups for the same input skip the subprocess entirely.
package probecache

import (
	"encoding/json"
	"sync"
	"time"
)

// Rich results (many streams) change rarely and earn a longer TTL.
const (
	longTTLFactor   = 8
	richStreamCount = 12
)

type entry struct {
	data     []byte
	storedAt time.Time
	ttl      time.Duration
}

// Info describes one cache entry for the admin listing.
type Info struct {
	Key          string `json:"key"`
	AgeSeconds   int    `json:"age_sec"`
	RemainSecond int    `json:"remaining_sec"`
	TTLSeconds   int    `json:"ttl_sec"`
	Bytes        int    `json:"bytes"`
}

// Cache is a TTL map keyed by input reference.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a cache with the given default TTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached probe document, expiring lazily.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Set stores a probe document, choosing the long TTL for rich results.
func (c *Cache) Set(key string, data []byte) {
	ttl := c.defaultTTL
	if streamCount(data) >= richStreamCount {
		ttl = c.defaultTTL * longTTLFactor
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		data:     append([]byte(nil), data...),
		storedAt: c.now(),
		ttl:      ttl,
	}
}

// Delete removes one entry, reporting whether it existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.entries)
}

// Snapshot lists live entries for the admin endpoint.
func (c *Cache) Snapshot() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	now := c.now()
	infos := make([]Info, 0, len(c.entries))
	for key, e := range c.entries {
		age := now.Sub(e.storedAt)
		infos = append(infos, Info{
			Key:          key,
			AgeSeconds:   int(age.Seconds()),
			RemainSecond: int((e.ttl - age).Seconds()),
			TTLSeconds:   int(e.ttl.Seconds()),
			Bytes:        len(e.data),
		})
	}
	return infos
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= e.ttl {
			delete(c.entries, key)
		}
	}
}

func streamCount(data []byte) int {
	var doc struct {
		Streams []json.RawMessage `json:"streams"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}
	return len(doc.Streams)
}
