package adsb

import (
	"fmt"
	"sync"
	"time"
)

type icaoCacheEntry struct {
	addr uint32
	seen time.Time
}

// ICAOCache is a fixed-size table of recently seen, trusted ICAO addresses.
// Each address hashes to one slot and an insert overwrites whatever the slot
// held. Entries are never evicted; a lookup ignores entries older than the TTL.
// All methods are safe for concurrent use.
type ICAOCache struct {
	mu    sync.Mutex
	slots []icaoCacheEntry
	mask  uint32
	ttl   time.Duration
}

// NewICAOCache creates a cache with size slots. size must be a power of two.
func NewICAOCache(size int, ttl time.Duration) (*ICAOCache, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("icao cache size must be a power of two, got %d", size)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("icao cache ttl must be positive, got %s", ttl)
	}

	return &ICAOCache{
		slots: make([]icaoCacheEntry, size),
		mask:  uint32(size - 1),
		ttl:   ttl,
	}, nil
}

// hashAddress spreads the 24 address bits over the slot index.
func (c *ICAOCache) hashAddress(a uint32) uint32 {
	a = ((a >> 16) ^ a) * 0x45d9f3b
	a = ((a >> 16) ^ a) * 0x45d9f3b
	a = (a >> 16) ^ a
	return a & c.mask
}

// Add records addr as seen at now.
func (c *ICAOCache) Add(addr uint32, now time.Time) {
	h := c.hashAddress(addr)

	c.mu.Lock()
	c.slots[h] = icaoCacheEntry{addr: addr, seen: now}
	c.mu.Unlock()
}

// RecentlySeen reports whether addr was added no more than TTL before now.
// Address zero is never trusted.
func (c *ICAOCache) RecentlySeen(addr uint32, now time.Time) bool {
	if addr == 0 {
		return false
	}
	h := c.hashAddress(addr)

	c.mu.Lock()
	e := c.slots[h]
	c.mu.Unlock()

	return e.addr == addr && now.Sub(e.seen) <= c.ttl
}

// Size returns the number of slots.
func (c *ICAOCache) Size() int {
	return len(c.slots)
}

// TTL returns the trust window of an entry.
func (c *ICAOCache) TTL() time.Duration {
	return c.ttl
}
