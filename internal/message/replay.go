package message

import (
	"sync"
	"time"
)

// ReplayCache is a short-lived nonce cache layered on top of the
// freshness window for stricter replay prevention. Entries expire after
// the TTL; the supervisor sweeps them periodically.
type ReplayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewReplayCache creates a cache whose entries expire after ttl. The TTL
// should be at least the codec's staleness window, otherwise the cache
// expires nonces that are still replayable.
func NewReplayCache(ttl time.Duration) *ReplayCache {
	return &ReplayCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Seen records the nonce and reports whether it was already present and
// unexpired.
func (c *ReplayCache) Seen(nonce string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seenAt, ok := c.entries[nonce]; ok && now.Sub(seenAt) <= c.ttl {
		return true
	}
	c.entries[nonce] = now
	return false
}

// Sweep removes expired entries and returns how many were evicted.
func (c *ReplayCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for nonce, seenAt := range c.entries {
		if now.Sub(seenAt) > c.ttl {
			delete(c.entries, nonce)
			evicted++
		}
	}
	return evicted
}

// Len returns the current number of cached nonces.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
