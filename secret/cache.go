// Package secret holds payer PINs for a short window and turns them back
// into signing keys for unattended settlement.
//
// A PIN is cached per payer whenever the payer supplies it. The settlement
// path reads it back, derives the unsealing key from the payer's identity and
// the PIN, and opens the stored signing key. An absent entry is the normal
// state between windows, not an error.
package secret

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a PIN stays usable after it was last written
const DefaultTTL = 15 * time.Minute

// Cache is a TTL key-value store of payer PINs.
// Get reports ok=false for absent or expired entries.
type Cache interface {
	Put(ctx context.Context, payerID, pin string, ttl time.Duration) error
	Get(ctx context.Context, payerID string) (pin string, ok bool, err error)
	Evict(ctx context.Context, payerID string) error
}

type memoryEntry struct {
	pin     string
	expires time.Time
}

// MemoryCache is a process-local Cache
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache using the wall clock
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

// NewMemoryCacheWithClock creates a cache that reads time from now
func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: now}
}

func (c *MemoryCache) Put(_ context.Context, payerID, pin string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[payerID] = memoryEntry{pin: pin, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, payerID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[payerID]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, payerID)
		return "", false, nil
	}
	return e.pin, true, nil
}

func (c *MemoryCache) Evict(_ context.Context, payerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, payerID)
	return nil
}

// Sweep drops expired entries and returns how many were removed
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired or not
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
