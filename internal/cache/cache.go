// Package cache holds short-lived, per-client counters used by the rate limiters.
package cache

import (
	"context"
	"sync"
	"time"
)

// CounterEntry is a counter that resets when its window expires.
type CounterEntry struct {
	Count     int
	ExpiresAt time.Time
}

// IsExpired checks if the entry's window has passed at now.
func (e *CounterEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is an interface for windowed counters.
type Store interface {
	// Increment adds one to key within its current window, starting a new
	// window of the given length if none is active. It returns the updated
	// count and when the window ends.
	Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error

	// Clear removes every counter.
	Clear(ctx context.Context) error

	// Stats returns store statistics.
	Stats() CacheStats
}

// CacheStats holds store statistics.
type CacheStats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// memoryStore is an in-memory implementation of Store.
type memoryStore struct {
	mu       sync.Mutex
	entries  map[string]*CounterEntry
	maxItems int
	stats    CacheStats
	now      func() time.Time
}

// NewMemoryStore creates an in-memory counter store holding at most
// maxItems keys. When full, expired windows are evicted first and then
// the window closest to expiry.
func NewMemoryStore(maxItems int) Store {
	if maxItems <= 0 {
		maxItems = 100000
	}
	return &memoryStore{
		entries:  make(map[string]*CounterEntry),
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Increment adds one to key's counter.
func (c *memoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if ok && !entry.IsExpired(now) {
		c.stats.Hits++
		entry.Count++
		return entry.Count, entry.ExpiresAt, nil
	}

	c.stats.Misses++
	if !ok && len(c.entries) >= c.maxItems {
		c.evictForSpaceLocked(now)
	}
	entry = &CounterEntry{Count: 1, ExpiresAt: now.Add(window)}
	c.entries[key] = entry
	return entry.Count, entry.ExpiresAt, nil
}

// Reset removes the counter for key.
func (c *memoryStore) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Clear removes every counter.
func (c *memoryStore) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CounterEntry)
	c.stats = CacheStats{}
	return nil
}

// Stats returns store statistics.
func (c *memoryStore) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Items = len(c.entries)
	return stats
}

// evictExpiredLocked removes expired entries (must be called with lock held).
func (c *memoryStore) evictExpiredLocked(now time.Time) {
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

// evictForSpaceLocked makes room for one entry (must be called with lock held).
func (c *memoryStore) evictForSpaceLocked(now time.Time) {
	c.evictExpiredLocked(now)
	if len(c.entries) < c.maxItems {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.ExpiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.ExpiresAt
		}
	}
	delete(c.entries, oldestKey)
	c.stats.Evictions++
}

// StartJanitor removes expired windows every interval until stop is closed.
func StartJanitor(s Store, interval time.Duration, stop <-chan struct{}) {
	ms, ok := s.(*memoryStore)
	if !ok || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ms.mu.Lock()
				ms.evictExpiredLocked(ms.now())
				ms.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}
