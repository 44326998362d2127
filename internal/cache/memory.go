package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mcoach/assessment-engine/internal/services"
)

type memoryEntry struct {
	snap    *services.DashboardSnapshot
	expires time.Time
}

// MemoryCache is the single-process snapshot cache used when no redis
// address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: map[string]memoryEntry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, actorID string) (*services.DashboardSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[actorID]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.entries, actorID)
		return nil, false, nil
	}
	return e.snap, true, nil
}

func (c *MemoryCache) Set(_ context.Context, actorID string, snap *services.DashboardSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[actorID] = memoryEntry{snap: snap, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, actorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, actorID)
	return nil
}

func (c *MemoryCache) InvalidateAll(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = map[string]memoryEntry{}
	return n, nil
}

var _ services.SnapshotCache = (*MemoryCache)(nil)
