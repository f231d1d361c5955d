package notify

import (
	"context"
	"sync"
	"time"

	"github.com/washywashy/wash-engine/core"
)

// Dedup suppresses duplicate notifications. Once returns true the first
// time a key is seen within its TTL window and false until the window
// expires. The TTL policy is explicit - no reliance on opaque cache
// eviction.
type Dedup interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// =============================================================================
// MEMORY DEDUP - In-process implementation
// =============================================================================

// MemoryDedup keeps windows in a map keyed on the notification key.
// Expired entries are reaped lazily on access.
type MemoryDedup struct {
	mu    sync.Mutex
	clock core.Clock
	seen  map[string]time.Time // key -> window expiry
}

func NewMemoryDedup(clock core.Clock) *MemoryDedup {
	return &MemoryDedup{clock: clock, seen: make(map[string]time.Time)}
}

func (d *MemoryDedup) Once(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if expiry, ok := d.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}
