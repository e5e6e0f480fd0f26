package cache

import (
	"context"
	"sync"
	"time"

	"nexuserp/backend/internal/domain"
)

const snapshotKey = "nexus:inventory:snapshot"

// SnapshotCache holds the most recent inventory snapshot. Writers invalidate
// it; readers fall through to a full replay on a miss.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.Snapshot, bool, error)
	Set(ctx context.Context, snap *domain.Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context) (*domain.Snapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ *domain.Snapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context) error {
	return nil
}

type MemorySnapshotCache struct {
	mu      sync.Mutex
	now     func() time.Time
	snap    *domain.Snapshot
	expires time.Time
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{now: time.Now}
}

func (c *MemorySnapshotCache) Get(_ context.Context) (*domain.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return nil, false, nil
	}
	if !c.expires.IsZero() && !c.now().Before(c.expires) {
		c.snap = nil
		return nil, false, nil
	}
	cp := *c.snap
	return &cp, true, nil
}

func (c *MemorySnapshotCache) Set(_ context.Context, snap *domain.Snapshot, ttl time.Duration) error {
	if snap == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *snap
	c.snap = &cp
	c.expires = c.now().Add(ttl)
	return nil
}

func (c *MemorySnapshotCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
	return nil
}
