package device

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/ingest"
)

// TenantCache is a read-through projection of the tenant table for fast
// existence checks on the ingestion path. Only positive results are cached:
// a tenant created after a negative lookup must become routable without a
// restart. The cache is never the source of truth, uniqueness decisions are
// re-validated by the store at write time.
type TenantCache struct {
	store ingest.Store

	mu    sync.RWMutex
	known map[uuid.UUID]struct{}
}

// NewTenantCache returns a cache backed by the given store.
func NewTenantCache(store ingest.Store) *TenantCache {
	return &TenantCache{
		store: store,
		known: make(map[uuid.UUID]struct{}),
	}
}

// Exists reports whether the tenant is known, consulting the store on a
// cache miss.
func (c *TenantCache) Exists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	c.mu.RLock()
	_, ok := c.known[tenantID]
	c.mu.RUnlock()
	if ok {
		return true, nil
	}

	exists, err := c.store.TenantExists(ctx, tenantID)
	if err != nil || !exists {
		return false, err
	}
	c.mu.Lock()
	c.known[tenantID] = struct{}{}
	c.mu.Unlock()
	return true, nil
}

// Invalidate drops a tenant from the cache.
func (c *TenantCache) Invalidate(tenantID uuid.UUID) {
	c.mu.Lock()
	delete(c.known, tenantID)
	c.mu.Unlock()
}
