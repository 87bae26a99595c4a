package device_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/roost/ingest/device"
	"github.com/relabs-tech/roost/ingest/ingesttest"
)

// TestTenantCache verifies that negative lookups are not cached, so a
// tenant created later becomes routable without a restart.
func TestTenantCache(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	store := ingesttest.NewStore()
	cache := device.NewTenantCache(store)

	exists, err := cache.Exists(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, exists)

	store.AddTenant(tenantID)

	exists, err = cache.Exists(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, exists)

	cache.Invalidate(tenantID)
	exists, err = cache.Exists(ctx, tenantID)
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, exists, "invalidation falls back to the store, not to a negative answer")
}
