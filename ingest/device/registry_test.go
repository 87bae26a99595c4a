// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package device_test

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/roost/ingest"
	"github.com/relabs-tech/roost/ingest/device"
	"github.com/relabs-tech/roost/ingest/ingesttest"
)

type response struct {
	Name      string `json:"name"`
	MAC       string `json:"mac"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func lastResponse(t *testing.T, publisher *ingesttest.Publisher, tenantID uuid.UUID) response {
	t.Helper()
	messages := publisher.OnTopic("/" + tenantID.String() + "/devices/register-response")
	if len(messages) == 0 {
		t.Fatal("no registration response published")
	}
	var r response
	if err := json.Unmarshal(messages[len(messages)-1].Payload, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

func newRegistry(store *ingesttest.Store) (*device.Registry, *ingesttest.Publisher, *ingesttest.Notifier) {
	publisher := &ingesttest.Publisher{}
	notifier := &ingesttest.Notifier{}
	registry := device.NewRegistry(&device.Builder{
		Store:     store,
		Publisher: publisher,
		Notifier:  notifier,
	})
	return registry, publisher, notifier
}

// TestRegistrationLifecycle verifies the four reconciliation outcomes for
// repeated registrations of one MAC under one tenant.
func TestRegistrationLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	store := ingesttest.NewStore(tenantID)
	registry, publisher, notifier := newRegistry(store)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"name":"Boiler Room","macAddress":"aa:bb:cc:dd:ee:ff"}`))
	r := lastResponse(t, publisher, tenantID)
	assert.Equal(t, "created", r.Status)
	assert.Equal(t, "Boiler Room", r.Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", r.MAC)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"name":"Boiler Room","macAddress":"aa:bb:cc:dd:ee:ff"}`))
	assert.Equal(t, "unchanged", lastResponse(t, publisher, tenantID).Status)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"name":"Cellar","macAddress":"AABBCCDDEEFF"}`))
	r = lastResponse(t, publisher, tenantID)
	assert.Equal(t, "name_updated", r.Status)
	assert.Equal(t, "Cellar", r.Name)

	current, ok := store.ActiveDevice("AA:BB:CC:DD:EE:FF")
	if !ok {
		t.Fatal("no active device row")
	}
	assert.Equal(t, "Cellar", current.Name)
	assert.Equal(t, tenantID, current.TenantID)

	events := notifier.Notified()
	assert.Len(t, events, 3, "every successful registration notifies viewers")
	for _, event := range events {
		assert.Equal(t, ingest.EventDevice, event.Event.Type)
		assert.Equal(t, tenantID, event.TenantID)
	}
}

// TestRegistrationReassignment verifies that registering a MAC that is
// active under another tenant transfers ownership while the old tenant's
// records stay attributed to it.
func TestRegistrationReassignment(t *testing.T) {
	ctx := context.Background()
	firstTenant := uuid.New()
	secondTenant := uuid.New()
	store := ingesttest.NewStore(firstTenant, secondTenant)
	registry, publisher, _ := newRegistry(store)

	registry.HandleRegistration(ctx, firstTenant, []byte(`{"name":"Gate","macAddress":"aa:bb:cc:dd:ee:ff"}`))
	assert.Equal(t, "created", lastResponse(t, publisher, firstTenant).Status)

	// telemetry recorded while the first tenant owns the device
	err := store.InsertTelemetry(ctx, []ingest.TelemetryRecord{
		{TenantID: firstTenant, MAC: "AA:BB:CC:DD:EE:FF", Sensor: "temperature"},
	})
	if err != nil {
		t.Fatal(err)
	}

	registry.HandleRegistration(ctx, secondTenant, []byte(`{"name":"Gate","macAddress":"aa:bb:cc:dd:ee:ff"}`))
	assert.Equal(t, "reassigned", lastResponse(t, publisher, secondTenant).Status)

	current, ok := store.ActiveDevice("AA:BB:CC:DD:EE:FF")
	if !ok {
		t.Fatal("no active device row")
	}
	assert.Equal(t, secondTenant, current.TenantID)

	assert.Len(t, store.TelemetryFor(firstTenant), 1, "history stays with the previous owner")
	assert.Empty(t, store.TelemetryFor(secondTenant))
}

func TestRegistrationPlaceholderName(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	store := ingesttest.NewStore(tenantID)
	registry, publisher, _ := newRegistry(store)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"macAddress":"aa:bb:cc:dd:ee:ff"}`))
	r := lastResponse(t, publisher, tenantID)
	assert.Equal(t, "created", r.Status)
	assert.Equal(t, "device-AABBCC", r.Name)
}

func TestRegistrationErrors(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	store := ingesttest.NewStore(tenantID)
	registry, publisher, notifier := newRegistry(store)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"name":"No MAC"}`))
	r := lastResponse(t, publisher, tenantID)
	assert.Equal(t, "error", r.Status)
	assert.NotEmpty(t, r.Error)

	registry.HandleRegistration(ctx, tenantID, []byte(`{"name":"Bad MAC","macAddress":"zz:bb:cc:dd:ee:ff"}`))
	assert.Equal(t, "error", lastResponse(t, publisher, tenantID).Status)

	// raw text payloads carry at most a name, never a MAC
	registry.HandleRegistration(ctx, tenantID, []byte(`my little sensor`))
	r = lastResponse(t, publisher, tenantID)
	assert.Equal(t, "error", r.Status)
	assert.Equal(t, "my little sensor", r.Name)

	assert.Empty(t, store.Devices)
	assert.Empty(t, notifier.Notified(), "failed registrations do not notify viewers")
}
