package ingest

import (
	"context"

	"github.com/google/uuid"
)

// MessagePublisher is an interface to publish MQTT messages
type MessagePublisher interface {
	PublishMessageQ1(topic string, payload []byte)
}

// Store is the narrow interface towards the persistent store. All write
// paths are append-only except RegisterDevice, which is the single atomic
// create-or-reassign-or-rename operation for device identity, and
// AcknowledgeAlarm, which performs the one-way acknowledged transition.
type Store interface {
	// TenantExists reports whether the tenant is known. Tenants are created
	// by an external collaborator; the ingestion core only reads them.
	TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error)

	// RegisterDevice resolves a self-reported (tenant, MAC, name) triple into
	// exactly one active device row. The mac must be in canonical form.
	RegisterDevice(ctx context.Context, tenantID uuid.UUID, mac, name string) (Device, RegistrationStatus, error)

	// InsertTelemetry appends the given records in one transaction.
	InsertTelemetry(ctx context.Context, records []TelemetryRecord) error

	// InsertAlarm appends one alarm record and returns its ID.
	InsertAlarm(ctx context.Context, record AlarmRecord) (uuid.UUID, error)

	// InsertImage appends one image record. The binary content has already
	// been written to object storage; the record only carries the pointer.
	InsertImage(ctx context.Context, record ImageRecord) error

	// AcknowledgeAlarm transitions an alarm to acknowledged. Acknowledging an
	// already acknowledged alarm is a no-op and keeps the original
	// acknowledged_at. Returns ErrNotFound for an unknown alarm.
	AcknowledgeAlarm(ctx context.Context, tenantID, alarmID uuid.UUID) error
}

// Notifier is an interface to fan events out to the live viewers of a
// tenant. Delivery is best effort, a disconnected viewer misses the event.
type Notifier interface {
	Notify(tenantID uuid.UUID, event Event)
}
