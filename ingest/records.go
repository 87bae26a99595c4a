package ingest

import (
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store operations for unknown records.
var ErrNotFound = errors.New("not found")

// RegistrationStatus is the outcome of a device self-registration.
type RegistrationStatus string

// all registration outcomes
const (
	RegistrationCreated     RegistrationStatus = "created"
	RegistrationReassigned  RegistrationStatus = "reassigned"
	RegistrationNameUpdated RegistrationStatus = "name_updated"
	RegistrationUnchanged   RegistrationStatus = "unchanged"
)

// Device is one ownership record for a physical device. For a given MAC at
// most one row is active across all tenants; inactive rows are retained as
// historical ownership records and never deleted.
type Device struct {
	DeviceID  uuid.UUID `json:"device_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	MAC       string    `json:"mac"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TelemetryRecord is one immutable sensor reading. Records are attributed to
// the (tenant, MAC) pair that owned the device at write time; a later
// ownership transfer does not move them.
type TelemetryRecord struct {
	TenantID      uuid.UUID
	MAC           string
	Sensor        string
	RawMessage    string
	Value         *float64
	Unit          string
	EventTime     time.Time
	CorrelationID string
}

// AlarmRecord is one alarm condition reported by a device. The acknowledged
// transition is one-way and externally triggered.
type AlarmRecord struct {
	TenantID uuid.UUID
	MAC      string
	Severity string
	Message  string
}

// alarm severities
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// ImageRecord points to an image in object storage. The binary content is
// never stored inline.
type ImageRecord struct {
	TenantID  uuid.UUID
	MAC       string
	ImageID   string
	ObjectKey string
	Size      int64
	Metadata  json.RawMessage
}

// Event is the envelope fanned out to the live viewers of a tenant.
// Filtering by device is a client side concern.
type Event struct {
	Type      string          `json:"type"`
	TenantID  uuid.UUID       `json:"tenantId"`
	MAC       string          `json:"mac,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// event types for live viewers
const (
	EventTelemetry = "telemetry"
	EventAlarm     = "alarm"
	EventImage     = "image"
	EventDevice    = "device"
)
