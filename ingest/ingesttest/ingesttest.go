/*Package ingesttest provides in-memory fakes of the store, the bus
publisher, the blob driver and the notifier for the package tests. The fake
store implements the full reconciliation contract of ingest.Store so the
registry and router tests exercise real semantics without a database.
*/
package ingesttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/ingest"
)

// Store is an in-memory ingest.Store.
type Store struct {
	mu        sync.Mutex
	Tenants   map[uuid.UUID]struct{}
	Devices   []ingest.Device
	Telemetry []ingest.TelemetryRecord
	Alarms    map[uuid.UUID]*Alarm
	images    []ingest.ImageRecord

	// FailWith makes every write operation fail with the given error.
	FailWith error
}

// Alarm is one stored alarm with its acknowledgment state.
type Alarm struct {
	Record         ingest.AlarmRecord
	Acknowledged   bool
	AcknowledgedAt time.Time
}

// NewStore returns an empty fake store with the given tenants known.
func NewStore(tenantIDs ...uuid.UUID) *Store {
	s := &Store{
		Tenants: make(map[uuid.UUID]struct{}),
		Alarms:  make(map[uuid.UUID]*Alarm),
	}
	for _, tenantID := range tenantIDs {
		s.Tenants[tenantID] = struct{}{}
	}
	return s
}

// AddTenant makes a tenant known after construction.
func (s *Store) AddTenant(tenantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tenants[tenantID] = struct{}{}
}

// TenantExists implements ingest.Store.
func (s *Store) TenantExists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Tenants[tenantID]
	return ok, nil
}

// RegisterDevice implements the four-way reconciliation of ingest.Store.
func (s *Store) RegisterDevice(ctx context.Context, tenantID uuid.UUID, mac, name string) (ingest.Device, ingest.RegistrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return ingest.Device{}, "", s.FailWith
	}

	now := time.Now().UTC()
	for i := range s.Devices {
		current := &s.Devices[i]
		if current.MAC != mac || !current.Active {
			continue
		}
		if current.TenantID != tenantID {
			current.Active = false
			device := ingest.Device{DeviceID: uuid.New(), TenantID: tenantID, MAC: mac,
				Name: name, Active: true, CreatedAt: now}
			s.Devices = append(s.Devices, device)
			return device, ingest.RegistrationReassigned, nil
		}
		if current.Name != name {
			current.Name = name
			return *current, ingest.RegistrationNameUpdated, nil
		}
		return *current, ingest.RegistrationUnchanged, nil
	}

	device := ingest.Device{DeviceID: uuid.New(), TenantID: tenantID, MAC: mac,
		Name: name, Active: true, CreatedAt: now}
	s.Devices = append(s.Devices, device)
	return device, ingest.RegistrationCreated, nil
}

// InsertTelemetry implements ingest.Store.
func (s *Store) InsertTelemetry(ctx context.Context, records []ingest.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Telemetry = append(s.Telemetry, records...)
	return nil
}

// InsertAlarm implements ingest.Store.
func (s *Store) InsertAlarm(ctx context.Context, record ingest.AlarmRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return uuid.Nil, s.FailWith
	}
	alarmID := uuid.New()
	s.Alarms[alarmID] = &Alarm{Record: record}
	return alarmID, nil
}

// ImageRecords holds the inserted image records.
func (s *Store) ImageRecords() []ingest.ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingest.ImageRecord(nil), s.images...)
}

// InsertImage implements ingest.Store.
func (s *Store) InsertImage(ctx context.Context, record ingest.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.images = append(s.images, record)
	return nil
}

// AcknowledgeAlarm implements ingest.Store.
func (s *Store) AcknowledgeAlarm(ctx context.Context, tenantID, alarmID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.Alarms[alarmID]
	if !ok || alarm.Record.TenantID != tenantID {
		return fmt.Errorf("alarm %s: %w", alarmID, ingest.ErrNotFound)
	}
	if alarm.Acknowledged {
		return nil
	}
	alarm.Acknowledged = true
	alarm.AcknowledgedAt = time.Now().UTC()
	return nil
}

// TelemetryFor returns the stored telemetry attributed to the tenant.
func (s *Store) TelemetryFor(tenantID uuid.UUID) []ingest.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []ingest.TelemetryRecord
	for _, record := range s.Telemetry {
		if record.TenantID == tenantID {
			records = append(records, record)
		}
	}
	return records
}

// ActiveDevice returns the active device row for the MAC, if any.
func (s *Store) ActiveDevice(mac string) (ingest.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, device := range s.Devices {
		if device.MAC == mac && device.Active {
			return device, true
		}
	}
	return ingest.Device{}, false
}

// Publisher records published bus messages.
type Publisher struct {
	mu       sync.Mutex
	Messages []PublishedMessage
}

// PublishedMessage is one recorded publish.
type PublishedMessage struct {
	Topic   string
	Payload []byte
}

// PublishMessageQ1 implements ingest.MessagePublisher.
func (p *Publisher) PublishMessageQ1(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, PublishedMessage{Topic: topic, Payload: payload})
}

// Published returns a snapshot of the recorded messages.
func (p *Publisher) Published() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.Messages...)
}

// OnTopic returns the recorded messages for one topic.
func (p *Publisher) OnTopic(topic string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var messages []PublishedMessage
	for _, message := range p.Messages {
		if message.Topic == topic {
			messages = append(messages, message)
		}
	}
	return messages
}

// BlobDriver is an in-memory blobs.Driver.
type BlobDriver struct {
	mu      sync.Mutex
	Objects map[string][]byte

	// FailWith makes UploadData fail with the given error.
	FailWith error
}

// NewBlobDriver returns an empty in-memory driver.
func NewBlobDriver() *BlobDriver {
	return &BlobDriver{Objects: make(map[string][]byte)}
}

// UploadData implements blobs.Driver.
func (d *BlobDriver) UploadData(key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWith != nil {
		return d.FailWith
	}
	d.Objects[key] = append([]byte(nil), data...)
	return nil
}

// GetPreSignedURL implements blobs.Driver.
func (d *BlobDriver) GetPreSignedURL(key string, expireIn time.Duration) (string, error) {
	return "memory://" + key, nil
}

// Delete implements blobs.Driver.
func (d *BlobDriver) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Objects, key)
	return nil
}

// Notifier records fan-out events.
type Notifier struct {
	mu     sync.Mutex
	Events []NotifiedEvent
}

// NotifiedEvent is one recorded event with the tenant it was scoped to.
type NotifiedEvent struct {
	TenantID uuid.UUID
	Event    ingest.Event
}

// Notify implements ingest.Notifier.
func (n *Notifier) Notify(tenantID uuid.UUID, event ingest.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, NotifiedEvent{TenantID: tenantID, Event: event})
}

// Notified returns a snapshot of the recorded events.
func (n *Notifier) Notified() []NotifiedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifiedEvent(nil), n.Events...)
}
