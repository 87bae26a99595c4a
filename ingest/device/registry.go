/*Package device resolves self-reported device identities against the
ownership records in the store.

A device registers itself by publishing {"name", "macAddress"} to
/{tenant_id}/devices. The registry resolves the triple into exactly one
active device row and answers on /{tenant_id}/devices/register-response
with one of the outcomes created, reassigned, name_updated or unchanged.
Ownership of a MAC is exclusive; registering a MAC that is active under
another tenant transfers it, the historical records of the previous owner
stay where they are.
*/
package device

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/core/logger"
	"github.com/relabs-tech/roost/ingest"
)

// Registry implements the device identity reconciliation.
type Registry struct {
	store     ingest.Store
	publisher ingest.MessagePublisher
	notifier  ingest.Notifier
}

// Builder is a builder helper for the Registry
type Builder struct {
	// Store is the persistent store. This is mandatory.
	Store ingest.Store
	// Publisher publishes registration responses onto the bus. This is mandatory.
	Publisher ingest.MessagePublisher
	// Notifier receives device change events for live viewers. Optional.
	Notifier ingest.Notifier
}

// NewRegistry returns a new registry.
func NewRegistry(b *Builder) *Registry {
	if b.Store == nil {
		panic("store is missing")
	}
	if b.Publisher == nil {
		panic("publisher is missing")
	}
	return &Registry{
		store:     b.Store,
		publisher: b.Publisher,
		notifier:  b.Notifier,
	}
}

type registration struct {
	Name       string `json:"name"`
	MACAddress string `json:"macAddress"`
}

type registerResponse struct {
	Name      string    `json:"name,omitempty"`
	MAC       string    `json:"mac,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// HandleRegistration processes one self-registration message for the given
// tenant. A response is always published on the tenant's register-response
// topic; on success the notifier is informed so viewers see new or changed
// devices without polling.
func (r *Registry) HandleRegistration(ctx context.Context, tenantID uuid.UUID, payload []byte) {
	rlog := logger.FromContext(ctx)

	var reg registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		// raw text payloads carry a name only, which is not enough
		reg = registration{Name: strings.TrimSpace(string(payload))}
	}

	if len(reg.MACAddress) == 0 {
		rlog.Warn("registration without MAC address rejected")
		r.respondError(tenantID, reg.Name, "", "macAddress is required")
		return
	}

	mac, err := CanonicalMAC(reg.MACAddress)
	if err != nil {
		rlog.Warnf("registration with invalid MAC address rejected: %s", err)
		r.respondError(tenantID, reg.Name, "", err.Error())
		return
	}

	name := reg.Name
	if len(name) == 0 {
		name = placeholderName(mac)
	}

	device, status, err := r.store.RegisterDevice(ctx, tenantID, mac, name)
	if err != nil {
		rlog.WithError(err).Error("device registration failed")
		r.respondError(tenantID, name, mac, err.Error())
		return
	}

	rlog.Infof("device %s registered for tenant %s: %s", mac, tenantID, status)
	r.respond(tenantID, registerResponse{
		Name:      device.Name,
		MAC:       device.MAC,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})

	if r.notifier != nil {
		deviceJSON, _ := json.Marshal(device)
		r.notifier.Notify(tenantID, ingest.Event{
			Type:      ingest.EventDevice,
			TenantID:  tenantID,
			MAC:       device.MAC,
			Payload:   deviceJSON,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (r *Registry) respondError(tenantID uuid.UUID, name, mac, errText string) {
	r.respond(tenantID, registerResponse{
		Name:      name,
		MAC:       mac,
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     errText,
	})
}

func (r *Registry) respond(tenantID uuid.UUID, response registerResponse) {
	payload, _ := json.Marshal(response)
	r.publisher.PublishMessageQ1("/"+tenantID.String()+"/devices/register-response", payload)
}

// placeholderName generates a deterministic display name for devices that
// register without one.
func placeholderName(canonicalMAC string) string {
	return "device-" + strings.ReplaceAll(canonicalMAC[:8], ":", "")
}
