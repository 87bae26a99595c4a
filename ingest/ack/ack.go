/*Package ack emits delivery acknowledgments back to devices.

The contract is opt-in per message: only telemetry and image messages that
carry a messageId are acknowledged, with exactly one ack published to the
device's commands topic after the corresponding write succeeded or failed.
Devices that want reliable delivery confirmation supply correlation ids and
retry when no ack arrives within their own timeout; the backend never
redelivers on its own.
*/
package ack

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/ingest"
	"github.com/relabs-tech/roost/ingest/device"
)

// Emitter publishes acknowledgments onto the bus.
type Emitter struct {
	publisher ingest.MessagePublisher
}

// NewEmitter returns a new emitter.
func NewEmitter(publisher ingest.MessagePublisher) *Emitter {
	if publisher == nil {
		panic("publisher is missing")
	}
	return &Emitter{publisher: publisher}
}

// Acknowledgment is the wire format published to the commands topic.
type Acknowledgment struct {
	Type        string    `json:"type"`
	MessageID   string    `json:"messageId"`
	Status      string    `json:"status"`
	RecordCount int       `json:"recordCount,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Success acknowledges a successful write of recordCount records. Messages
// without a messageId receive no acknowledgment.
func (e *Emitter) Success(tenantID uuid.UUID, mac, messageID string, recordCount int) {
	if len(messageID) == 0 {
		return
	}
	e.publish(tenantID, mac, Acknowledgment{
		Type:        "ack",
		MessageID:   messageID,
		Status:      "success",
		RecordCount: recordCount,
		Timestamp:   time.Now().UTC(),
	})
}

// Error acknowledges a rejected payload or a failed write. Messages without
// a messageId receive no acknowledgment.
func (e *Emitter) Error(tenantID uuid.UUID, mac, messageID, errText string) {
	if len(messageID) == 0 {
		return
	}
	e.publish(tenantID, mac, Acknowledgment{
		Type:      "ack",
		MessageID: messageID,
		Status:    "error",
		Error:     errText,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Emitter) publish(tenantID uuid.UUID, mac string, acknowledgment Acknowledgment) {
	payload, _ := json.Marshal(acknowledgment)
	topic := "/" + tenantID.String() + "/devices/" + device.TopicMAC(mac) + "/commands"
	e.publisher.PublishMessageQ1(topic, payload)
}
