package ack_test

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/roost/ingest/ack"
	"github.com/relabs-tech/roost/ingest/ingesttest"
)

func TestAcknowledgmentsAreOptIn(t *testing.T) {
	publisher := &ingesttest.Publisher{}
	emitter := ack.NewEmitter(publisher)
	tenantID := uuid.New()

	emitter.Success(tenantID, "AA:BB:CC:DD:EE:FF", "", 1)
	emitter.Error(tenantID, "AA:BB:CC:DD:EE:FF", "", "boom")
	assert.Empty(t, publisher.Published(), "messages without a messageId receive no acknowledgment")
}

func TestSuccessAcknowledgment(t *testing.T) {
	publisher := &ingesttest.Publisher{}
	emitter := ack.NewEmitter(publisher)
	tenantID := uuid.New()

	emitter.Success(tenantID, "AA:BB:CC:DD:EE:FF", "msg-1", 3)

	messages := publisher.OnTopic("/" + tenantID.String() + "/devices/AA_BB_CC_DD_EE_FF/commands")
	if len(messages) != 1 {
		t.Fatal("expected exactly one acknowledgment")
	}

	var a ack.Acknowledgment
	if err := json.Unmarshal(messages[0].Payload, &a); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "ack", a.Type)
	assert.Equal(t, "msg-1", a.MessageID)
	assert.Equal(t, "success", a.Status)
	assert.Equal(t, 3, a.RecordCount)
	assert.Empty(t, a.Error)
	assert.False(t, a.Timestamp.IsZero())
}

func TestErrorAcknowledgment(t *testing.T) {
	publisher := &ingesttest.Publisher{}
	emitter := ack.NewEmitter(publisher)
	tenantID := uuid.New()

	emitter.Error(tenantID, "AA:BB:CC:DD:EE:FF", "msg-2", "value is not numeric")

	messages := publisher.Published()
	if len(messages) != 1 {
		t.Fatal("expected exactly one acknowledgment")
	}

	var a ack.Acknowledgment
	if err := json.Unmarshal(messages[0].Payload, &a); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "error", a.Status)
	assert.Equal(t, "value is not numeric", a.Error)
	assert.Equal(t, 0, a.RecordCount)
}
