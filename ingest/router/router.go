// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package router consumes the single inbound bus stream and dispatches every
message to the ingestion pipeline.

Topics are /-delimited: /{tenant}/devices is self-registration,
/{tenant}/devices/{mac}/{class} is a per-device message with class one of
telemetry, alarms, images or commands. Malformed topics are dropped with a
logged warning and never acknowledged, there is no reliable correlation id
to acknowledge against.

Each message is handed to a bounded pool of workers so that a slow
persistence call for one device never delays ingestion for others. Failures
are local to one message.
*/
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/relabs-tech/roost/core/logger"
	"github.com/relabs-tech/roost/ingest"
	"github.com/relabs-tech/roost/ingest/ack"
	"github.com/relabs-tech/roost/ingest/blobs"
	"github.com/relabs-tech/roost/ingest/codec"
	"github.com/relabs-tech/roost/ingest/device"
)

// presignedURLExpiry bounds how long the image URL in a fan-out event stays
// usable.
const presignedURLExpiry = 15 * time.Minute

// Router is the sole consumer of the inbound message stream.
type Router struct {
	store    ingest.Store
	registry *device.Registry
	acks     *ack.Emitter
	notifier ingest.Notifier
	blobs    blobs.Driver
	tenants  *device.TenantCache

	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	topic   string
	payload []byte
}

// Builder is a builder helper for the Router
type Builder struct {
	// Store is the persistent store. This is mandatory.
	Store ingest.Store
	// Publisher publishes responses and acknowledgments. This is mandatory.
	Publisher ingest.MessagePublisher
	// Blobs stores image binaries. This is mandatory.
	Blobs blobs.Driver
	// Notifier receives accepted events for live viewers. Optional.
	Notifier ingest.Notifier
	// Concurrency is the number of workers, default 8.
	Concurrency int
	// QueueSize is the job queue capacity, default 256. When the queue is
	// full further messages are dropped and logged rather than spawning
	// unbounded in-flight writes.
	QueueSize int
}

// New returns a new router and starts its workers.
func New(b *Builder) *Router {
	if b.Store == nil {
		panic("store is missing")
	}
	if b.Publisher == nil {
		panic("publisher is missing")
	}
	if b.Blobs == nil {
		panic("blobs driver is missing")
	}
	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	queueSize := b.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	r := &Router{
		store: b.Store,
		registry: device.NewRegistry(&device.Builder{
			Store:     b.Store,
			Publisher: b.Publisher,
			Notifier:  b.Notifier,
		}),
		acks:     ack.NewEmitter(b.Publisher),
		notifier: b.Notifier,
		blobs:    b.Blobs,
		tenants:  device.NewTenantCache(b.Store),
		jobs:     make(chan job, queueSize),
	}

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go r.worker()
	}
	return r
}

// Close stops the workers after draining the queue.
func (r *Router) Close() {
	close(r.jobs)
	r.wg.Wait()
}

// HandleMessage enqueues one raw bus message. It never blocks the caller:
// when the queue is full the message is dropped with a logged warning.
func (r *Router) HandleMessage(topic string, payload []byte) {
	select {
	case r.jobs <- job{topic: topic, payload: payload}:
	default:
		logger.Default().Warnf("ingestion queue full, dropping message on %s", topic)
	}
}

func (r *Router) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.process(j.topic, j.payload)
	}
}

func (r *Router) process(topic string, payload []byte) {
	ctx, rlog := logger.ContextWithLoggerForTopic(context.Background(), topic)

	// /{tenant}/devices or /{tenant}/devices/{mac}/{class}
	segments := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(segments) < 2 || segments[1] != "devices" {
		rlog.Warn("malformed topic, dropped")
		return
	}

	tenantID, err := uuid.Parse(segments[0])
	if err != nil {
		rlog.Warn("malformed topic, tenant segment is not a UUID, dropped")
		return
	}
	exists, err := r.tenants.Exists(ctx, tenantID)
	if err != nil {
		rlog.WithError(err).Error("tenant lookup failed, dropped")
		return
	}
	if !exists {
		rlog.Warnf("unknown tenant %s, dropped", tenantID)
		return
	}

	if len(segments) == 2 {
		r.registry.HandleRegistration(ctx, tenantID, payload)
		return
	}

	if len(segments) != 4 {
		rlog.Warn("malformed topic, dropped")
		return
	}

	mac, err := device.CanonicalMAC(segments[2])
	if err != nil {
		rlog.Warn("malformed topic, invalid MAC segment, dropped")
		return
	}

	switch segments[3] {
	case "telemetry":
		r.processTelemetry(ctx, tenantID, mac, payload)
	case "alarms":
		r.processAlarm(ctx, tenantID, mac, payload)
	case "images":
		r.processImage(ctx, tenantID, mac, payload)
	case "commands":
		// core to device direction, not ours to route
		rlog.Debug("ignoring message on commands topic")
	default:
		rlog.Warnf("malformed topic, unknown class %q, dropped", segments[3])
	}
}

func (r *Router) processTelemetry(ctx context.Context, tenantID uuid.UUID, mac string, payload []byte) {
	rlog := logger.FromContext(ctx)

	msg, err := codec.DecodeTelemetry(payload, time.Now())
	if err != nil {
		rlog.Warnf("telemetry rejected: %s", err)
		r.acks.Error(tenantID, mac, msg.MessageID, err.Error())
		return
	}
	if msg.Skipped > 0 {
		rlog.Warnf("skipped %d malformed entries in telemetry batch", msg.Skipped)
	}

	records := make([]ingest.TelemetryRecord, 0, len(msg.Readings))
	for _, reading := range msg.Readings {
		value := reading.Value
		records = append(records, ingest.TelemetryRecord{
			TenantID:      tenantID,
			MAC:           mac,
			Sensor:        msg.Sensor,
			RawMessage:    string(payload),
			Value:         &value,
			Unit:          msg.Unit,
			EventTime:     reading.EventTime,
			CorrelationID: msg.MessageID,
		})
	}

	if err := r.store.InsertTelemetry(ctx, records); err != nil {
		rlog.WithError(err).Error("telemetry write failed")
		r.acks.Error(tenantID, mac, msg.MessageID, err.Error())
		return
	}

	r.acks.Success(tenantID, mac, msg.MessageID, len(records))
	r.notify(tenantID, mac, ingest.EventTelemetry, map[string]interface{}{
		"sensor": msg.Sensor,
		"unit":   msg.Unit,
		"count":  len(records),
	})
}

func (r *Router) processAlarm(ctx context.Context, tenantID uuid.UUID, mac string, payload []byte) {
	rlog := logger.FromContext(ctx)

	msg := codec.DecodeAlarm(payload)
	if len(msg.RawSeverity) > 0 {
		rlog.Warnf("unknown alarm severity %q coerced to info", msg.RawSeverity)
	}

	alarmID, err := r.store.InsertAlarm(ctx, ingest.AlarmRecord{
		TenantID: tenantID,
		MAC:      mac,
		Severity: msg.Severity,
		Message:  msg.Message,
	})
	if err != nil {
		rlog.WithError(err).Error("alarm write failed")
		return
	}

	r.notify(tenantID, mac, ingest.EventAlarm, map[string]interface{}{
		"alarmId":  alarmID,
		"severity": msg.Severity,
		"message":  msg.Message,
	})
}

func (r *Router) processImage(ctx context.Context, tenantID uuid.UUID, mac string, payload []byte) {
	rlog := logger.FromContext(ctx)

	msg, err := codec.DecodeImage(payload)
	if err != nil {
		rlog.Warnf("image rejected: %s", err)
		r.acks.Error(tenantID, mac, msg.MessageID, err.Error())
		return
	}

	// the write time in the key avoids collisions when a device reuses an
	// image id
	key := fmt.Sprintf("%s/%s/%s-%d", tenantID, device.TopicMAC(mac), msg.ImageID, time.Now().UTC().UnixNano())
	if err := r.blobs.UploadData(key, msg.Data); err != nil {
		rlog.WithError(err).Error("image upload failed")
		r.acks.Error(tenantID, mac, msg.MessageID, err.Error())
		return
	}

	record := ingest.ImageRecord{
		TenantID:  tenantID,
		MAC:       mac,
		ImageID:   msg.ImageID,
		ObjectKey: key,
		Size:      int64(len(msg.Data)),
		Metadata:  msg.Metadata,
	}
	if err := r.store.InsertImage(ctx, record); err != nil {
		rlog.WithError(err).Error("image record write failed")
		r.acks.Error(tenantID, mac, msg.MessageID, err.Error())
		return
	}

	r.acks.Success(tenantID, mac, msg.MessageID, 1)

	event := map[string]interface{}{
		"imageId": msg.ImageID,
		"size":    record.Size,
	}
	if url, err := r.blobs.GetPreSignedURL(key, presignedURLExpiry); err == nil {
		event["url"] = url
	}
	r.notify(tenantID, mac, ingest.EventImage, event)
}

func (r *Router) notify(tenantID uuid.UUID, mac, eventType string, payload map[string]interface{}) {
	if r.notifier == nil {
		return
	}
	payloadJSON, _ := json.Marshal(payload)
	r.notifier.Notify(tenantID, ingest.Event{
		Type:      eventType,
		TenantID:  tenantID,
		MAC:       mac,
		Payload:   payloadJSON,
		Timestamp: time.Now().UTC(),
	})
}
