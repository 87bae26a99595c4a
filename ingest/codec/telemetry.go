package codec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Reading is one validated sensor reading.
type Reading struct {
	Value     float64
	EventTime time.Time
}

// TelemetryMessage is the validated form of a telemetry payload. A single
// message yields exactly one reading stamped with the processing time, a
// batch yields one reading per well-formed [timestamp, value] pair.
type TelemetryMessage struct {
	Sensor    string
	Unit      string
	MessageID string
	IsBatch   bool
	Readings  []Reading
	// Skipped counts malformed entries within a batch. They are dropped
	// individually without failing the whole batch.
	Skipped int
}

type telemetryEnvelope struct {
	Sensor    string      `json:"sensor"`
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit"`
	IsBatch   bool        `json:"isBatch"`
	MessageID string      `json:"messageId"`
}

// DecodeTelemetry validates a telemetry payload. The now argument stamps
// single readings with the processing time. On failure the returned message
// still carries the messageId when one could be extracted, so the caller can
// emit an error acknowledgment.
func DecodeTelemetry(payload []byte, now time.Time) (TelemetryMessage, error) {
	var envelope telemetryEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return TelemetryMessage{}, fmt.Errorf("invalid json: %s", err)
	}

	msg := TelemetryMessage{
		Sensor:    envelope.Sensor,
		Unit:      envelope.Unit,
		MessageID: envelope.MessageID,
		IsBatch:   envelope.IsBatch,
	}

	if len(envelope.Sensor) == 0 {
		return msg, fmt.Errorf("missing required field 'sensor'")
	}
	if envelope.Value == nil {
		return msg, fmt.Errorf("missing required field 'value'")
	}

	if !envelope.IsBatch {
		value, ok := coerceNumber(envelope.Value)
		if !ok {
			return msg, fmt.Errorf("value is not a number")
		}
		msg.Readings = []Reading{{Value: value, EventTime: now.UTC()}}
		return msg, nil
	}

	entries, ok := envelope.Value.([]interface{})
	if !ok {
		return msg, fmt.Errorf("batch value must be an array of [timestamp, value] pairs")
	}
	for _, entry := range entries {
		pair, ok := entry.([]interface{})
		if !ok || len(pair) != 2 {
			msg.Skipped++
			continue
		}
		timestamp, ok := pair[0].(string)
		if !ok {
			msg.Skipped++
			continue
		}
		eventTime, ok := parseTimestamp(timestamp)
		if !ok {
			msg.Skipped++
			continue
		}
		value, ok := coerceNumber(pair[1])
		if !ok {
			msg.Skipped++
			continue
		}
		msg.Readings = append(msg.Readings, Reading{Value: value, EventTime: eventTime})
	}
	return msg, nil
}

// coerceNumber accepts numeric literals and numeric strings.
func coerceNumber(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
