package codec

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/roost/ingest"
)

// AlarmMessage is the validated form of an alarm payload.
type AlarmMessage struct {
	Severity string
	Message  string
	// RawSeverity is the severity as reported by the device when it was not
	// one of the known values and got coerced to info.
	RawSeverity string
}

type alarmEnvelope struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// DecodeAlarm validates an alarm payload. Alarms never fail to decode: if
// the payload is not valid JSON the raw text becomes the message. Unknown
// severities from untrusted devices are coerced to info; the original value
// is reported in RawSeverity so the caller can log it.
func DecodeAlarm(payload []byte) AlarmMessage {
	var envelope alarmEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return AlarmMessage{Severity: ingest.SeverityInfo, Message: string(payload)}
	}

	msg := AlarmMessage{Message: envelope.Message}
	switch strings.ToLower(envelope.Severity) {
	case ingest.SeverityCritical:
		msg.Severity = ingest.SeverityCritical
	case ingest.SeverityWarning:
		msg.Severity = ingest.SeverityWarning
	case ingest.SeverityInfo, "":
		msg.Severity = ingest.SeverityInfo
	default:
		msg.Severity = ingest.SeverityInfo
		msg.RawSeverity = envelope.Severity
	}
	return msg
}
