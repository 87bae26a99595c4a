/*Package codec parses and validates the JSON bodies devices publish for
telemetry, alarms and images. All functions are pure; persistence and
acknowledgments are the caller's business.
*/
package codec

import (
	"time"
)

// timestamp layouts accepted for batched readings. Device firmware emits
// zone-less ISO timestamps, those are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
