package extractor

import "time"

// appleEpoch is 2001-01-01 00:00:00 UTC as a Unix timestamp. Source message
// dates are nanoseconds since this epoch.
const appleEpoch int64 = 978307200

// appleTimeToRFC3339 converts a source timestamp to an RFC 3339 string. A
// non-positive value falls back to the current time, matching the source
// rows that predate nanosecond dates.
func appleTimeToRFC3339(ns int64) string {
	if ns <= 0 {
		return time.Now().Format(time.RFC3339)
	}
	sec := appleEpoch + ns/1e9
	return time.Unix(sec, ns%1e9).Format(time.RFC3339)
}
