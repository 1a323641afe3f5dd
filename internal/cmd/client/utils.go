package client

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/rzbill/keywatch/internal/cmd/client/transports"
)

// pendingItem renders an index entry with its deadline in both forms and the
// time remaining relative to now.
func pendingItem(e transports.Entry, now time.Time) map[string]any {
	deadline := time.UnixMilli(e.DeadlineMs).UTC()
	return map[string]any{
		"key":        e.Key,
		"deadlineMs": e.DeadlineMs,
		"deadline":   deadline.Format(time.RFC3339Nano),
		"overdue":    !deadline.After(now),
		"remaining":  deadline.Sub(now).Round(time.Millisecond).String(),
	}
}

// decodeValue accepts raw text, or base64 when asBase64 is set.
func decodeValue(s string, asBase64 bool) ([]byte, error) {
	if asBase64 {
		return base64.StdEncoding.DecodeString(s)
	}
	return []byte(s), nil
}

// printable reports whether b can be shown as text; JSON values are passed
// through as structured output.
func printable(b []byte) any {
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
		var v any
		if json.Unmarshal(b, &v) == nil {
			return v
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}
