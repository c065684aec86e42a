package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Naive datetimes are wall clock time of the host, plain dates are UTC
// midnight. This is how a browser's Date reads the same text.
var timestampLayouts = []struct {
	layout string
	loc    func() *time.Location
}{
	{time.RFC3339Nano, utc},
	{"2006-01-02T15:04:05.999999999", local},
	{"2006-01-02 15:04:05.999999999", local},
	{"2006-01-02", utc},
}

func utc() *time.Location   { return time.UTC }
func local() *time.Location { return time.Local }

// Timestamp keeps the backend's original text next to the parsed instant.
type Timestamp struct {
	time.Time
	Raw string
}

// ParseTimestamp accepts RFC 3339, naive ISO datetimes and plain dates.
func ParseTimestamp(raw string) (Timestamp, error) {
	for _, l := range timestampLayouts {
		if t, err := time.ParseInLocation(l.layout, raw, l.loc()); err == nil {
			return Timestamp{Time: t, Raw: raw}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	if t.Raw != "" {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// String returns the text as the backend sent it.
func (t Timestamp) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.IsZero() {
		return ""
	}
	return t.Time.Format(time.RFC3339)
}
