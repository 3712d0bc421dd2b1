package bridge

import (
	"encoding/json"
	"fmt"
)

// Status is the connection state of a bridge worker.
//
// The string value is the canonical form used internally, in API responses
// and in the synthetic disconnect event.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusAuthNeeded   Status = "auth_needed"
)

// String returns the canonical lowercase form.
// The zero value reports as disconnected.
func (s Status) String() string {
	switch s {
	case StatusConnected, StatusAuthNeeded:
		return string(s)
	default:
		return string(StatusDisconnected)
	}
}

// ParseStatus maps a canonical status string to a Status.
// Any other input returns false.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusDisconnected, StatusConnected, StatusAuthNeeded:
		return Status(s), true
	default:
		return "", false
	}
}

// MarshalJSON encodes the status as its canonical string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts only canonical status strings.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding bridge status: %w", err)
	}
	parsed, ok := ParseStatus(raw)
	if !ok {
		return fmt.Errorf("unknown bridge status %q", raw)
	}
	*s = parsed
	return nil
}
