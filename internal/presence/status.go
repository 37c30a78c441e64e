package presence

import (
	"encoding/json"
	"strconv"
)

// Status is a user's advertised availability. The zero value is Online; a user with no live session is always
// reported as Offline regardless of the stored value.
type Status int

const (
	StatusOnline  Status = 0
	StatusAway    Status = 1
	StatusBusy    Status = 2
	StatusOffline Status = 3
)

// FromInt maps a stored integer to a Status. Values outside the defined set map to Offline; stored data written by
// older versions must never surface as a bogus status.
func FromInt(v int) Status {
	s := Status(v)
	if !s.Valid() {
		return StatusOffline
	}
	return s
}

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	return s >= StatusOnline && s <= StatusOffline
}

// String returns a human-readable name for logs.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusAway:
		return "away"
	case StatusBusy:
		return "busy"
	case StatusOffline:
		return "offline"
	default:
		return "offline"
	}
}

// MarshalJSON encodes the status as its integer value.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON decodes an integer, mapping unknown values to Offline.
func (s *Status) UnmarshalJSON(data []byte) error {
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = FromInt(v)
	return nil
}
