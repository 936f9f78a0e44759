package protocol

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Kind is the terminal state of an update attempt
type Kind int

const (
	Success Kind = iota
	ConnectFailed
	TimeWriteFailed
	UnitReadFailed
	UnitWriteFailed
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ConnectFailed:
		return "connect_failed"
	case TimeWriteFailed:
		return "time_write_failed"
	case UnitReadFailed:
		return "unit_read_failed"
	case UnitWriteFailed:
		return "unit_write_failed"
	case InvalidInput:
		return "invalid_input"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the single result of one Run
type Outcome struct {
	Kind      Kind
	AttemptID ulid.ULID
	Address   string

	// Reason is set for InvalidInput
	Reason string
	// UnitWriteSkipped is set for UnitReadFailed
	UnitWriteSkipped bool
	// UnitWritten reports whether the unit characteristic was written
	UnitWritten bool

	Err error
}

// OK reports whether the time write took effect
func (o Outcome) OK() bool {
	switch o.Kind {
	case Success, UnitReadFailed, UnitWriteFailed:
		return true
	default:
		return false
	}
}

// Message is the one human-readable line shown to the user for this outcome
func (o Outcome) Message() string {
	switch o.Kind {
	case Success:
		return "Device updated successfully."
	case ConnectFailed:
		return fmt.Sprintf("Failed to connect to the device: %v", o.Err)
	case TimeWriteFailed:
		return fmt.Sprintf("Failed to write time: %v", o.Err)
	case UnitReadFailed:
		return fmt.Sprintf("Time updated; unit update skipped (read failed: %v)", o.Err)
	case UnitWriteFailed:
		return fmt.Sprintf("Time updated; failed to write unit: %v", o.Err)
	case InvalidInput:
		if o.Reason == ReasonOffsetRange {
			return fmt.Sprintf("Invalid time zone. Must be between %d and +%d.", MinOffset, MaxOffset)
		}
		return fmt.Sprintf("Invalid input: %s", o.Reason)
	default:
		return o.Kind.String()
	}
}
