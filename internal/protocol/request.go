package protocol

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ValidationError rejects a request before any device I/O
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Reason, e.Detail)
}

// ReasonOffsetRange is the ValidationError reason for an out-of-range UTC offset
const ReasonOffsetRange = "offset range"

// Request is one immutable update attempt
type Request struct {
	AttemptID ulid.ULID
	Address   string
	Epoch     uint32
	Offset    int
	Unit      Unit
	HalfHour  bool
}

// NewRequest captures the clock at creation time. The half-hour flag adds
// 30 minutes to the epoch.
func NewRequest(address string, now time.Time, offset int, unit Unit, halfHour bool) Request {
	epoch := now.Unix()
	if halfHour {
		epoch += HalfHourSeconds
	}
	return Request{
		AttemptID: ulid.Make(),
		Address:   address,
		Epoch:     uint32(epoch),
		Offset:    offset,
		Unit:      unit,
		HalfHour:  halfHour,
	}
}

// Validate checks the offset range
func (r Request) Validate() error {
	if r.Offset < MinOffset || r.Offset > MaxOffset {
		return &ValidationError{
			Reason: ReasonOffsetRange,
			Detail: fmt.Sprintf("%d not in [%d, %d]", r.Offset, MinOffset, MaxOffset),
		}
	}
	return nil
}

// Payload returns the time characteristic value for this request
func (r Request) Payload() []byte {
	return EncodeTime(r.Epoch, int8(r.Offset))
}
