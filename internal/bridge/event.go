package bridge

import (
	"fmt"
	"time"

	"github.com/srg/lysync/internal/protocol"
	"github.com/srg/lysync/internal/scan"
)

// EventKind discriminates Event payloads
type EventKind int

const (
	LogLine EventKind = iota
	ScanCompleted
	UpdateFinished
)

func (k EventKind) String() string {
	switch k {
	case LogLine:
		return "log"
	case ScanCompleted:
		return "scan_completed"
	case UpdateFinished:
		return "update_finished"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one notification from the worker to the foreground
type Event struct {
	Kind    EventKind
	Time    time.Time
	Seq     uint64
	Line    string            // LogLine
	Scan    *scan.Result      // ScanCompleted
	Outcome *protocol.Outcome // UpdateFinished
}

// Text renders the event as a single console line
func (e Event) Text() string {
	switch e.Kind {
	case LogLine:
		return e.Line
	case ScanCompleted:
		if e.Scan == nil {
			return "Scan finished."
		}
		return fmt.Sprintf("Scan %s: %d new device(s), %d target.", e.Scan.Cause, e.Scan.Discovered, e.Scan.Target)
	case UpdateFinished:
		if e.Outcome == nil {
			return "Update finished."
		}
		return e.Outcome.Message()
	default:
		return e.Kind.String()
	}
}
