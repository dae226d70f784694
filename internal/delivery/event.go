// Package delivery fans telemetry and status events out to network uploaders
// through bounded per-subscriber queues.
package delivery

import (
	"time"

	"github.com/radiosonde-watch/autorx/internal/decode"
)

// Kind discriminates delivery events.
type Kind uint8

const (
	// KindTelemetry carries one decoded telemetry frame.
	KindTelemetry Kind = iota

	// KindStatus carries a scheduling state change, e.g. a session retiring.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is one queue entry. Seq is assigned by the queue at publish time and
// is strictly increasing; SessionSeq orders events from the same session.
type Event struct {
	Seq        uint64
	SessionID  string
	Frequency  int64 // Hz
	SessionSeq uint64
	Time       time.Time
	Kind       Kind

	// Frame is set for KindTelemetry events.
	Frame *decode.TelemetryFrame

	// Status is set for KindStatus events.
	Status string
}
