package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/radiosonde-watch/autorx/internal/sdr"
)

// State is the lifecycle stage of a tracked frequency.
type State uint8

const (
	// StatePending means the candidate is admitted and waiting for a
	// receiver.
	StatePending State = iota

	// StateDecoding means a decoder pipeline is running on the frequency.
	StateDecoding

	// StateIdleWait means the decoder produced nothing recently; the
	// receiver is released but the frequency is remembered, and a late frame
	// promotes it back to decoding.
	StateIdleWait

	// StateRetired means the session is finished and about to be dropped.
	StateRetired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDecoding:
		return "decoding"
	case StateIdleWait:
		return "idle-wait"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// FlightStats accumulates per-sonde statistics over the life of a session.
type FlightStats struct {
	Serial      string
	Type        string
	Frames      int
	FirstFrame  time.Time
	LastFrame   time.Time
	MaxAltitude float64
	LastAlt     float64
	LastVelV    float64
}

// Descending reports whether the sonde was falling when last heard.
func (s *FlightStats) Descending() bool {
	return s.Frames > 0 && s.LastVelV < 0
}

// session is one tracked frequency. All fields are owned by the manager
// goroutine.
type session struct {
	id        string
	frequency int64 // Hz, quantized
	state     State

	power float64 // dB at admission
	snr   float64

	firstSeen time.Time
	startedAt time.Time // last decoder launch
	lastFrame time.Time
	idleSince time.Time

	retries       int
	cyclesWaiting int // scan cycles spent pending without a receiver
	seq           uint64

	handle        DecodeHandle
	rx            *sdr.Receiver
	stopRequested bool
	wantsReceiver bool // late frame arrived while idle

	stats FlightStats
}

func newSession(frequency int64, power, snr float64, now time.Time) *session {
	return &session{
		id:        uuid.NewString(),
		frequency: frequency,
		state:     StatePending,
		power:     power,
		snr:       snr,
		firstSeen: now,
	}
}

// nextSeq returns the next per-session event sequence number.
func (s *session) nextSeq() uint64 {
	s.seq++
	return s.seq
}
