package sdr

import (
	"fmt"
	"sync"
)

// GainAuto selects automatic tuner gain.
const GainAuto float64 = 0

// Receiver represents a single physical RTL-SDR tuner. It carries the tuning
// state and hardware settings used to build the command lines of the external
// tools (rtl_power, rtl_fm) that perform the actual device I/O.
//
// A Receiver is leased to exactly one consumer at a time; lease bookkeeping is
// owned by the scheduler, not by the Receiver itself.
type Receiver struct {
	index   int
	serial  string
	gain    float64
	ppm     int
	biasTee bool

	mu      sync.Mutex
	tunedHz int64
}

// WithSerial records the tuner serial number, used for identification when
// multiple dongles are attached.
func WithSerial(serial string) func(*Receiver) {
	return func(r *Receiver) {
		r.serial = serial
	}
}

// WithGain sets the tuner gain in dB. Zero means automatic gain.
func WithGain(gain float64) func(*Receiver) {
	return func(r *Receiver) {
		r.gain = gain
	}
}

// WithPPM sets the frequency correction in parts per million.
func WithPPM(ppm int) func(*Receiver) {
	return func(r *Receiver) {
		r.ppm = ppm
	}
}

// WithBiasTee enables the bias-tee supply for an external LNA.
func WithBiasTee(on bool) func(*Receiver) {
	return func(r *Receiver) {
		r.biasTee = on
	}
}

// NewReceiver creates a Receiver for the tuner at the given device index.
func NewReceiver(index int, options ...func(*Receiver)) *Receiver {
	r := Receiver{index: index}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// ID returns a stable human-readable identifier for the tuner.
func (r *Receiver) ID() string {
	if r.serial != "" {
		return "rtlsdr-" + r.serial
	}
	return fmt.Sprintf("rtlsdr-%d", r.index)
}

// Index returns the rtl-sdr device index.
func (r *Receiver) Index() int {
	return r.index
}

// Serial returns the tuner serial number, empty when not configured.
func (r *Receiver) Serial() string {
	return r.serial
}

// Gain returns the configured tuner gain in dB (GainAuto for automatic).
func (r *Receiver) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain
}

// PPM returns the configured frequency correction. The correction is fixed at
// construction time.
func (r *Receiver) PPM() int {
	return r.ppm
}

// BiasTee reports whether the bias-tee is enabled.
func (r *Receiver) BiasTee() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.biasTee
}

// SetGain updates the tuner gain for subsequently launched processes.
func (r *Receiver) SetGain(gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gain = gain
}

// SetBias toggles the bias-tee for subsequently launched processes.
func (r *Receiver) SetBias(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.biasTee = on
}

// Tune records the frequency the current lease holder has tuned to. The value
// is only meaningful while the lease is held; releasing a lease invalidates it.
func (r *Receiver) Tune(hz int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunedHz = hz
}

// Tuned returns the last recorded tuning, in Hz.
func (r *Receiver) Tuned() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tunedHz
}

// Pool is a fixed set of receivers available to the scheduling core.
//
// With a single tuner, scanning and decoding time-share it. With more than one
// tuner the first is dedicated to scanning so decode sessions never starve the
// band sweep.
type Pool struct {
	receivers []*Receiver
}

// NewPool creates a pool from the given receivers.
func NewPool(receivers ...*Receiver) (*Pool, error) {
	if len(receivers) == 0 {
		return nil, fmt.Errorf("pool requires at least one receiver")
	}

	seen := make(map[int]struct{}, len(receivers))
	for _, r := range receivers {
		if _, ok := seen[r.Index()]; ok {
			return nil, fmt.Errorf("duplicate receiver index %d", r.Index())
		}
		seen[r.Index()] = struct{}{}
	}

	return &Pool{receivers: receivers}, nil
}

// Size returns the number of receivers in the pool.
func (p *Pool) Size() int {
	return len(p.receivers)
}

// ScanReceiver returns the receiver used for band scanning.
func (p *Pool) ScanReceiver() *Receiver {
	return p.receivers[0]
}

// DecodeReceivers returns the receivers available to decode sessions.
func (p *Pool) DecodeReceivers() []*Receiver {
	if len(p.receivers) == 1 {
		return p.receivers
	}
	return p.receivers[1:]
}

// Shared reports whether scanning and decoding contend for the same tuner.
func (p *Pool) Shared() bool {
	return len(p.receivers) == 1
}
