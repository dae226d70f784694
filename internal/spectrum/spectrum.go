package spectrum

import "time"

// Bin is a single frequency power reading within a band sweep.
type Bin struct {
	Frequency float64 // Center frequency in Hz
	Power     float64 // Power level in dB
}

// Spectrum is one complete band sweep: an ordered sequence of power readings
// covering [FreqLow, FreqHigh] at BinWidth resolution. A Spectrum is captured
// fresh each scan cycle and is immutable once assembled.
type Spectrum struct {
	Timestamp  time.Time
	FreqLow    float64 // Hz
	FreqHigh   float64 // Hz
	BinWidth   float64 // Hz
	NumSamples int     // Integration count reported by the sweep tool
	Bins       []Bin   // Ascending by frequency
}

// Candidate is a detected peak plausibly corresponding to an active sonde
// transmitter. Frequency is quantized to the detector's bucket size.
type Candidate struct {
	Frequency int64   // Hz, multiple of the quantization step
	Power     float64 // dB at the underlying peak bin
	SNR       float64 // dB above the sweep noise floor
	FirstSeen time.Time
}
