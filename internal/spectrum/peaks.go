package spectrum

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Detector finds deduplicated candidate frequencies in a band sweep.
//
// The noise floor is estimated as the mean power of the whole sweep; bins less
// than MinSNR dB above it are rejected. Surviving local maxima are selected
// greedily by power, suppressing anything within MinDistance Hz of an already
// selected stronger peak, then quantized to the nearest Quantization Hz.
// Candidates collapsing into an occupied bucket are merged, keeping the
// stronger peak.
type Detector struct {
	MinSNR       float64 // dB above the noise floor
	MinDistance  float64 // Hz suppression radius between candidates
	Quantization int64   // Hz bucket size for deduplication across scan cycles

	now func() time.Time
}

// NewDetector creates a Detector. All three parameters must be positive.
func NewDetector(minSNR, minDistance float64, quantization int64) (*Detector, error) {
	if minSNR <= 0 {
		return nil, fmt.Errorf("detector: min SNR must be positive: %f", minSNR)
	}
	if minDistance <= 0 {
		return nil, fmt.Errorf("detector: min distance must be positive: %f", minDistance)
	}
	if quantization <= 0 {
		return nil, fmt.Errorf("detector: quantization must be positive: %d", quantization)
	}

	return &Detector{
		MinSNR:       minSNR,
		MinDistance:  minDistance,
		Quantization: quantization,
		now:          time.Now,
	}, nil
}

// NoiseFloor estimates the sweep noise floor as the mean power across all bins.
func NoiseFloor(s *Spectrum) float64 {
	if len(s.Bins) == 0 {
		return 0
	}

	powers := make([]float64, len(s.Bins))
	for i, b := range s.Bins {
		powers[i] = b.Power
	}

	return stat.Mean(powers, nil)
}

// Detect returns the candidates found in the sweep, ordered by descending
// power. The ordering determines admission priority downstream.
func (d *Detector) Detect(s *Spectrum) []Candidate {
	if len(s.Bins) < 3 {
		return nil
	}

	floor := NoiseFloor(s)
	threshold := floor + d.MinSNR

	// Local maxima above the SNR threshold.
	var peaks []Bin
	for i := 1; i < len(s.Bins)-1; i++ {
		b := s.Bins[i]
		if b.Power < threshold {
			continue
		}
		if b.Power >= s.Bins[i-1].Power && b.Power > s.Bins[i+1].Power {
			peaks = append(peaks, b)
		}
	}
	if len(peaks) == 0 {
		return nil
	}

	// Strongest first; lower frequency wins on an exact power tie.
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Power != peaks[j].Power {
			return peaks[i].Power > peaks[j].Power
		}
		return peaks[i].Frequency < peaks[j].Frequency
	})

	// Greedy min-distance suppression, then quantization with bucket merge.
	firstSeen := d.now()
	var selected []Bin
	buckets := make(map[int64]struct{})
	var candidates []Candidate

	for _, p := range peaks {
		tooClose := false
		for _, q := range selected {
			if math.Abs(p.Frequency-q.Frequency) <= d.MinDistance {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		selected = append(selected, p)

		hz := quantize(p.Frequency, d.Quantization)
		if float64(hz) < s.FreqLow || float64(hz) > s.FreqHigh {
			continue
		}
		if _, ok := buckets[hz]; ok {
			continue // stronger peak already owns this bucket
		}
		buckets[hz] = struct{}{}

		candidates = append(candidates, Candidate{
			Frequency: hz,
			Power:     p.Power,
			SNR:       p.Power - floor,
			FirstSeen: firstSeen,
		})
	}

	return candidates
}

// quantize rounds hz to the nearest multiple of step.
func quantize(hz float64, step int64) int64 {
	return int64(math.Round(hz/float64(step))) * step
}
