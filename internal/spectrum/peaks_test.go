package spectrum

import (
	"math"
	"testing"
	"time"
)

// flatSpectrum builds a sweep with a -100 dB floor and the given peak powers
// injected at specific frequencies.
func flatSpectrum(low, high, binWidth float64, peaks map[float64]float64) *Spectrum {
	var bins []Bin
	for f := low; f <= high; f += binWidth {
		power := -100.0
		for pf, pp := range peaks {
			if math.Abs(f-pf) < binWidth/2 {
				power = pp
			}
		}
		bins = append(bins, Bin{Frequency: f, Power: power})
	}

	return &Spectrum{
		Timestamp: time.Now(),
		FreqLow:   low,
		FreqHigh:  high,
		BinWidth:  binWidth,
		Bins:      bins,
	}
}

func newTestDetector(t *testing.T, minSNR, minDistance float64, quantization int64) *Detector {
	t.Helper()

	d, err := NewDetector(minSNR, minDistance, quantization)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	return d
}

func TestDetector_SinglePeak(t *testing.T) {
	d := newTestDetector(t, 10, 1000, 5000)

	spec := flatSpectrum(400_050_000, 403_000_000, 800, map[float64]float64{
		402_500_100: -60, // above min_snr=10 over the ~-100 floor
	})

	got := d.Detect(spec)
	if len(got) != 1 {
		t.Fatalf("Expected exactly one candidate, got %d", len(got))
	}
	if got[0].Frequency != 402_500_000 {
		t.Errorf("Candidate frequency = %d, want 402500000", got[0].Frequency)
	}
	if got[0].SNR < 10 {
		t.Errorf("Candidate SNR = %.1f, want >= 10", got[0].SNR)
	}
}

func TestDetector_CloseNeighbourSuppressed(t *testing.T) {
	d := newTestDetector(t, 10, 1000, 100)

	// Two peaks 1 kHz apart with min_distance=1000 Hz: only the stronger
	// survives.
	spec := flatSpectrum(402_000_000, 403_000_000, 100, map[float64]float64{
		402_500_000: -50,
		402_501_000: -55,
	})

	got := d.Detect(spec)
	if len(got) != 1 {
		t.Fatalf("Expected exactly one candidate, got %d", len(got))
	}
	if got[0].Frequency != 402_500_000 {
		t.Errorf("Surviving candidate = %d, want the stronger peak at 402500000", got[0].Frequency)
	}
}

func TestDetector_MinDistanceProperty(t *testing.T) {
	d := newTestDetector(t, 5, 50_000, 10_000)

	spec := flatSpectrum(400_000_000, 403_000_000, 800, map[float64]float64{
		400_400_000: -60,
		400_430_100: -58, // within 50 kHz of the first
		401_200_000: -52,
		402_500_000: -45,
		402_540_000: -70, // within 50 kHz of 402.5 MHz
	})

	got := d.Detect(spec)
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			dist := math.Abs(float64(got[i].Frequency - got[j].Frequency))
			if dist < 50_000 {
				t.Errorf("Candidates %d and %d are %.0f Hz apart, want >= 50000", got[i].Frequency, got[j].Frequency, dist)
			}
		}
	}
}

func TestDetector_QuantizationAndOrdering(t *testing.T) {
	d := newTestDetector(t, 5, 10_000, 10_000)

	spec := flatSpectrum(400_000_000, 403_000_000, 800, map[float64]float64{
		400_403_000: -60,
		402_498_100: -45,
	})

	got := d.Detect(spec)
	if len(got) != 2 {
		t.Fatalf("Expected two candidates, got %d", len(got))
	}

	// Strongest first.
	if got[0].Power < got[1].Power {
		t.Error("Candidates should be ordered by descending power")
	}

	for _, c := range got {
		if c.Frequency%10_000 != 0 {
			t.Errorf("Candidate %d is not a multiple of the quantization step", c.Frequency)
		}
		if float64(c.Frequency) < spec.FreqLow || float64(c.Frequency) > spec.FreqHigh {
			t.Errorf("Candidate %d is outside the scanned band", c.Frequency)
		}
	}

	if got[0].Frequency != 402_500_000 {
		t.Errorf("Strongest candidate = %d, want 402500000", got[0].Frequency)
	}
	if got[1].Frequency != 400_400_000 {
		t.Errorf("Second candidate = %d, want 400400000", got[1].Frequency)
	}
}

func TestDetector_QuietBand(t *testing.T) {
	d := newTestDetector(t, 10, 1000, 5000)

	spec := flatSpectrum(400_000_000, 403_000_000, 800, nil)
	if got := d.Detect(spec); len(got) != 0 {
		t.Errorf("Expected no candidates on a quiet band, got %d", len(got))
	}
}

func TestNewDetector_InvalidParameters(t *testing.T) {
	testCases := []struct {
		name         string
		minSNR       float64
		minDistance  float64
		quantization int64
	}{
		{"zero snr", 0, 1000, 5000},
		{"negative distance", 10, -1, 5000},
		{"zero quantization", 10, 1000, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDetector(tc.minSNR, tc.minDistance, tc.quantization); err == nil {
				t.Error("Expected error for invalid parameters")
			}
		})
	}
}
