package rtl

import (
	"strings"
	"testing"
	"time"
)

func TestScanConfig_Args(t *testing.T) {
	cfg := ScanConfig{
		FrequencyStart: 400_050_000,
		FrequencyEnd:   403_000_000,
		BinWidth:       800,
		Interval:       NewTimeDuration(20 * time.Second),
		Gain:           49.6,
		PPMError:       1,
		Crop:           0.2,
		BiasTee:        true,
	}

	args, err := cfg.Args()
	if err != nil {
		t.Fatalf("Args() failed: %v", err)
	}

	got := strings.Join(args, " ")
	want := "-f 400050000:403000000:800 -i 20s -1 -d 0 -g 49.6 -p 1 -c 0.20 -T -"
	if got != want {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}

func TestScanConfig_Validate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  ScanConfig
	}{
		{"zero start", ScanConfig{FrequencyEnd: 403e6, BinWidth: 800}},
		{"inverted range", ScanConfig{FrequencyStart: 403e6, FrequencyEnd: 400e6, BinWidth: 800}},
		{"bin width too wide", ScanConfig{FrequencyStart: 400e6, FrequencyEnd: 403e6, BinWidth: 3_000_000}},
		{"invalid crop", ScanConfig{FrequencyStart: 400e6, FrequencyEnd: 403e6, BinWidth: 800, Crop: 1.5}},
		{"sub-second interval", ScanConfig{FrequencyStart: 400e6, FrequencyEnd: 403e6, BinWidth: 800, Interval: TimeDuration(time.Millisecond)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestFMConfig_Args(t *testing.T) {
	cfg := FMConfig{
		Frequency:  402_500_000,
		SampleRate: 15_000,
		PPMError:   -2,
	}

	args, err := cfg.Args()
	if err != nil {
		t.Fatalf("Args() failed: %v", err)
	}

	got := strings.Join(args, " ")
	want := "-M fm -f 402500000 -s 15000 -d 0 -p -2"
	if got != want {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}

func TestFMConfig_Validate(t *testing.T) {
	cfg := FMConfig{Frequency: 402_500_000}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for missing sample rate")
	}
}
