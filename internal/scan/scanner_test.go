package scan

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParsePowerRow(t *testing.T) {
	line := "2017-04-30, 05:44:40, 400050000.00, 401525000.00, 800.00, 20, -98.2, -97.5, nan, -60.1"

	row, err := parsePowerRow(line)
	if err != nil {
		t.Fatalf("parsePowerRow failed: %v", err)
	}

	if row.freqLow != 400_050_000 {
		t.Errorf("freqLow = %f, want 400050000", row.freqLow)
	}
	if row.freqHigh != 401_525_000 {
		t.Errorf("freqHigh = %f, want 401525000", row.freqHigh)
	}
	if row.binWidth != 800 {
		t.Errorf("binWidth = %f, want 800", row.binWidth)
	}
	if row.numSamples != 20 {
		t.Errorf("numSamples = %d, want 20", row.numSamples)
	}
	if len(row.powers) != 4 {
		t.Fatalf("powers length = %d, want 4", len(row.powers))
	}
	if row.powers[2] != 0 {
		t.Errorf("nan power should be sanitized to 0, got %f", row.powers[2])
	}
	if row.powers[3] != -60.1 {
		t.Errorf("powers[3] = %f, want -60.1", row.powers[3])
	}
}

func TestParsePowerRow_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"too few fields", "2017-04-30, 05:44:40, 400050000"},
		{"bad timestamp", "yesterday, late, 400050000, 401525000, 800, 20, -98.2"},
		{"bad frequency", "2017-04-30, 05:44:40, x, 401525000, 800, 20, -98.2"},
		{"zero bin width", "2017-04-30, 05:44:40, 400050000, 401525000, 0, 20, -98.2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parsePowerRow(tc.line); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestAssemble_OrdersRowsByFrequency(t *testing.T) {
	lines := []string{
		"2017-04-30, 05:44:40, 401525000.00, 403000000.00, 800.00, 20, -97.0, -96.5",
		"2017-04-30, 05:44:40, 400050000.00, 401525000.00, 800.00, 20, -98.2, -97.5",
	}

	var rows []powerRow
	for _, line := range lines {
		row, err := parsePowerRow(line)
		if err != nil {
			t.Fatalf("parsePowerRow failed: %v", err)
		}
		rows = append(rows, row)
	}

	spec, err := assemble(rows)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	if spec.FreqLow != 400_050_000 {
		t.Errorf("FreqLow = %f, want 400050000", spec.FreqLow)
	}
	if spec.FreqHigh != 403_000_000 {
		t.Errorf("FreqHigh = %f, want 403000000", spec.FreqHigh)
	}
	if len(spec.Bins) != 4 {
		t.Fatalf("bins length = %d, want 4", len(spec.Bins))
	}

	// Bins must ascend in frequency, with center offsets applied.
	want := 400_050_400.0
	if spec.Bins[0].Frequency != want {
		t.Errorf("first bin frequency = %f, want %f", spec.Bins[0].Frequency, want)
	}
	for i := 1; i < len(spec.Bins); i++ {
		if spec.Bins[i].Frequency <= spec.Bins[i-1].Frequency {
			t.Errorf("bins out of order at %d: %f <= %f", i, spec.Bins[i].Frequency, spec.Bins[i-1].Frequency)
		}
	}
}

func TestAssemble_Empty(t *testing.T) {
	if _, err := assemble(nil); err == nil {
		t.Error("Expected error for empty sweep")
	}
}

func TestReadRows_ParseErrorThreshold(t *testing.T) {
	s := &Scanner{logger: discardLogger()}

	garbage := strings.Repeat("not,a,row\n", ParseErrorsThreshold)
	if _, err := s.readRows(strings.NewReader(garbage)); err == nil {
		t.Error("Expected ErrTooManyParseErrors")
	}
}

func TestReadRows_RecoversAfterParseError(t *testing.T) {
	s := &Scanner{logger: discardLogger()}

	input := "garbage line, with, commas\n" +
		"2017-04-30, 05:44:40, 400050000.00, 401525000.00, 800.00, 20, -98.2\n"

	rows, err := s.readRows(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows length = %d, want 1", len(rows))
	}
	if math.IsNaN(rows[0].powers[0]) {
		t.Error("power reading should be finite")
	}
}
