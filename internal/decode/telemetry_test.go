package decode

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFrame(t *testing.T) {
	line := `{"id":"R3340011","frame":2031,"datetime":"2026-08-25T05:44:40Z",` +
		`"lat":-34.9285,"lon":138.6007,"alt":12043.5,"vel_h":12.4,"vel_v":-4.2,` +
		`"heading":251.0,"temp":-52.3,"humidity":18.1,"crc":true,"type":"RS41"}`

	frame, err := ParseFrame(line)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}

	if frame.Serial != "R3340011" {
		t.Errorf("Serial = %q, want R3340011", frame.Serial)
	}
	if frame.FrameNumber != 2031 {
		t.Errorf("FrameNumber = %d, want 2031", frame.FrameNumber)
	}
	want := time.Date(2026, 8, 25, 5, 44, 40, 0, time.UTC)
	if !frame.Time.Equal(want) {
		t.Errorf("Time = %s, want %s", frame.Time, want)
	}
	if frame.Latitude != -34.9285 || frame.Longitude != 138.6007 {
		t.Errorf("Position = (%f, %f), want (-34.9285, 138.6007)", frame.Latitude, frame.Longitude)
	}
	if frame.VelV != -4.2 {
		t.Errorf("VelV = %f, want -4.2", frame.VelV)
	}
	if !frame.CRCOK {
		t.Error("CRCOK should be true")
	}
	if frame.Type != "RS41" {
		t.Errorf("Type = %q, want RS41", frame.Type)
	}
	if frame.Raw != line {
		t.Error("Raw should preserve the original line")
	}
}

func TestParseFrame_CRCOmitted(t *testing.T) {
	line := `{"id":"M1234567","frame":10,"datetime":"2026-08-25T05:44:40Z","lat":1,"lon":2,"alt":3}`

	frame, err := ParseFrame(line)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if !frame.CRCOK {
		t.Error("CRCOK should default to true when the decoder omits the flag")
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"not json", "Reading samples in sync mode..."},
		{"truncated", `{"id":"R3340011","frame":`},
		{"missing id", `{"frame":10,"datetime":"2026-08-25T05:44:40Z"}`},
		{"bad timestamp", `{"id":"R3340011","frame":10,"datetime":"yesterday"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFrame(tc.line); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestSession_StdoutFrames(t *testing.T) {
	s := &Session{
		frequencyHz: 402_500_000,
		events:      make(chan Event, 16),
		logger:      discardLogger(),
	}

	input := "Found Rafael Micro R820T tuner\n" +
		`{"id":"R3340011","frame":1,"datetime":"2026-08-25T05:44:40Z","lat":1,"lon":2,"alt":3}` + "\n" +
		`{"id":"R3340011","frame":2,"datetime":"2026-08-25T05:44:41Z","lat":1,"lon":2,"alt":4}` + "\n"

	done := make(chan error, 1)
	go s.handleStdout(strings.NewReader(input), done)

	if err := <-done; err != nil {
		t.Fatalf("handleStdout failed: %v", err)
	}
	close(s.events)

	var frames []*TelemetryFrame
	for ev := range s.events {
		if ev.Kind != EventFrame {
			t.Fatalf("unexpected event kind %d", ev.Kind)
		}
		frames = append(frames, ev.Frame)
	}

	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].FrameNumber != 1 || frames[1].FrameNumber != 2 {
		t.Error("Frames should preserve decoder order")
	}
	for _, f := range frames {
		if f.FrequencyHz != 402_500_000 {
			t.Errorf("FrequencyHz = %d, want session frequency", f.FrequencyHz)
		}
	}
}

func TestSession_StdoutParseErrorThreshold(t *testing.T) {
	s := &Session{
		events: make(chan Event, 16),
		logger: discardLogger(),
	}

	input := strings.Repeat("{not valid json\n", ParseErrorsThreshold)

	done := make(chan error, 1)
	go s.handleStdout(strings.NewReader(input), done)

	if err := <-done; err == nil {
		t.Fatal("Expected ErrTooManyParseErrors")
	}
	close(s.events)

	var sawFailure bool
	for ev := range s.events {
		if ev.Kind == EventFailure {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("Expected an EventFailure before the stream ended")
	}
}
