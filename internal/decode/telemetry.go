package decode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TelemetryFrame is one normalized position report from a sonde decoder.
// A frame is immutable once emitted and is consumed exactly once by the
// delivery queue.
type TelemetryFrame struct {
	Serial      string    // Sonde serial id
	FrameNumber int       // Decoder frame counter
	Time        time.Time // GPS timestamp of the fix
	Latitude    float64   // degrees
	Longitude   float64   // degrees
	Altitude    float64   // meters
	VelH        float64   // Horizontal speed, m/s
	VelV        float64   // Vertical speed, m/s (negative on descent)
	Heading     float64   // degrees
	Temperature float64   // Celsius, 0 when the decoder does not report it
	Humidity    float64   // percent, 0 when the decoder does not report it
	CRCOK       bool
	Type        string // Sonde type, e.g. "RS41"
	FrequencyHz int64  // Tuned frequency, filled in by the decode session
	Raw         string // Raw decoder output line
}

// ParseFrame parses one JSON line of decoder output into a TelemetryFrame.
// Decoders emit one JSON object per telemetry frame; any other output line is
// not a frame.
func ParseFrame(line string) (*TelemetryFrame, error) {
	if !strings.HasPrefix(line, "{") {
		return nil, fmt.Errorf("not a telemetry line")
	}

	var raw struct {
		ID       string  `json:"id"`
		Frame    int     `json:"frame"`
		Datetime string  `json:"datetime"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		Alt      float64 `json:"alt"`
		VelH     float64 `json:"vel_h"`
		VelV     float64 `json:"vel_v"`
		Heading  float64 `json:"heading"`
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		CRC      *bool   `json:"crc"`
		Type     string  `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling frame: %w", err)
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("frame has no sonde id")
	}

	ts, err := time.Parse(time.RFC3339, raw.Datetime)
	if err != nil {
		return nil, fmt.Errorf("invalid frame timestamp %q: %w", raw.Datetime, err)
	}

	// Decoders running with CRC checking enabled only emit valid frames and
	// may omit the flag entirely.
	crcOK := true
	if raw.CRC != nil {
		crcOK = *raw.CRC
	}

	return &TelemetryFrame{
		Serial:      raw.ID,
		FrameNumber: raw.Frame,
		Time:        ts,
		Latitude:    raw.Lat,
		Longitude:   raw.Lon,
		Altitude:    raw.Alt,
		VelH:        raw.VelH,
		VelV:        raw.VelV,
		Heading:     raw.Heading,
		Temperature: raw.Temp,
		Humidity:    raw.Humidity,
		CRCOK:       crcOK,
		Type:        raw.Type,
		Raw:         line,
	}, nil
}
