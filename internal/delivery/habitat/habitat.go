// Package habitat uploads telemetry to a Habitat-compatible tracker database
// as UKHAS sentences.
package habitat

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/delivery"
)

const (
	// DefaultURL is the public tracker database endpoint.
	DefaultURL = "http://habitat.habhub.org"

	defaultTimeout = 20 * time.Second
)

// Config describes the tracker endpoint and the receiving station.
type Config struct {
	URL      string // base URL, DefaultURL when empty
	Callsign string // station callsign credited as the receiver
	Antenna  string // free-text antenna description for listener docs
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Callsign) == "" {
		return fmt.Errorf("habitat.Config: callsign is required")
	}

	return nil
}

// WithLogger sets the logger of the uploader
func WithLogger(logger *slog.Logger) func(*Uploader) {
	return func(u *Uploader) {
		u.logger = logger.With(slog.String("uploader", u.Name()))
	}
}

// Uploader pushes telemetry documents over HTTP. One document is uploaded
// per telemetry frame in the batch; status events are ignored.
type Uploader struct {
	cfg    Config
	client *req.Client
	logger *slog.Logger
}

// New creates a tracker uploader.
func New(cfg Config, options ...func(*Uploader)) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	u := Uploader{
		cfg: cfg,
		client: req.C().
			SetBaseURL(strings.TrimRight(cfg.URL, "/")).
			SetTimeout(defaultTimeout).
			SetCommonRetryCount(2).
			SetCommonRetryFixedInterval(2 * time.Second),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&u)
	}

	return &u, nil
}

// Name implements delivery.Uploader.
func (u *Uploader) Name() string {
	return "habitat"
}

// Deliver implements delivery.Uploader.
func (u *Uploader) Deliver(ctx context.Context, events []delivery.Event) error {
	for _, ev := range events {
		if ev.Kind != delivery.KindTelemetry || ev.Frame == nil {
			continue
		}

		if err := u.uploadFrame(ctx, ev.Frame); err != nil {
			return err
		}
	}

	return nil
}

// uploadFrame submits one frame as a payload telemetry document. The document
// id is derived from the sentence so re-uploads of the same frame are merged
// server side.
func (u *Uploader) uploadFrame(ctx context.Context, frame *decode.TelemetryFrame) error {
	sentence := Sentence(frame)
	encoded := base64.StdEncoding.EncodeToString([]byte(sentence))

	sum := sha256.Sum256([]byte(encoded))
	docID := hex.EncodeToString(sum[:])

	now := time.Now().UTC().Format(time.RFC3339)
	doc := map[string]any{
		"data": map[string]any{
			"_raw": encoded,
		},
		"receivers": map[string]any{
			u.cfg.Callsign: map[string]any{
				"time_created":  now,
				"time_uploaded": now,
			},
		},
	}

	resp, err := u.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(doc).
		Put("/habitat/_design/payload_telemetry/_update/add_listener/" + docID)
	if err != nil {
		return fmt.Errorf("uploading telemetry document: %w", err)
	}

	// 403 means the document exists with our receiver entry already merged.
	if resp.IsErrorState() && resp.StatusCode != http.StatusForbidden {
		return fmt.Errorf("telemetry upload rejected: %s", resp.Status)
	}

	u.logger.Debug("telemetry uploaded",
		slog.String("serial", frame.Serial),
		slog.Int("frame", frame.FrameNumber))

	return nil
}

// UploadListenerPosition publishes the station position so trackers can draw
// the receiver on the map.
func (u *Uploader) UploadListenerPosition(ctx context.Context, lat, lon, alt float64) error {
	now := time.Now().UTC()
	doc := map[string]any{
		"type":         "listener_telemetry",
		"time_created": now.Format(time.RFC3339),
		"data": map[string]any{
			"callsign":  u.cfg.Callsign,
			"antenna":   u.cfg.Antenna,
			"latitude":  lat,
			"longitude": lon,
			"altitude":  alt,
			"chase":     false,
		},
	}

	resp, err := u.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(doc).
		Post("/habitat/")
	if err != nil {
		return fmt.Errorf("uploading listener position: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("listener position rejected: %s", resp.Status)
	}

	u.logger.Info("listener position uploaded",
		slog.Float64("lat", lat),
		slog.Float64("lon", lon))

	return nil
}

// Sentence renders a frame as a UKHAS telemetry sentence with a CRC16
// checksum, newline terminated.
func Sentence(frame *decode.TelemetryFrame) string {
	body := fmt.Sprintf("%s,%d,%s,%.5f,%.5f,%.1f,%.1f,%.1f,%.1f",
		frame.Serial,
		frame.FrameNumber,
		frame.Time.UTC().Format("15:04:05"),
		frame.Latitude,
		frame.Longitude,
		frame.Altitude,
		frame.VelH,
		frame.Temperature,
		frame.Humidity)

	return fmt.Sprintf("$$%s*%04X\n", body, crc16([]byte(body)))
}
