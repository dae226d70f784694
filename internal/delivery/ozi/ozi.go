// Package ozi pushes telemetry to local mapping clients over UDP: a
// waypoint sentence for OziPlotter and a JSON payload summary broadcast for
// anything else on the LAN.
package ozi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/delivery"
)

const (
	// DefaultWaypointPort receives TELEMETRY sentences.
	DefaultWaypointPort = 8942

	// DefaultSummaryPort receives JSON payload summaries, broadcast so any
	// host on the LAN can listen.
	DefaultSummaryPort = 55672

	writeTimeout = 2 * time.Second
)

// Config describes the local mapping targets.
type Config struct {
	Host         string // waypoint target host, "localhost" when empty
	WaypointPort int    // DefaultWaypointPort when zero
	SummaryPort  int    // DefaultSummaryPort when zero
	Station      string // callsign included in payload summaries
}

// WithLogger sets the logger of the uploader
func WithLogger(logger *slog.Logger) func(*Uploader) {
	return func(u *Uploader) {
		u.logger = logger.With(slog.String("uploader", u.Name()))
	}
}

// Uploader sends every telemetry frame it receives; mapping clients expect a
// live feed, so there is no rate gating here.
type Uploader struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a mapping uploader.
func New(cfg Config, options ...func(*Uploader)) *Uploader {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.WaypointPort == 0 {
		cfg.WaypointPort = DefaultWaypointPort
	}
	if cfg.SummaryPort == 0 {
		cfg.SummaryPort = DefaultSummaryPort
	}

	u := Uploader{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&u)
	}

	return &u
}

// Name implements delivery.Uploader.
func (u *Uploader) Name() string {
	return "ozi"
}

// Deliver implements delivery.Uploader.
func (u *Uploader) Deliver(ctx context.Context, events []delivery.Event) error {
	for _, ev := range events {
		if ev.Kind != delivery.KindTelemetry || ev.Frame == nil {
			continue
		}

		if err := u.sendWaypoint(ev.Frame); err != nil {
			return err
		}
		if err := u.sendSummary(ev.Frame); err != nil {
			return err
		}
	}

	return nil
}

// sendWaypoint sends one TELEMETRY sentence to the waypoint port.
func (u *Uploader) sendWaypoint(frame *decode.TelemetryFrame) error {
	addr := net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.WaypointPort))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dialing waypoint target %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err = io.WriteString(conn, WaypointSentence(frame)); err != nil {
		return fmt.Errorf("sending waypoint: %w", err)
	}

	return nil
}

// sendSummary broadcasts a JSON payload summary on the summary port. The
// socket needs SO_BROADCAST for the limited broadcast address.
func (u *Uploader) sendSummary(frame *decode.TelemetryFrame) error {
	payload, err := json.Marshal(Summary(u.cfg.Station, frame))
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return fmt.Errorf("opening broadcast socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: u.cfg.SummaryPort}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err = conn.WriteTo(payload, dst); err != nil {
		return fmt.Errorf("broadcasting summary: %w", err)
	}

	u.logger.Debug("summary broadcast", slog.String("serial", frame.Serial))

	return nil
}

func enableBroadcast(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}

// WaypointSentence renders the OziPlotter telemetry sentence, newline
// terminated.
func WaypointSentence(frame *decode.TelemetryFrame) string {
	return fmt.Sprintf("TELEMETRY,%s,%.5f,%.5f,%.1f\n",
		frame.Time.UTC().Format("15:04:05"),
		frame.Latitude,
		frame.Longitude,
		frame.Altitude)
}

// Summary builds the payload summary document broadcast to LAN listeners.
func Summary(station string, frame *decode.TelemetryFrame) map[string]any {
	comment := strings.TrimSpace(fmt.Sprintf("%s %s", frame.Type, frame.Serial))

	return map[string]any{
		"type":      "PAYLOAD_SUMMARY",
		"station":   station,
		"callsign":  frame.Serial,
		"latitude":  frame.Latitude,
		"longitude": frame.Longitude,
		"altitude":  frame.Altitude,
		"speed":     frame.VelH * 3.6, // m/s to km/h
		"heading":   frame.Heading,
		"time":      frame.Time.UTC().Format("15:04:05"),
		"comment":   comment,
		"freq_hz":   frame.FrequencyHz,
	}
}
