// Package aprs uploads sonde positions to an APRS-IS server as object
// reports.
package aprs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/delivery"
)

const (
	// DefaultServer is the radiosonde-specific APRS-IS entry point.
	DefaultServer = "radiosondy.info:14580"

	// DefaultComment is the object comment template. The placeholders
	// <freq>, <id>, <vel_v> and <type> are expanded per frame.
	DefaultComment = "Radiosonde <freq> <type>"

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	softwareVersion = "autorx-go 1.0"
)

// Config describes the APRS-IS connection and the reported objects.
type Config struct {
	Server   string // host:port, DefaultServer when empty
	Callsign string // igate callsign, e.g. N0CALL-4
	Passcode string // APRS-IS passcode for the callsign
	Comment  string // object comment template, DefaultComment when empty
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Callsign) == "" {
		return fmt.Errorf("aprs.Config: callsign is required")
	}
	if strings.TrimSpace(c.Passcode) == "" {
		return fmt.Errorf("aprs.Config: passcode is required")
	}

	return nil
}

// WithLogger sets the logger of the uploader
func WithLogger(logger *slog.Logger) func(*Uploader) {
	return func(u *Uploader) {
		u.logger = logger.With(slog.String("uploader", u.Name()))
	}
}

// Uploader connects to APRS-IS per delivery and pushes one object report per
// telemetry frame. Status events are ignored.
type Uploader struct {
	cfg    Config
	logger *slog.Logger

	// dial is swapped in tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// New creates an APRS-IS uploader.
func New(cfg Config, options ...func(*Uploader)) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.Comment == "" {
		cfg.Comment = DefaultComment
	}

	u := Uploader{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = dialTimeout
			return d.DialContext(ctx, "tcp", addr)
		},
	}

	for _, option := range options {
		option(&u)
	}

	return &u, nil
}

// Name implements delivery.Uploader.
func (u *Uploader) Name() string {
	return "aprs"
}

// Deliver implements delivery.Uploader. It opens a fresh connection, logs in
// and sends one object packet per telemetry frame in the batch.
func (u *Uploader) Deliver(ctx context.Context, events []delivery.Event) error {
	var packets []string
	for _, ev := range events {
		if ev.Kind != delivery.KindTelemetry || ev.Frame == nil {
			continue
		}
		packets = append(packets, u.objectPacket(ev.Frame))
	}
	if len(packets) == 0 {
		return nil
	}

	conn, err := u.dial(ctx, u.cfg.Server)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.cfg.Server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(writeTimeout))
	}

	login := fmt.Sprintf("user %s pass %s vers %s\r\n", u.cfg.Callsign, u.cfg.Passcode, softwareVersion)
	if _, err = io.WriteString(conn, login); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	// The server replies with a banner and a logresp line before accepting
	// packets.
	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		if _, err = reader.ReadString('\n'); err != nil {
			return fmt.Errorf("reading server response: %w", err)
		}
	}

	for _, packet := range packets {
		if _, err = io.WriteString(conn, packet+"\r\n"); err != nil {
			return fmt.Errorf("sending packet: %w", err)
		}

		u.logger.Debug("object report sent", slog.String("packet", packet))
	}

	return nil
}

// objectPacket renders one APRS object report for a telemetry frame.
func (u *Uploader) objectPacket(frame *decode.TelemetryFrame) string {
	// Object names are fixed width nine characters.
	name := frame.Serial
	if len(name) > 9 {
		name = name[:9]
	}
	name = fmt.Sprintf("%-9s", name)

	ts := frame.Time.UTC().Format("021504") + "z"

	courseSpeed := fmt.Sprintf("%03d/%03d",
		int(math.Round(frame.Heading))%360,
		int(math.Round(frame.VelH*1.944))) // m/s to knots

	altitude := fmt.Sprintf("/A=%06d", int(math.Round(frame.Altitude*3.281))) // meters to feet

	return fmt.Sprintf("%s>APRS,TCPIP*:;%s*%s%s/%sO%s%s %s",
		u.cfg.Callsign,
		name,
		ts,
		encodeLatitude(frame.Latitude),
		encodeLongitude(frame.Longitude),
		courseSpeed,
		altitude,
		expandComment(u.cfg.Comment, frame))
}

// encodeLatitude renders latitude as ddmm.hhN in APRS notation.
func encodeLatitude(lat float64) string {
	hemi := "N"
	if lat < 0 {
		hemi = "S"
		lat = -lat
	}

	deg := int(lat)
	minutes := (lat - float64(deg)) * 60

	return fmt.Sprintf("%02d%05.2f%s", deg, minutes, hemi)
}

// encodeLongitude renders longitude as dddmm.hhE in APRS notation.
func encodeLongitude(lon float64) string {
	hemi := "E"
	if lon < 0 {
		hemi = "W"
		lon = -lon
	}

	deg := int(lon)
	minutes := (lon - float64(deg)) * 60

	return fmt.Sprintf("%03d%05.2f%s", deg, minutes, hemi)
}

// expandComment substitutes frame values into the comment template.
func expandComment(template string, frame *decode.TelemetryFrame) string {
	r := strings.NewReplacer(
		"<freq>", fmt.Sprintf("%.3f MHz", float64(frame.FrequencyHz)/1e6),
		"<id>", frame.Serial,
		"<vel_v>", fmt.Sprintf("%.1fm/s", frame.VelV),
		"<type>", frame.Type,
	)
	return r.Replace(template)
}
