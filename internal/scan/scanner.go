// Package scan runs one-shot rtl_power sweeps over the configured band and
// assembles the CSV output into a Spectrum for peak detection.
package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/radiosonde-watch/autorx/internal/sdr"
	"github.com/radiosonde-watch/autorx/internal/sdr/rtl"
	"github.com/radiosonde-watch/autorx/internal/spectrum"
)

// ParseErrorsThreshold defines the number of consecutive CSV parse errors allowed
const ParseErrorsThreshold = 5

var (
	// ErrAcquisition is returned when the receiver cannot be acquired or the
	// sweep tool fails. The scheduler retries on the next tick.
	ErrAcquisition = errors.New("spectrum acquisition failed")

	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")
)

// Config describes the band swept on each scan cycle.
type Config struct {
	FrequencyStart int64         // Hz
	FrequencyEnd   int64         // Hz
	BinWidth       int64         // Hz, the search step
	Interval       time.Duration // integration time per sweep
	Crop           float32       // edge crop fraction passed to rtl_power
}

// WithLogger sets the logger for the scanner
func WithLogger(logger *slog.Logger) func(*Scanner) {
	return func(s *Scanner) {
		s.logger = logger.With(slog.String("component", "scanner"))
	}
}

// Scanner sweeps the configured band with rtl_power while it holds the scan
// lease on a receiver, yielding the lease as soon as the capture completes.
type Scanner struct {
	binPath string
	cfg     Config
	logger  *slog.Logger
}

// New creates a Scanner. It fails if rtl_power is not installed or the band
// configuration is invalid.
func New(cfg Config, options ...func(*Scanner)) (*Scanner, error) {
	binPath, err := sdr.FindRuntime(rtl.ScanRuntime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	probe := rtl.ScanConfig{
		FrequencyStart: cfg.FrequencyStart,
		FrequencyEnd:   cfg.FrequencyEnd,
		BinWidth:       cfg.BinWidth,
		Interval:       rtl.NewTimeDuration(cfg.Interval),
		Crop:           cfg.Crop,
	}
	if err := probe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}

	s := Scanner{
		binPath: binPath,
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Scan performs a single band sweep on the given receiver and returns the
// captured spectrum. The caller must hold the receiver's scan lease for the
// duration of the call.
func (s *Scanner) Scan(ctx context.Context, rx *sdr.Receiver) (*spectrum.Spectrum, error) {
	scanCfg := rtl.ScanConfig{
		FrequencyStart: s.cfg.FrequencyStart,
		FrequencyEnd:   s.cfg.FrequencyEnd,
		BinWidth:       s.cfg.BinWidth,
		Interval:       rtl.NewTimeDuration(s.cfg.Interval),
		Crop:           s.cfg.Crop,
		DeviceIndex:    rx.Index(),
		Gain:           rx.Gain(),
		PPMError:       rx.PPM(),
		BiasTee:        rx.BiasTee(),
	}

	args, err := scanCfg.Args()
	if err != nil {
		return nil, fmt.Errorf("building sweep args: %w", err)
	}

	rx.Tune(s.cfg.FrequencyStart)

	cmd := exec.CommandContext(ctx, s.binPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stdout pipe: %w", ErrAcquisition, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stderr pipe: %w", ErrAcquisition, err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %w", ErrAcquisition, rtl.ScanRuntime, err)
	}

	go s.handleStderr(stderr)

	rows, readErr := s.readRows(stdout)

	if err = cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("%w: %s exited with error: %w", ErrAcquisition, rtl.ScanRuntime, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, readErr)
	}

	spec, err := assemble(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}

	s.logger.Debug("sweep captured",
		slog.Int("bins", len(spec.Bins)),
		slog.Time("timestamp", spec.Timestamp))

	return spec, nil
}

func (s *Scanner) readRows(stdout io.Reader) ([]powerRow, error) {
	var rows []powerRow
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		row, err := parsePowerRow(line)
		if err != nil {
			parseErrors++
			s.logger.Warn(fmt.Sprintf("error parsing sweep output: %s", err.Error()), slog.String("line", line))

			if parseErrors >= ParseErrorsThreshold {
				return nil, ErrTooManyParseErrors
			}
			continue
		}

		parseErrors = 0 // reset counter
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return nil, fmt.Errorf("error reading stdout: %w", err)
	}

	return rows, nil
}

func (s *Scanner) handleStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.logger.Warn(fmt.Sprintf("%s >> %s", rtl.ScanRuntime, line))
	}
}

// powerRow is one CSV row of rtl_power output, covering a sub-range of the
// swept band.
type powerRow struct {
	timestamp  time.Time
	freqLow    float64
	freqHigh   float64
	binWidth   float64
	numSamples int
	powers     []float64
}

// parsePowerRow parses a single rtl_power CSV row. The first six fields
// describe time and frequency parameters, the rest are power readings.
func parsePowerRow(line string) (powerRow, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return powerRow{}, fmt.Errorf("invalid rtl_power output: not enough fields")
	}

	dateTime := strings.TrimSpace(fields[0]) + " " + strings.TrimSpace(fields[1])
	timestamp, err := time.Parse("2006-01-02 15:04:05", dateTime)
	if err != nil {
		return powerRow{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	freqLow, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return powerRow{}, fmt.Errorf("invalid start frequency: %w", err)
	}

	freqHigh, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return powerRow{}, fmt.Errorf("invalid end frequency: %w", err)
	}

	binWidth, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return powerRow{}, fmt.Errorf("invalid bin size: %w", err)
	}
	if binWidth <= 0 {
		return powerRow{}, fmt.Errorf("invalid bin size: %f", binWidth)
	}

	numSamples, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return powerRow{}, fmt.Errorf("invalid number of samples: %w", err)
	}

	powers := make([]float64, 0, len(fields)-6)
	for _, field := range fields[6:] {
		power, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsNaN(power) || math.IsInf(power, 0) {
			power = 0 // rtl_power occasionally emits nan readings
		}
		powers = append(powers, power)
	}

	return powerRow{
		timestamp:  timestamp,
		freqLow:    freqLow,
		freqHigh:   freqHigh,
		binWidth:   binWidth,
		numSamples: numSamples,
		powers:     powers,
	}, nil
}

// assemble orders the sweep rows by frequency and joins them into a single
// immutable spectrum covering the whole band.
func assemble(rows []powerRow) (*spectrum.Spectrum, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("sweep produced no samples")
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].freqLow < rows[j].freqLow
	})

	first := rows[0]
	spec := spectrum.Spectrum{
		Timestamp:  first.timestamp,
		FreqLow:    first.freqLow,
		FreqHigh:   rows[len(rows)-1].freqHigh,
		BinWidth:   first.binWidth,
		NumSamples: first.numSamples,
	}

	for _, row := range rows {
		for i, power := range row.powers {
			spec.Bins = append(spec.Bins, spectrum.Bin{
				Frequency: row.freqLow + (float64(i) * row.binWidth) + (row.binWidth / 2),
				Power:     power,
			})
		}
	}

	return &spec, nil
}
