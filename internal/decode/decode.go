// Package decode wraps the external per-frequency sonde decoder pipeline
// (rtl_fm | sox | decoder) and turns its output into telemetry events.
package decode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/radiosonde-watch/autorx/internal/sdr"
	"github.com/radiosonde-watch/autorx/internal/sdr/rtl"
)

const (
	// ParseErrorsThreshold defines the number of consecutive malformed
	// telemetry lines tolerated before the session reports a decode failure.
	ParseErrorsThreshold = 5

	// DefaultGrace is how long Stop waits for the decoder pipeline to exit
	// after SIGTERM before the process group is killed.
	DefaultGrace = 5 * time.Second

	soxRuntime = "sox"
	shRuntime  = "sh"
)

var (
	// ErrDecodeFailure is returned when the decoder misbehaves: it crashed,
	// or produced malformed output past the threshold. The scheduler retries
	// the session in place up to a bound.
	ErrDecodeFailure = errors.New("decoder failure")

	// ErrTooManyParseErrors is reported when consecutive malformed telemetry
	// lines exceed ParseErrorsThreshold.
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")
)

// EventKind discriminates decode session events.
type EventKind uint8

const (
	// EventFrame carries one successfully parsed telemetry frame.
	EventFrame EventKind = iota

	// EventFailure reports decoder misbehavior while the pipeline is still
	// running.
	EventFailure

	// EventExit is the final event of a session; Err is nil on a clean stop.
	EventExit
)

// Event is a single decode session outcome.
type Event struct {
	Kind  EventKind
	Frame *TelemetryFrame
	Err   error
}

// Config describes the decoder half of the pipeline.
type Config struct {
	// Command is the decoder invocation consuming 48 kHz wav on stdin and
	// emitting JSON telemetry lines, e.g. "rs41ecc --crc --ecc --json".
	Command string

	// SampleRate is the rtl_fm output rate feeding sox, in Hz.
	SampleRate int

	// Grace bounds cooperative shutdown before the process group is killed.
	Grace time.Duration
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("decode.Config: decoder command is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("decode.Config: sample rate must be positive: %d", c.SampleRate)
	}
	if c.Grace < 0 {
		return fmt.Errorf("decode.Config: grace must not be negative: %s", c.Grace)
	}

	return nil
}

// WithLogger sets the logger for sessions started by the factory
func WithLogger(logger *slog.Logger) func(*Factory) {
	return func(f *Factory) {
		f.logger = logger
	}
}

// Factory starts decode sessions bound to a frequency and a leased receiver.
type Factory struct {
	cfg Config

	fmPath  string
	soxPath string
	shPath  string

	logger *slog.Logger
}

// NewFactory creates a session factory. It fails if rtl_fm, sox or a shell
// cannot be found, or the configuration is invalid.
func NewFactory(cfg Config, options ...func(*Factory)) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}

	fmPath, err := sdr.FindRuntime(rtl.FMRuntime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}
	soxPath, err := sdr.FindRuntime(soxRuntime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}
	shPath, err := sdr.FindRuntime(shRuntime)
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	f := Factory{
		cfg:     cfg,
		fmPath:  fmPath,
		soxPath: soxPath,
		shPath:  shPath,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&f)
	}

	return &f, nil
}

// pipeline builds the shell pipeline for one decode session.
func (f *Factory) pipeline(frequencyHz int64, rx *sdr.Receiver) (string, error) {
	fmCfg := rtl.FMConfig{
		Frequency:   frequencyHz,
		SampleRate:  f.cfg.SampleRate,
		DeviceIndex: rx.Index(),
		Gain:        rx.Gain(),
		PPMError:    rx.PPM(),
		BiasTee:     rx.BiasTee(),
	}

	fmArgs, err := fmCfg.Args()
	if err != nil {
		return "", fmt.Errorf("building rtl_fm args: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(f.fmPath)
	sb.WriteString(" ")
	sb.WriteString(strings.Join(fmArgs, " "))
	sb.WriteString(" 2>/dev/null | ")
	sb.WriteString(fmt.Sprintf("%s -t raw -r %d -e s -b 16 -c 1 - -r 48000 -b 8 -t wav - highpass 20", f.soxPath, f.cfg.SampleRate))
	sb.WriteString(" 2>/dev/null | ")
	sb.WriteString(f.cfg.Command)

	return sb.String(), nil
}

// Start launches the decode pipeline for the given frequency on a receiver
// whose lease the caller holds. The returned session emits events until
// EventExit, after which its channel is closed. The caller must drain the
// channel.
func (f *Factory) Start(ctx context.Context, frequencyHz int64, rx *sdr.Receiver) (*Session, error) {
	pipeline, err := f.pipeline(frequencyHz, rx)
	if err != nil {
		return nil, err
	}

	rx.Tune(frequencyHz)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.shPath, "-c", pipeline)

	// The pipeline is a process group so rtl_fm and sox die with the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = f.cfg.Grace

	s := Session{
		id:          uuid.NewString(),
		frequencyHz: frequencyHz,
		cmd:         cmd,
		cancel:      cancel,
		events:      make(chan Event, 16),
	}
	s.logger = f.logger.With(
		slog.String("session", s.id),
		slog.Int64("frequency", frequencyHz),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("error starting decoder pipeline: %w", err)
	}

	s.wg.Add(1)
	go s.run(stdout, stderr)

	s.logger.Info("decoder pipeline started")

	return &s, nil
}

// Session is one running decode pipeline bound to a frequency.
type Session struct {
	id          string
	frequencyHz int64

	cmd    *exec.Cmd
	cancel context.CancelFunc

	events   chan Event
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// ID returns the unique identifier of this session attempt.
func (s *Session) ID() string {
	return s.id
}

// Frequency returns the tuned frequency in Hz.
func (s *Session) Frequency() int64 {
	return s.frequencyHz
}

// Events returns the session event stream. The channel is closed after
// EventExit is delivered.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Stop terminates the pipeline cooperatively: SIGTERM to the process group,
// SIGKILL after the grace period. It blocks until the session goroutines have
// finished. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
	})
	s.wg.Wait()
}

func (s *Session) run(stdout, stderr io.Reader) {
	defer s.wg.Done()

	done := make(chan error, 3) // expects three results from three goroutines

	go s.handleStdout(stdout, done)
	go s.handleStderr(stderr, done)
	go s.handleCmdWait(done)

	var errs []error
	for i := 0; i < cap(done); i++ {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}

	var exitErr error
	if len(errs) > 0 {
		exitErr = fmt.Errorf("%w: %w", ErrDecodeFailure, errors.Join(errs...))
	}

	s.events <- Event{Kind: EventExit, Err: exitErr}
	close(s.events)

	s.logger.Info("decoder pipeline stopped")
}

// handleStdout parses decoder output into telemetry frames. Lines that are
// not JSON objects are decoder chatter and ignored.
func (s *Session) handleStdout(stdout io.Reader, done chan<- error) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		frame, err := ParseFrame(line)
		if err != nil {
			parseErrors++
			s.logger.Warn(fmt.Sprintf("error parsing telemetry: %s", err.Error()), slog.String("line", line))

			if parseErrors >= ParseErrorsThreshold {
				s.events <- Event{Kind: EventFailure, Err: fmt.Errorf("%w: %w", ErrDecodeFailure, ErrTooManyParseErrors)}
				done <- ErrTooManyParseErrors
				return
			}

			continue
		}

		parseErrors = 0 // reset counter
		frame.FrequencyHz = s.frequencyHz

		s.events <- Event{Kind: EventFrame, Frame: frame}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("error reading stdout: %w", err)
		return
	}

	done <- nil
}

func (s *Session) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.logger.Warn("decoder >> " + line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("error reading stderr: %w", err)
		return
	}

	done <- nil
}

func (s *Session) handleCmdWait(done chan<- error) {
	if err := s.cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) && s.cmd.ProcessState != nil && !signaled(s.cmd) {
		done <- fmt.Errorf("pipeline exited with error: %w", err)
		return
	}

	done <- nil
}

// signaled reports whether the pipeline was terminated by our own stop signal
// rather than crashing on its own.
func signaled(cmd *exec.Cmd) bool {
	state := cmd.ProcessState
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return ws.Signaled() && (ws.Signal() == syscall.SIGTERM || ws.Signal() == syscall.SIGKILL)
}
