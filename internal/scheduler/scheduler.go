// Package scheduler arbitrates receivers between the band scanner and decode
// sessions, and owns the lifecycle of every tracked frequency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/radiosonde-watch/autorx/internal/decode"
	"github.com/radiosonde-watch/autorx/internal/delivery"
	"github.com/radiosonde-watch/autorx/internal/sdr"
	"github.com/radiosonde-watch/autorx/internal/spectrum"
)

const scanOwner = "scanner"

// ErrStarved marks a pending session retired because it never obtained a
// receiver within the configured number of scan cycles.
var ErrStarved = errors.New("session starved of receiver time")

// Sweeper captures one spectrum sweep on a leased receiver.
type Sweeper interface {
	Scan(ctx context.Context, rx *sdr.Receiver) (*spectrum.Spectrum, error)
}

// CandidateFinder extracts decode candidates from a sweep.
type CandidateFinder interface {
	Detect(spec *spectrum.Spectrum) []spectrum.Candidate
}

// DecodeHandle is a running decoder pipeline owned by a session.
type DecodeHandle interface {
	ID() string
	Events() <-chan decode.Event
	Stop()
}

// DecoderFactory launches decoder pipelines on leased receivers.
type DecoderFactory interface {
	Start(ctx context.Context, frequencyHz int64, rx *sdr.Receiver) (DecodeHandle, error)
}

// Recorder persists sessions, frames and sweeps. All methods are best-effort;
// failures are logged and never stall scheduling.
type Recorder interface {
	CreateSession(id string, frequencyHz int64, startedAt time.Time) error
	EndSession(id string, stats FlightStats, endedAt time.Time) error
	InsertFrame(sessionID string, frame *decode.TelemetryFrame) error
	StoreScan(spec *spectrum.Spectrum) error
}

// Config tunes the scheduling policy.
type Config struct {
	// SearchAttempts is the number of consecutive empty sweeps tolerated
	// before the scanner backs off for SearchDelay.
	SearchAttempts int
	SearchDelay    time.Duration

	// NoDataInterval moves a silent decoding session to idle-wait;
	// RxTimeout retires an idle session that stays silent.
	NoDataInterval time.Duration
	RxTimeout      time.Duration

	// MaxRetries bounds decoder restarts after unexpected exits.
	MaxRetries int

	// MaxDecodeCycles bounds decode launches between sweeps on a shared
	// tuner so a busy band cannot stop scanning entirely.
	MaxDecodeCycles int

	// StarvationCycles retires a pending session that waited through this
	// many sweeps without ever getting a receiver.
	StarvationCycles int

	TickInterval time.Duration

	// FixedFrequencies disables scanning and decodes exactly these, in Hz.
	FixedFrequencies []int64
}

func (c *Config) Validate() error {
	if c.SearchAttempts < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("scheduler.Config: counters must not be negative")
	}

	if c.SearchAttempts == 0 {
		c.SearchAttempts = 5
	}
	if c.SearchDelay <= 0 {
		c.SearchDelay = 2 * time.Minute
	}
	if c.NoDataInterval <= 0 {
		c.NoDataInterval = time.Minute
	}
	if c.RxTimeout <= 0 {
		c.RxTimeout = 3 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MaxDecodeCycles <= 0 {
		c.MaxDecodeCycles = 3
	}
	if c.StarvationCycles <= 0 {
		c.StarvationCycles = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 2 * time.Second
	}

	return nil
}

type sessionEvent struct {
	frequency int64
	handleID  string
	ev        decode.Event
}

type scanResult struct {
	rx   *sdr.Receiver
	spec *spectrum.Spectrum
	err  error
}

// WithLogger sets the logger of the manager
func WithLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "scheduler"))
	}
}

// WithRecorder attaches persistent storage to the manager.
func WithRecorder(rec Recorder) func(*Manager) {
	return func(m *Manager) {
		m.recorder = rec
	}
}

// Manager is the scheduling core. All session state is owned by the single
// goroutine running Run; workers only forward decoder events into it.
type Manager struct {
	cfg      Config
	pool     *sdr.Pool
	sweeper  Sweeper
	finder   CandidateFinder
	factory  DecoderFactory
	queue    *delivery.Queue
	recorder Recorder
	logger   *slog.Logger

	leases   *leaseTable
	sessions map[int64]*session

	events   chan sessionEvent
	scanDone chan scanResult
	wg       sync.WaitGroup

	scanning         bool
	emptyScans       int
	searchIdleUntil  time.Time
	decodesSinceScan int

	now func() time.Time
}

// New creates a Manager.
func New(cfg Config, pool *sdr.Pool, sweeper Sweeper, finder CandidateFinder, factory DecoderFactory, queue *delivery.Queue, options ...func(*Manager)) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := Manager{
		cfg:      cfg,
		pool:     pool,
		sweeper:  sweeper,
		finder:   finder,
		factory:  factory,
		queue:    queue,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		leases:   newLeaseTable(),
		sessions: make(map[int64]*session),
		events:   make(chan sessionEvent, 64),
		scanDone: make(chan scanResult, 1),
		now:      time.Now,
	}

	for _, option := range options {
		option(&m)
	}

	return &m, nil
}

// Run drives scheduling until the context is cancelled, then stops every
// decoder and returns the context error.
func (m *Manager) Run(ctx context.Context) error {
	for _, freq := range m.cfg.FixedFrequencies {
		m.admit(spectrum.Candidate{Frequency: freq, FirstSeen: m.now()})
	}

	m.logger.Info("session manager started",
		slog.Int("receivers", m.pool.Size()),
		slog.Bool("shared", m.pool.Shared()),
		slog.Bool("fixed", m.fixedMode()))

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	// Kick off the first sweep without waiting for a tick.
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()

		case <-ticker.C:
			m.tick(ctx)

		case e := <-m.events:
			m.handleEvent(e)
			m.assign(ctx)

		case res := <-m.scanDone:
			m.handleScan(res)
			m.assign(ctx)
		}
	}
}

func (m *Manager) fixedMode() bool {
	return len(m.cfg.FixedFrequencies) > 0
}

// tick applies timeouts and hands out free receivers.
func (m *Manager) tick(ctx context.Context) {
	now := m.now()

	for _, s := range m.sessions {
		switch s.state {
		case StateDecoding:
			last := s.lastFrame
			if last.IsZero() {
				last = s.startedAt
			}
			if now.Sub(last) > m.cfg.NoDataInterval {
				m.toIdleWait(s)
			}

		case StateIdleWait:
			last := s.idleSince
			if s.lastFrame.After(last) {
				last = s.lastFrame
			}
			if s.handle == nil && now.Sub(last) > m.cfg.RxTimeout {
				m.retire(s, "no telemetry within timeout")
			}
		}
	}

	m.assign(ctx)
}

// assign hands free receivers to sessions, or to the scanner.
func (m *Manager) assign(ctx context.Context) {
	if m.pool.Shared() {
		rx := m.pool.ScanReceiver()
		if !m.leases.Free(rx) {
			return
		}

		// A long run of decode launches forces a sweep so new sondes are
		// still found while the band is busy.
		forced := !m.fixedMode() && m.decodesSinceScan >= m.cfg.MaxDecodeCycles
		if !forced {
			if s := m.nextDecodable(); s != nil {
				m.startDecoding(ctx, s, rx)
				return
			}
		}

		if !m.fixedMode() {
			m.maybeScan(ctx, rx)
		}
		if m.scanning {
			return
		}

		// Scan suppressed by search backoff; a waiting session may still run.
		if s := m.nextDecodable(); s != nil {
			m.startDecoding(ctx, s, rx)
		}
		return
	}

	if !m.fixedMode() {
		m.maybeScan(ctx, m.pool.ScanReceiver())
	}

	for _, rx := range m.pool.DecodeReceivers() {
		if !m.leases.Free(rx) {
			continue
		}
		s := m.nextDecodable()
		if s == nil {
			break
		}
		m.startDecoding(ctx, s, rx)
	}
}

// nextDecodable picks the session that should get the next free receiver:
// idle sessions with a fresh late frame first, then the strongest pending
// candidate.
func (m *Manager) nextDecodable() *session {
	var idle, pending *session

	for _, s := range m.sessions {
		switch {
		case s.state == StateIdleWait && s.wantsReceiver && s.handle == nil:
			if idle == nil || s.idleSince.Before(idle.idleSince) {
				idle = s
			}
		case s.state == StatePending:
			if pending == nil || s.power > pending.power {
				pending = s
			}
		}
	}

	if idle != nil {
		return idle
	}
	return pending
}

func (m *Manager) maybeScan(ctx context.Context, rx *sdr.Receiver) {
	if m.scanning || m.now().Before(m.searchIdleUntil) {
		return
	}
	if !m.leases.Acquire(rx, scanOwner) {
		return
	}

	m.scanning = true

	go func() {
		spec, err := m.sweeper.Scan(ctx, rx)
		m.scanDone <- scanResult{rx: rx, spec: spec, err: err}
	}()
}

func (m *Manager) handleScan(res scanResult) {
	m.scanning = false
	m.leases.Release(res.rx, scanOwner)
	m.decodesSinceScan = 0

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		m.logger.Error("sweep failed", slog.String("error", res.err.Error()))
		m.publishStatus(nil, "sweep failed")
		return
	}

	if m.recorder != nil {
		if err := m.recorder.StoreScan(res.spec); err != nil {
			m.logger.Warn("failed to store sweep", slog.String("error", err.Error()))
		}
	}

	candidates := m.finder.Detect(res.spec)
	if len(candidates) == 0 {
		m.emptyScans++
		if m.emptyScans >= m.cfg.SearchAttempts {
			m.searchIdleUntil = m.now().Add(m.cfg.SearchDelay)
			m.emptyScans = 0
			m.logger.Info("no candidates found, backing off",
				slog.Duration("delay", m.cfg.SearchDelay))
		}
	} else {
		m.emptyScans = 0
	}

	for _, c := range candidates {
		if s, ok := m.sessions[c.Frequency]; ok {
			// Same sonde seen again; refresh its standing in the queue.
			if s.state == StatePending {
				s.power = c.Power
				s.snr = c.SNR
			}
			continue
		}
		m.admit(c)
	}

	for _, s := range m.sessions {
		if s.state != StatePending {
			continue
		}
		s.cyclesWaiting++
		if s.cyclesWaiting > m.cfg.StarvationCycles {
			m.logger.Warn("retiring starved session",
				slog.String("frequency", freqString(s.frequency)),
				slog.Int("cycles", s.cyclesWaiting))
			m.retire(s, ErrStarved.Error())
		}
	}
}

// admit creates a pending session for a candidate. Frequencies are already
// quantized, so the map key dedupes repeat detections of the same sonde.
func (m *Manager) admit(c spectrum.Candidate) {
	s := newSession(c.Frequency, c.Power, c.SNR, m.now())
	m.sessions[c.Frequency] = s

	m.logger.Info("candidate admitted",
		slog.String("frequency", freqString(c.Frequency)),
		slog.Float64("power", c.Power),
		slog.Float64("snr", c.SNR))

	if m.recorder != nil {
		if err := m.recorder.CreateSession(s.id, s.frequency, s.firstSeen); err != nil {
			m.logger.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}

	m.publishStatus(s, "candidate admitted")
}

func (m *Manager) startDecoding(ctx context.Context, s *session, rx *sdr.Receiver) {
	if !m.leases.Acquire(rx, s.id) {
		return
	}

	handle, err := m.factory.Start(ctx, s.frequency, rx)
	if err != nil {
		m.leases.Release(rx, s.id)
		s.retries++
		m.logger.Error("failed to start decoder",
			slog.String("frequency", freqString(s.frequency)),
			slog.String("error", err.Error()))

		if s.retries > m.cfg.MaxRetries {
			m.retire(s, "decoder failed to start")
		}
		return
	}

	s.handle = handle
	s.rx = rx
	s.state = StateDecoding
	s.startedAt = m.now()
	s.lastFrame = time.Time{}
	s.stopRequested = false
	s.wantsReceiver = false
	s.cyclesWaiting = 0
	m.decodesSinceScan++

	m.wg.Add(1)
	go m.watch(s.frequency, handle)

	m.logger.Info("decoding started",
		slog.String("frequency", freqString(s.frequency)),
		slog.String("receiver", rx.ID()))

	m.publishStatus(s, "decoding")
}

// watch forwards decoder events into the manager loop. It exits when the
// decoder closes its event channel after the final exit event.
func (m *Manager) watch(frequency int64, h DecodeHandle) {
	defer m.wg.Done()

	for ev := range h.Events() {
		m.events <- sessionEvent{frequency: frequency, handleID: h.ID(), ev: ev}
	}
}

func (m *Manager) handleEvent(e sessionEvent) {
	s, ok := m.sessions[e.frequency]
	if !ok || s.handle == nil || s.handle.ID() != e.handleID {
		// A replaced or retired handle may still drain events; drop them.
		return
	}

	switch e.ev.Kind {
	case decode.EventFrame:
		m.handleFrame(s, e.ev.Frame)

	case decode.EventFailure:
		m.logger.Warn("decoder misbehaving",
			slog.String("frequency", freqString(s.frequency)),
			slog.String("error", e.ev.Err.Error()))

		// Tear the pipeline down; stopRequested stays false so the exit
		// event counts a retry like an unexpected crash.
		go s.handle.Stop()

	case decode.EventExit:
		m.handleExit(s, e.ev.Err)
	}
}

func (m *Manager) handleFrame(s *session, frame *decode.TelemetryFrame) {
	now := m.now()
	s.lastFrame = now

	// Telemetry proves the decoder works; the crash budget applies per
	// decode attempt, not across the session lifetime.
	s.retries = 0

	if s.stats.Frames == 0 {
		s.stats.Serial = frame.Serial
		s.stats.Type = frame.Type
		s.stats.FirstFrame = now
		m.logger.Info("sonde identified",
			slog.String("frequency", freqString(s.frequency)),
			slog.String("serial", frame.Serial),
			slog.String("type", frame.Type))
	}
	s.stats.Frames++
	s.stats.LastFrame = now
	s.stats.LastAlt = frame.Altitude
	s.stats.LastVelV = frame.VelV
	if frame.Altitude > s.stats.MaxAltitude {
		s.stats.MaxAltitude = frame.Altitude
	}

	// A frame from a decoder that is already winding down re-qualifies the
	// frequency for a receiver.
	if s.state == StateIdleWait {
		s.wantsReceiver = true
	}

	if m.recorder != nil {
		if err := m.recorder.InsertFrame(s.id, frame); err != nil {
			m.logger.Warn("failed to record frame", slog.String("error", err.Error()))
		}
	}

	ev := delivery.Event{
		SessionID:  s.id,
		Frequency:  s.frequency,
		SessionSeq: s.nextSeq(),
		Time:       now,
		Kind:       delivery.KindTelemetry,
		Frame:      frame,
	}
	if err := m.queue.Publish(ev); err != nil {
		m.logger.Warn("telemetry dropped", slog.String("error", err.Error()))
	}
}

func (m *Manager) handleExit(s *session, exitErr error) {
	if s.rx != nil {
		m.leases.Release(s.rx, s.id)
	}
	s.handle = nil
	s.rx = nil

	if s.state == StateRetired {
		m.remove(s)
		return
	}

	if s.stopRequested {
		// Orderly wind-down into idle-wait; a late frame may already have
		// flagged the session for re-acquisition.
		return
	}

	s.retries++
	if exitErr != nil {
		m.logger.Warn("decoder exited unexpectedly",
			slog.String("frequency", freqString(s.frequency)),
			slog.Int("retries", s.retries),
			slog.String("error", exitErr.Error()))
	}

	if s.retries <= m.cfg.MaxRetries {
		s.state = StatePending
		s.cyclesWaiting = 0
		return
	}

	s.state = StateIdleWait
	s.idleSince = m.now()
	s.wantsReceiver = false
	m.publishStatus(s, "idle")
}

// toIdleWait releases a silent session's receiver without forgetting the
// frequency. The decoder keeps its handle until the pipeline exits.
func (m *Manager) toIdleWait(s *session) {
	s.state = StateIdleWait
	s.idleSince = m.now()
	s.stopRequested = true
	s.wantsReceiver = false

	if s.handle != nil {
		// Stop blocks until the pipeline drains, so it cannot run on the
		// manager goroutine.
		go s.handle.Stop()
	}

	m.logger.Info("session idle",
		slog.String("frequency", freqString(s.frequency)),
		slog.Int("frames", s.stats.Frames))

	m.publishStatus(s, "idle")
}

func (m *Manager) retire(s *session, reason string) {
	m.publishStatus(s, "retired: "+reason)

	if s.handle != nil {
		s.state = StateRetired
		s.stopRequested = true
		go s.handle.Stop()
		// Removal happens when the exit event arrives.
		return
	}

	s.state = StateRetired
	m.remove(s)
}

func (m *Manager) remove(s *session) {
	delete(m.sessions, s.frequency)

	m.logger.Info("session retired",
		slog.String("frequency", freqString(s.frequency)),
		slog.String("serial", s.stats.Serial),
		slog.Int("frames", s.stats.Frames),
		slog.Float64("max_altitude", s.stats.MaxAltitude))

	if m.recorder != nil {
		if err := m.recorder.EndSession(s.id, s.stats, m.now()); err != nil {
			m.logger.Warn("failed to record session end", slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) publishStatus(s *session, msg string) {
	ev := delivery.Event{
		Time:   m.now(),
		Kind:   delivery.KindStatus,
		Status: msg,
	}
	if s != nil {
		ev.SessionID = s.id
		ev.Frequency = s.frequency
		ev.SessionSeq = s.nextSeq()
		ev.Status = fmt.Sprintf("%s: %s", freqString(s.frequency), msg)
	}

	if err := m.queue.Publish(ev); err != nil {
		m.logger.Debug("status dropped", slog.String("error", err.Error()))
	}
}

// shutdown stops every decoder and drains their final events so leases and
// storage records are settled before Run returns.
func (m *Manager) shutdown() {
	m.logger.Info("session manager stopping")

	for _, s := range m.sessions {
		if s.handle != nil {
			s.stopRequested = true
			go s.handle.Stop()
		}
	}

	go func() {
		m.wg.Wait()
		close(m.events)
	}()

	for e := range m.events {
		m.handleEvent(e)
	}

	if m.scanning {
		res := <-m.scanDone
		m.leases.Release(res.rx, scanOwner)
		m.scanning = false
	}

	for _, s := range m.sessions {
		m.remove(s)
	}
}

func freqString(hz int64) string {
	return humanize.SIWithDigits(float64(hz), 3, "Hz")
}
