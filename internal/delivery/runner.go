package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Uploader pushes a batch of events to one external sink.
type Uploader interface {
	// Name identifies the uploader in logs and subscriptions.
	Name() string

	// Deliver sends the batch. An error marks the whole batch as failed; the
	// runner logs it and moves on rather than re-queueing.
	Deliver(ctx context.Context, events []Event) error
}

// RunnerConfig controls how a runner paces its uploader.
type RunnerConfig struct {
	// Rate is the minimum time between uploads. Zero delivers every event as
	// it arrives.
	Rate time.Duration

	// Synchronous aligns upload slots to wall-clock multiples of Rate so
	// multiple stations update the sink in the same second.
	Synchronous bool

	// KeepLatest reduces each rate-gated batch to the most recent telemetry
	// frame per sonde serial. Status events are always kept.
	KeepLatest bool
}

// WithRunnerLogger sets the logger of the runner
func WithRunnerLogger(logger *slog.Logger) func(*Runner) {
	return func(r *Runner) {
		r.logger = logger.With(slog.String("uploader", r.uploader.Name()))
	}
}

// Runner drains one subscription and feeds one uploader, either per-event or
// in rate-gated batches.
type Runner struct {
	cfg      RunnerConfig
	sub      *Subscription
	uploader Uploader
	logger   *slog.Logger

	now func() time.Time
}

// NewRunner creates a runner draining sub into uploader.
func NewRunner(cfg RunnerConfig, sub *Subscription, uploader Uploader, options ...func(*Runner)) *Runner {
	r := Runner{
		cfg:      cfg,
		sub:      sub,
		uploader: uploader,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run delivers events until the context is cancelled. It returns the context
// error on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Rate <= 0 {
		return r.runImmediate(ctx)
	}
	return r.runPaced(ctx)
}

func (r *Runner) runImmediate(ctx context.Context) error {
	for {
		ev, err := r.sub.Next(ctx)
		if err != nil {
			return err
		}

		r.deliver(ctx, []Event{ev})
	}
}

func (r *Runner) runPaced(ctx context.Context) error {
	for {
		timer := time.NewTimer(r.nextSlot())

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		batch := r.sub.Drain()
		if len(batch) == 0 {
			continue
		}
		if r.cfg.KeepLatest {
			batch = reduceLatest(batch)
		}

		r.deliver(ctx, batch)
	}
}

// nextSlot returns the wait until the next upload opportunity. Synchronous
// runners wait for the next wall-clock multiple of the rate.
func (r *Runner) nextSlot() time.Duration {
	if !r.cfg.Synchronous {
		return r.cfg.Rate
	}

	now := r.now()
	wait := r.cfg.Rate - time.Duration(now.UnixNano())%r.cfg.Rate
	if wait == 0 {
		wait = r.cfg.Rate
	}
	return wait
}

func (r *Runner) deliver(ctx context.Context, batch []Event) {
	if err := r.uploader.Deliver(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("delivery failed",
			slog.Int("events", len(batch)),
			slog.String("error", err.Error()))
		return
	}

	r.logger.Debug("delivered", slog.Int("events", len(batch)))
}

// reduceLatest keeps the newest telemetry frame per sonde serial, preserving
// the original order of the survivors. Status events pass through untouched.
func reduceLatest(batch []Event) []Event {
	latest := make(map[string]int, len(batch))
	for i, ev := range batch {
		if ev.Kind != KindTelemetry || ev.Frame == nil {
			continue
		}
		latest[ev.Frame.Serial] = i
	}

	out := batch[:0]
	for i, ev := range batch {
		if ev.Kind == KindTelemetry && ev.Frame != nil && latest[ev.Frame.Serial] != i {
			continue
		}
		out = append(out, ev)
	}
	return out
}
