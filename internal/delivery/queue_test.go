package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiosonde-watch/autorx/internal/decode"
)

func telemetryEvent(serial string, seq uint64) Event {
	return Event{
		SessionID:  "s-1",
		SessionSeq: seq,
		Time:       time.Now(),
		Kind:       KindTelemetry,
		Frame:      &decode.TelemetryFrame{Serial: serial, FrameNumber: int(seq)},
	}
}

func statusEvent(msg string) Event {
	return Event{
		SessionID: "s-1",
		Time:      time.Now(),
		Kind:      KindStatus,
		Status:    msg,
	}
}

func TestQueue_PerProducerOrder(t *testing.T) {
	q := NewQueue()
	sub, err := q.Subscribe("test", 16)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := uint64(1); i <= 5; i++ {
		if err := q.Publish(telemetryEvent("R3340011", i)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	ctx := context.Background()
	var prev uint64
	for i := 0; i < 5; i++ {
		ev, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if ev.SessionSeq <= prev {
			t.Errorf("Events out of order: session seq %d after %d", ev.SessionSeq, prev)
		}
		if ev.Seq == 0 {
			t.Error("Publish should assign a global sequence number")
		}
		prev = ev.SessionSeq
	}
}

func TestQueue_FanOut(t *testing.T) {
	q := NewQueue()

	a, _ := q.Subscribe("a", 4)
	b, _ := q.Subscribe("b", 4)

	if err := q.Publish(telemetryEvent("R3340011", 1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if a.Pending() != 1 || b.Pending() != 1 {
		t.Errorf("Both subscribers should hold the event, got %d and %d", a.Pending(), b.Pending())
	}
}

func TestQueue_EvictsStatusFirst(t *testing.T) {
	q := NewQueue()
	sub, _ := q.Subscribe("test", 3)

	if err := q.Publish(statusEvent("scanning")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := q.Publish(telemetryEvent("R3340011", 1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := q.Publish(telemetryEvent("R3340011", 2)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Buffer is full; the status event must make room for telemetry.
	if err := q.Publish(telemetryEvent("R3340011", 3)); err != nil {
		t.Fatalf("Publish should evict the status event, got %v", err)
	}

	batch := sub.Drain()
	if len(batch) != 3 {
		t.Fatalf("Expected 3 buffered events, got %d", len(batch))
	}
	for _, ev := range batch {
		if ev.Kind == KindStatus {
			t.Error("Status event should have been evicted")
		}
	}
}

func TestQueue_OverflowOnAllTelemetry(t *testing.T) {
	q := NewQueue()
	sub, _ := q.Subscribe("test", 2)

	q.Publish(telemetryEvent("R3340011", 1))
	q.Publish(telemetryEvent("R3340011", 2))

	err := q.Publish(telemetryEvent("R3340011", 3))
	if !errors.Is(err, ErrQueueOverflow) {
		t.Fatalf("Expected ErrQueueOverflow, got %v", err)
	}

	// The buffered telemetry is intact and the overflowing event was not
	// enqueued.
	batch := sub.Drain()
	if len(batch) != 2 {
		t.Fatalf("Expected 2 buffered events, got %d", len(batch))
	}
	if batch[0].SessionSeq != 1 || batch[1].SessionSeq != 2 {
		t.Error("Overflow must not displace buffered telemetry")
	}
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	q := NewQueue()
	sub, _ := q.Subscribe("test", 4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

func TestReduceLatest(t *testing.T) {
	batch := []Event{
		telemetryEvent("R3340011", 1),
		telemetryEvent("M1234567", 1),
		statusEvent("decoding"),
		telemetryEvent("R3340011", 2),
	}

	out := reduceLatest(batch)
	if len(out) != 3 {
		t.Fatalf("Expected 3 events after reduction, got %d", len(out))
	}

	var r334 int
	for _, ev := range out {
		if ev.Kind == KindTelemetry && ev.Frame.Serial == "R3340011" {
			r334++
			if ev.SessionSeq != 2 {
				t.Errorf("Kept frame seq = %d, want the latest (2)", ev.SessionSeq)
			}
		}
	}
	if r334 != 1 {
		t.Errorf("Expected one frame for R3340011, got %d", r334)
	}
}
