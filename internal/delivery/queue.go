package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueOverflow is returned when a subscriber's buffer is full and holds
// nothing evictable. Telemetry is never silently dropped; the publisher is
// expected to log the loss.
var ErrQueueOverflow = errors.New("delivery queue overflow")

// Queue fans published events out to every subscriber. Each subscriber owns a
// bounded buffer so a stalled uploader cannot block the others or the
// publisher.
type Queue struct {
	mu   sync.Mutex
	seq  uint64
	subs []*Subscription
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Subscribe registers a named subscriber with the given buffer capacity.
// All events published after the call are visible to the subscription.
func (q *Queue) Subscribe(name string, capacity int) (*Subscription, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("subscription %q: capacity must be positive: %d", name, capacity)
	}

	sub := &Subscription{
		name:     name,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}

	q.mu.Lock()
	q.subs = append(q.subs, sub)
	q.mu.Unlock()

	return sub, nil
}

// Publish assigns the event a sequence number and offers it to every
// subscriber. A full subscriber buffer evicts its oldest status event to make
// room; when only telemetry is buffered the event is not enqueued there and
// Publish reports ErrQueueOverflow for that subscriber. Other subscribers
// still receive the event.
func (q *Queue) Publish(ev Event) error {
	q.mu.Lock()
	q.seq++
	ev.Seq = q.seq
	subs := q.subs
	q.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.offer(ev); err != nil {
			errs = append(errs, fmt.Errorf("subscription %q: %w", sub.name, err))
		}
	}

	return errors.Join(errs...)
}

// Subscription is one subscriber's bounded view of the queue.
type Subscription struct {
	name     string
	capacity int

	mu     sync.Mutex
	buf    []Event
	notify chan struct{}
}

// Name returns the subscriber name given at Subscribe time.
func (s *Subscription) Name() string {
	return s.name
}

func (s *Subscription) offer(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= s.capacity {
		evicted := false
		for i, buffered := range s.buf {
			if buffered.Kind == KindStatus {
				s.buf = append(s.buf[:i], s.buf[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return ErrQueueOverflow
		}
	}

	s.buf = append(s.buf, ev)

	select {
	case s.notify <- struct{}{}:
	default:
	}

	return nil
}

// Next blocks until an event is available or the context is done, then
// returns the oldest buffered event.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Drain removes and returns everything currently buffered, oldest first.
// Rate-limited uploaders call it once per upload slot and reduce the batch to
// the latest frame per sonde.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return nil
	}

	out := s.buf
	s.buf = nil
	return out
}

// Pending returns the number of buffered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
