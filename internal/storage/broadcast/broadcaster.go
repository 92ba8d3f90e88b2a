// Package broadcast fans freshly written samples out to live subscribers.
//
// Publish never blocks on consumers: each subscriber owns a bounded ring
// and a slow subscriber loses its oldest buffered samples, surfaced to it
// as an explicit gap event rather than silent loss.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/xtxerr/hostwatch/internal/errors"
	"github.com/xtxerr/hostwatch/internal/logging"
	"github.com/xtxerr/hostwatch/internal/storage/types"
)

var log = logging.Component("broadcast")

// Event is one element of a subscription's delivery sequence.
// Either a sample, or a gap marker reporting Dropped overwritten samples.
type Event struct {
	Sample  types.Sample
	Gap     bool
	Dropped int64
}

// Broadcaster fans out published samples to all active subscriptions.
type Broadcaster struct {
	mu sync.RWMutex

	subs map[string]*Subscription

	bufferSize     int
	maxSubscribers int

	// Statistics
	published int64
	dropped   int64
}

// Options configures the broadcaster.
type Options struct {
	// BufferSize is the per-subscriber ring capacity.
	// Default: 256
	BufferSize int

	// MaxSubscribers caps concurrent subscriptions. 0 means unlimited.
	MaxSubscribers int
}

// DefaultOptions returns default broadcaster options.
func DefaultOptions() Options {
	return Options{
		BufferSize:     256,
		MaxSubscribers: 64,
	}
}

// New creates a broadcaster.
func New(opts Options) *Broadcaster {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}

	return &Broadcaster{
		subs:           make(map[string]*Subscription),
		bufferSize:     opts.BufferSize,
		maxSubscribers: opts.MaxSubscribers,
	}
}

// Subscribe attaches a new subscriber with an independent delivery cursor.
// Fails with ErrSubscriptionUnavailable when the subscriber cap is reached;
// existing subscriptions are unaffected.
func (b *Broadcaster) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSubscribers > 0 && len(b.subs) >= b.maxSubscribers {
		return nil, fmt.Errorf("subscriber limit %d reached: %w", b.maxSubscribers, errors.ErrSubscriptionUnavailable)
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		b:      b,
		ring:   newEventRing(b.bufferSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.subs[sub.id] = sub
	log.Debug("subscriber attached", "subscription_id", sub.id, "total", len(b.subs))

	return sub, nil
}

// Publish enqueues a sample to every subscriber and returns. It performs no
// I/O and never waits on a consumer.
func (b *Broadcaster) Publish(sample types.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published++

	for _, sub := range b.subs {
		sub.enqueue(sample)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscribers: len(b.subs),
		Published:   b.published,
		Dropped:     b.dropped,
	}
}

// Stats holds broadcaster statistics.
type Stats struct {
	Subscribers int
	Published   int64
	Dropped     int64
}

// Close detaches all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// remove detaches one subscription.
func (b *Broadcaster) remove(id string, ringDropped int64) {
	b.mu.Lock()
	if _, ok := b.subs[id]; ok {
		delete(b.subs, id)
		b.dropped += ringDropped
	}
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the live stream.
// Events are pulled with Next; closing releases resources immediately.
type Subscription struct {
	id string
	b  *Broadcaster

	mu   sync.Mutex
	ring *eventRing

	notify chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// enqueue buffers a sample, dropping the oldest on overflow.
// Called by the broadcaster with its lock held.
func (s *Subscription) enqueue(sample types.Sample) {
	s.mu.Lock()
	s.ring.push(sample)
	s.mu.Unlock()

	// Non-blocking wake-up
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next event in the subscription's sequence, blocking
// until one is available, the context is cancelled, or the subscription is
// closed. If samples were dropped since the last call, a gap event is
// delivered before the next sample.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if n := s.ring.takeDropped(); n > 0 {
			s.mu.Unlock()
			logging.WithContext(logging.ContextWithSubscription(ctx, s.id)).
				Debug("gap delivered", "dropped", n)
			return Event{Gap: true, Dropped: n}, nil
		}
		if sample, ok := s.ring.pop(); ok {
			s.mu.Unlock()
			return Event{Sample: sample}, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			return Event{}, errors.ErrSubscriptionClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of buffered samples not yet consumed.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.len()
}

// Close detaches the subscription and releases its buffer. Safe to call
// more than once; returns once resources are released.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		dropped := s.ring.dropped
		s.ring = newEventRing(1) // release the buffer
		s.mu.Unlock()

		s.b.remove(s.id, dropped)
		log.Debug("subscriber detached", "subscription_id", s.id)
	})
}
