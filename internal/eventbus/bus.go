// Package eventbus broadcasts CentralEvents to any number of independent
// subscribers.
//
// Every subscriber owns a bounded overlapped ring buffer. Publishing never
// blocks: a subscriber that falls behind loses its oldest events and is told
// how many it missed on its next read.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

const (
	// DefaultCapacity is the per-subscriber buffer size used when none is given.
	DefaultCapacity uint32 = 256

	// MaxCapacity guards against accidental misconfiguration.
	MaxCapacity uint32 = 1 << 20
)

var (
	// ErrClosed ends a subscription after the bus or the subscription closed.
	ErrClosed = errors.New("event bus closed")

	// ErrLagged matches any *LaggedError.
	ErrLagged = &LaggedError{}
)

// LaggedError reports events a subscriber lost to buffer overflow.
// Reading continues with the oldest retained event.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged behind, %d events missed", e.Missed)
}

// Is matches any LaggedError
func (e *LaggedError) Is(target error) bool {
	_, ok := target.(*LaggedError)
	return ok
}

// Bus is a multi-producer, multi-consumer broadcast of CentralEvents.
type Bus struct {
	mu       sync.Mutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity uint32
	closed   bool
	logger   *logrus.Logger

	published atomic.Uint64
}

// New creates a bus. capacity is the per-subscriber buffer size, 0 selects DefaultCapacity.
func New(capacity uint32, logger *logrus.Logger) (*Bus, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("event buffer size %d exceeds maximum %d", capacity, MaxCapacity)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
		logger:   logger,
	}, nil
}

// Subscribe registers a new subscriber that receives every event published
// after this call returns.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		buf:    mpmc.NewOverlappedRingBuffer[device.CentralEvent](b.capacity),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closeLocked()
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s

	b.logger.WithFields(logrus.Fields{
		"subscriber":  s.id,
		"subscribers": len(b.subs),
	}).Debug("Event subscriber added")
	return s
}

// Publish delivers ev to all current subscribers. It never waits for a consumer.
// Calls are serialised so every subscriber observes the same order.
func (b *Bus) Publish(ev device.CentralEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subs {
		overwrites, err := s.buf.EnqueueM(ev)
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"subscriber": s.id,
				"error":      err,
			}).Warn("Failed to enqueue event")
			s.missed.Add(1)
		} else if overwrites > 0 {
			s.missed.Add(uint64(overwrites))
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Close ends every subscription. Buffered events stay readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.closeLocked()
		delete(b.subs, id)
	}
	b.logger.WithField("published", b.published.Load()).Debug("Event bus closed")
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published returns the total number of events published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, s.id)
	s.closeLocked()
}

// Subscription is one consumer of a Bus. Next must not be called concurrently.
type Subscription struct {
	id     uint64
	bus    *Bus
	buf    mpmc.RichOverlappedRingBuffer[device.CentralEvent]
	signal chan struct{}
	done   chan struct{}
	closed bool
	missed atomic.Uint64
}

// Next returns the next event in publish order.
//
// It returns a *LaggedError once after an overflow, before resuming with the
// oldest retained event; ErrClosed after close once the buffer is drained; and
// ctx.Err() if ctx ends first.
func (s *Subscription) Next(ctx context.Context) (device.CentralEvent, error) {
	for {
		if n := s.missed.Swap(0); n > 0 {
			return device.CentralEvent{}, &LaggedError{Missed: n}
		}
		if !s.buf.IsEmpty() {
			if ev, err := s.buf.Dequeue(); err == nil {
				return ev, nil
			}
		}

		select {
		case <-s.signal:
		case <-s.done:
			if s.buf.IsEmpty() && s.missed.Load() == 0 {
				return device.CentralEvent{}, ErrClosed
			}
		case <-ctx.Done():
			return device.CentralEvent{}, ctx.Err()
		}
	}
}

// Events pumps the subscription into a channel until ctx ends or the bus
// closes. Lag is logged and skipped. The subscription is closed on exit.
func (s *Subscription) Events(ctx context.Context) <-chan device.CentralEvent {
	out := make(chan device.CentralEvent)
	groutine.Go(ctx, "eventbus-pump", func(ctx context.Context) {
		defer close(out)
		defer s.Close()
		for {
			ev, err := s.Next(ctx)
			var lagged *LaggedError
			switch {
			case errors.As(err, &lagged):
				s.bus.logger.WithFields(logrus.Fields{
					"subscriber": s.id,
					"missed":     lagged.Missed,
				}).Warn("Event subscriber lagged")
				continue
			case err != nil:
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	})
	return out
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// closeLocked must run under bus.mu
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
