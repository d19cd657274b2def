package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrStreamClosed is returned by Next once the stream is closed and drained.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a bounded push sequence with overwrite-oldest semantics.
//
// Producers call Push from any goroutine, including native callback threads;
// Push never blocks. Consumers read with Next or range over C.
type Stream[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	done    chan struct{}
	metrics Metrics
}

// Metrics is a lock-free counter snapshot of a Stream.
type Metrics struct {
	Written     int64
	Overwritten int64
	Dropped     int64
	Processed   int64
}

// NewStream creates a stream buffering up to capacity items.
func NewStream[T any](capacity int) *Stream[T] {
	if capacity <= 0 {
		panic("bridge: stream capacity must be > 0")
	}
	return &Stream[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Push appends v, discarding the oldest buffered item when full. Returns false
// if the stream is closed.
func (s *Stream[T]) Push(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.countDrop()
		return false
	}

	select {
	case s.ch <- v:
	default:
		select {
		case <-s.ch:
			atomic.AddInt64(&s.metrics.Overwritten, 1)
		default:
		}
		s.ch <- v
	}
	atomic.AddInt64(&s.metrics.Written, 1)
	return true
}

// Next returns the next item in push order. It returns ErrStreamClosed after
// Close once buffered items are consumed, or ctx.Err() when ctx ends first.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			var zero T
			return zero, ErrStreamClosed
		}
		atomic.AddInt64(&s.metrics.Processed, 1)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// C returns the receive side. It is closed by Close.
//
// Reads through C bypass the Processed counter.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Done is closed when the stream is closed.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream. Buffered items stay readable. Safe to call repeatedly
// and concurrently with Push.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}

// Closed reports whether Close was called.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Metrics returns a snapshot of the stream counters.
func (s *Stream[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&s.metrics.Written),
		Overwritten: atomic.LoadInt64(&s.metrics.Overwritten),
		Dropped:     atomic.LoadInt64(&s.metrics.Dropped),
		Processed:   atomic.LoadInt64(&s.metrics.Processed),
	}
}

// Sink accepts pushed items. Stream and Fanout are sinks.
type Sink[T any] interface {
	Push(v T) bool
}

type dropCounter interface {
	countDrop()
}

func (s *Stream[T]) countDrop() {
	atomic.AddInt64(&s.metrics.Dropped, 1)
}

// Translate adapts a native item callback to a Sink: each native item is
// converted with fn and pushed. Items that fail translation are dropped and
// counted in Metrics.Dropped; they never end the stream.
func Translate[N, T any](sink Sink[T], fn func(N) (T, error), logger *logrus.Logger) func(N) {
	if logger == nil {
		logger = logrus.New()
	}
	return func(native N) {
		v, err := fn(native)
		if err != nil {
			if c, ok := sink.(dropCounter); ok {
				c.countDrop()
			}
			logger.WithError(err).Debug("Dropping untranslatable native item")
			return
		}
		sink.Push(v)
	}
}
