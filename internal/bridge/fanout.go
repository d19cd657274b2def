package bridge

import (
	"sync"
	"sync/atomic"
)

// Fanout copies every pushed item into each subscribed Stream. A slow
// subscriber only loses its own oldest items.
type Fanout[T any] struct {
	mu       sync.Mutex
	subs     map[*Stream[T]]struct{}
	capacity int
	closed   bool
	dropped  atomic.Int64
}

// NewFanout creates a fan-out whose subscriber streams buffer capacity items.
func NewFanout[T any](capacity int) *Fanout[T] {
	return &Fanout[T]{
		subs:     make(map[*Stream[T]]struct{}),
		capacity: capacity,
	}
}

// Subscribe returns a new stream receiving items pushed from now on. After
// Close it returns an already closed stream.
func (f *Fanout[T]) Subscribe() *Stream[T] {
	s := NewStream[T](f.capacity)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.Close()
		return s
	}
	f.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches and closes s.
func (f *Fanout[T]) Unsubscribe(s *Stream[T]) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
	s.Close()
}

// Push delivers v to every live subscriber and forgets closed ones. It
// returns false when nobody received v.
func (f *Fanout[T]) Push(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := false
	for s := range f.subs {
		if s.Push(v) {
			delivered = true
		} else {
			delete(f.subs, s)
		}
	}
	if !delivered {
		f.dropped.Add(1)
	}
	return delivered
}

// Dropped counts items that reached no subscriber or failed translation.
func (f *Fanout[T]) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Fanout[T]) countDrop() {
	f.dropped.Add(1)
}

// CloseSubscribers ends every current subscription. The fan-out itself stays usable.
func (f *Fanout[T]) CloseSubscribers() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*Stream[T]]struct{})
	f.mu.Unlock()

	for s := range subs {
		s.Close()
	}
}

// Close ends every subscription and rejects new ones.
func (f *Fanout[T]) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.CloseSubscribers()
}

// Len returns the number of live subscribers.
func (f *Fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
