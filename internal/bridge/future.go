package bridge

import (
	"context"
	"sync"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Future is the consumer side of a single-value asynchronous result.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// Completer is the producer side of a Future. Hand it to the native callback.
type Completer[T any] struct {
	f *Future[T]
}

// NewFuture returns a pending future and its completer.
func NewFuture[T any]() (*Future[T], *Completer[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, &Completer[T]{f: f}
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	f, c := NewFuture[T]()
	c.Resolve(v)
	return f
}

// Failed returns an already failed future.
func Failed[T any](err error) *Future[T] {
	f, c := NewFuture[T]()
	c.Reject(err)
	return f
}

// Resolve completes the future with v. Returns false if it was already completed.
func (c *Completer[T]) Resolve(v T) bool {
	return c.f.complete(v, nil)
}

// Reject completes the future with err. Returns false if it was already completed.
func (c *Completer[T]) Reject(err error) bool {
	var zero T
	return c.f.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (c *Completer[T]) Complete(v T, err error) bool {
	if err != nil {
		return c.Reject(err)
	}
	return c.Resolve(v)
}

func (f *Future[T]) complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		completed = true
	})
	return completed
}

// Await blocks until the future completes or ctx is done. On ctx expiry the
// result is discarded and ctx.Err() is returned unchanged.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Go runs a blocking native call on its own named goroutine and exposes its
// outcome as a Future. Errors pass through Classify with the given classifiers,
// and a panic becomes an Other error.
func Go[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error), classifiers ...Classifier) *Future[T] {
	f, c := NewFuture[T]()
	groutine.GoRecover(ctx, name, func(ctx context.Context) {
		v, err := fn(ctx)
		c.Complete(v, Classify(err, classifiers...))
	}, func(p *groutine.PanicError) {
		c.Reject(device.Other(p))
	})
	return f
}
