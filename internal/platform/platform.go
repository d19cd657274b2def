// Package platform holds the process-wide runtime handle that backends and the
// async bridge share. It is set exactly once at startup.
package platform

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyInitialized is returned by Init after the first successful call.
	ErrAlreadyInitialized = errors.New("platform runtime already initialized")

	// ErrNotInitialized is returned by Get before Init.
	ErrNotInitialized = errors.New("platform runtime has not been initialized")
)

// Runtime is the host environment every native callback reports into.
type Runtime struct {
	Logger *logrus.Logger

	// OnUnhandled receives native failures that did not map to a known error
	// kind. Defaults to logging them at error level.
	OnUnhandled func(err error)
}

var (
	mu      sync.RWMutex
	current *Runtime
)

// Init installs r as the process runtime. It can succeed only once.
func Init(r Runtime) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return ErrAlreadyInitialized
	}
	current = normalize(r)
	return nil
}

// Ensure installs r unless a runtime is already set, and returns the active one.
func Ensure(r Runtime) *Runtime {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		current = normalize(r)
	}
	return current
}

// Get returns the active runtime or ErrNotInitialized.
func Get() (*Runtime, error) {
	mu.RLock()
	defer mu.RUnlock()

	if current == nil {
		return nil, ErrNotInitialized
	}
	return current, nil
}

// Must returns the active runtime and panics if Init was never called.
func Must() *Runtime {
	r, err := Get()
	if err != nil {
		panic(err)
	}
	return r
}

// ReportUnhandled forwards err to the host diagnostics sink.
func (r *Runtime) ReportUnhandled(err error) {
	if err == nil {
		return
	}
	r.OnUnhandled(err)
}

func normalize(r Runtime) *Runtime {
	if r.Logger == nil {
		r.Logger = logrus.New()
	}
	if r.OnUnhandled == nil {
		logger := r.Logger
		r.OnUnhandled = func(err error) {
			logger.WithError(err).Error("Unhandled native error")
		}
	}
	return &r
}

// reset clears the runtime. Tests only.
func reset() {
	mu.Lock()
	current = nil
	mu.Unlock()
}
