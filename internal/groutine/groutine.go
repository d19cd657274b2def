package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name for pprof and the context.
// Example usage:
//
//	groutine.Go(ctx, "scan-pump", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoRecover is Go with panic capture: a panic inside fn is converted to a
// *PanicError and passed to onPanic instead of crashing the process.
func GoRecover(parentCtx context.Context, name string, fn func(ctx context.Context), onPanic func(*PanicError)) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				perr := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
				if onPanic != nil {
					onPanic(perr)
				}
			}
		}()
		fn(ctx)
	})
}

// PanicError describes a recovered panic inside a named goroutine.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
