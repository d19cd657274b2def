package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a one-line status with elapsed or remaining seconds
// while a command waits on the radio. It prints nothing when its writer is
// not a terminal.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to AA:BB:CC:DD:EE:FF", 0)
//	p.Start()
//	defer p.Stop()
//
// Start may be called once; Stop is safe to call repeatedly.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration // > 0 counts down, otherwise counts up
	enabled  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer. A positive duration counts down from
// it; zero counts elapsed time.
func NewProgressPrinter(w io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		enabled:  isTerminal(w),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins updating the line in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(started time.Time) {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.print(started)
	for {
		select {
		case <-p.stop:
			fmt.Fprint(p.w, clearLineSequence)
			return
		case <-ticker.C:
			p.print(started)
		}
	}
}

func (p *ProgressPrinter) print(started time.Time) {
	elapsed := time.Since(started)
	seconds := int(elapsed.Seconds())
	if p.duration > 0 {
		// Round to the nearest second, e.g. 3.7s -> 4s
		seconds = max(0, int((p.duration-elapsed).Seconds()+0.5))
	}
	fmt.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
}

// Stop clears the line and waits for the goroutine to exit.
func (p *ProgressPrinter) Stop() {
	// a printer that never started cannot start afterwards
	p.startOnce.Do(func() { close(p.done) })
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}
