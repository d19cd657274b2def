// Package goble is the platform backend over github.com/go-ble/ble: HCI
// sockets on Linux and CoreBluetooth on macOS.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Name identifies this backend in configuration.
const Name = "goble"

const (
	// DefaultNotificationBuffer is the per-stream notification buffer.
	DefaultNotificationBuffer = 128

	// scanStartGrace is how long StartScan waits for an immediate native failure.
	scanStartGrace = 100 * time.Millisecond

	// scanStopTimeout bounds the wait for the native scan loop to exit.
	scanStopTimeout = 5 * time.Second
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("goble backend closed")

// Options configures a Backend.
type Options struct {
	NotificationBuffer int
	Logger             *logrus.Logger
}

// Backend implements central.Backend over go-ble.
type Backend struct {
	dev    Device
	dial   Dialer
	logger *logrus.Logger
	buffer int

	mu         sync.Mutex
	reporter   central.Reporter
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	book       map[device.Address]ble.Addr
	natives    map[device.Address]*peripheral
	closed     bool
}

// New creates a backend on the platform default device from DeviceFactory.
func New(opts Options) (*Backend, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return NewWithDevice(dev, dialerFor(dev), opts), nil
}

// NewWithDevice creates a backend on an explicit device and dialer.
func NewWithDevice(dev Device, dial Dialer, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	buffer := opts.NotificationBuffer
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	return &Backend{
		dev:     dev,
		dial:    dial,
		logger:  logger,
		buffer:  buffer,
		book:    make(map[device.Address]ble.Addr),
		natives: make(map[device.Address]*peripheral),
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Attach(r central.Reporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reporter = r
}

// StartScan runs the native scan loop until StopScan or Close. Starting a scan
// while one runs restarts it with the new options.
func (b *Backend) StartScan(ctx context.Context, filter central.ScanFilter) error {
	if err := b.StopScan(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	scanCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.scanCancel, b.scanDone = cancel, done
	b.mu.Unlock()

	failed := make(chan error, 1)
	groutine.Go(scanCtx, "goble-scan", func(ctx context.Context) {
		defer close(done)
		err := b.dev.Scan(ctx, filter.AllowDuplicates, b.handleAdvertisement)
		if err != nil && !device.IsContextError(err) {
			b.logger.WithError(err).Warn("BLE scan stopped with error")
			failed <- err
		}
	})

	select {
	case err := <-failed:
		b.forgetScan(done)
		return NormalizeError(err)
	case <-ctx.Done():
		cancel()
		b.forgetScan(done)
		return ctx.Err()
	case <-time.After(scanStartGrace):
		return nil
	}
}

// StopScan ends the scan loop. It succeeds when no scan runs.
func (b *Backend) StopScan() error {
	b.mu.Lock()
	cancel, done := b.scanCancel, b.scanDone
	b.scanCancel, b.scanDone = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(scanStopTimeout):
		return device.Other(fmt.Errorf("scan did not stop within %s", scanStopTimeout))
	}
}

func (b *Backend) forgetScan(done chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scanDone == done {
		b.scanCancel, b.scanDone = nil, nil
	}
}

func (b *Backend) handleAdvertisement(adv ble.Advertisement) {
	props, err := PropertiesFromAdvertisement(adv)
	if err != nil {
		b.logger.WithError(err).Debug("Dropping untranslatable advertisement")
		return
	}

	b.mu.Lock()
	b.book[props.Address] = adv.Addr()
	reporter := b.reporter
	b.mu.Unlock()

	if reporter != nil {
		reporter.ReportProperties(props.Address, props)
	}
}

// Bind returns the native peripheral for addr. Peripherals never seen in a
// scan are dialed by their MAC, which only works on Linux.
func (b *Backend) Bind(addr device.Address) (central.NativePeripheral, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if p, ok := b.natives[addr]; ok {
		return p, nil
	}
	bleAddr, ok := b.book[addr]
	if !ok {
		bleAddr = ble.NewAddr(addr.String())
	}
	p := newPeripheral(b, addr, bleAddr)
	b.natives[addr] = p
	return p, nil
}

// Close stops scanning and the native device. Connections are left to their owners.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.StopScan(); err != nil {
		b.logger.WithError(err).Warn("Failed to stop scan on close")
	}
	if err := b.dev.Stop(); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (b *Backend) reportDisconnected(addr device.Address) {
	b.mu.Lock()
	reporter := b.reporter
	b.mu.Unlock()
	if reporter != nil {
		reporter.ReportDisconnected(addr)
	}
}
