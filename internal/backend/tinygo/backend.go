//go:build linux || darwin

// Package tinygo is the platform backend over tinygo.org/x/bluetooth.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// Name identifies this backend in configuration.
const Name = "tinygo"

const (
	// DefaultNotificationBuffer is the per-stream notification buffer.
	DefaultNotificationBuffer = 128

	// maxValueSize is the largest attribute value an ATT read can return.
	maxValueSize = 512

	scanStartGrace  = 100 * time.Millisecond
	scanStopTimeout = 5 * time.Second
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("tinygo backend closed")

var classifyMessage = bridge.ByMessage(
	bridge.MessageRule{Substr: "not authorized", Kind: device.KindPermissionDenied},
	bridge.MessageRule{Substr: "not permitted", Kind: device.KindPermissionDenied},
	bridge.MessageRule{Substr: "permission denied", Kind: device.KindPermissionDenied},
	bridge.MessageRule{Substr: "not supported", Kind: device.KindNotSupported},
	bridge.MessageRule{Substr: "not powered", Kind: device.KindNotSupported},
	bridge.MessageRule{Substr: "not connected", Kind: device.KindNotConnected},
	bridge.MessageRule{Substr: "does not exist", Kind: device.KindDeviceNotFound},
	bridge.MessageRule{Substr: "unknown object", Kind: device.KindDeviceNotFound},
)

// Options configures a Backend.
type Options struct {
	NotificationBuffer int
	Logger             *logrus.Logger
}

// Backend implements central.Backend over the tinygo default adapter.
type Backend struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger
	buffer  int

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	reporter central.Reporter
	scanDone chan struct{}
	book     map[device.Address]bluetooth.Address
	natives  map[device.Address]*peripheral
	closed   bool
}

// New creates a backend over bluetooth.DefaultAdapter.
func New(opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	buffer := opts.NotificationBuffer
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	b := &Backend{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		buffer:  buffer,
		book:    make(map[device.Address]bluetooth.Address),
		natives: make(map[device.Address]*peripheral),
	}
	if err := b.enable(); err != nil {
		return nil, fmt.Errorf("failed to enable adapter: %w", err)
	}
	return b, nil
}

func (b *Backend) enable() error {
	b.enableOnce.Do(func() {
		if err := b.adapter.Enable(); err != nil {
			b.enableErr = bridge.Classify(err, classifyMessage)
			return
		}
		b.adapter.SetConnectHandler(b.handleConnect)
	})
	return b.enableErr
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Attach(r central.Reporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reporter = r
}

// StartScan runs adapter.Scan until StopScan or Close.
func (b *Backend) StartScan(ctx context.Context, filter central.ScanFilter) error {
	if err := b.StopScan(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	done := make(chan struct{})
	b.scanDone = done
	b.mu.Unlock()

	failed := make(chan error, 1)
	groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		defer close(done)
		err := b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			b.handleScanResult(result, filter.Services)
		})
		if err != nil {
			b.logger.WithError(err).Warn("BLE scan stopped with error")
			failed <- err
		}
	})

	select {
	case err := <-failed:
		b.forgetScan(done)
		return bridge.Classify(err, classifyMessage)
	case <-ctx.Done():
		_ = b.adapter.StopScan()
		b.forgetScan(done)
		return ctx.Err()
	case <-time.After(scanStartGrace):
		return nil
	}
}

// StopScan stops a running scan; it succeeds when none runs.
func (b *Backend) StopScan() error {
	b.mu.Lock()
	done := b.scanDone
	b.scanDone = nil
	b.mu.Unlock()

	if done == nil {
		return nil
	}
	if err := b.adapter.StopScan(); err != nil {
		return bridge.Classify(err, classifyMessage)
	}
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
		b.scanDone = nil
	}
}

func (b *Backend) handleScanResult(result bluetooth.ScanResult, services []uuid.UUID) {
	props, err := propertiesFromScan(result.Address.String(), result.RSSI, result, services)
	if err != nil {
		b.logger.WithError(err).Debug("Dropping untranslatable scan result")
		return
	}

	b.mu.Lock()
	b.book[props.Address] = result.Address
	reporter := b.reporter
	b.mu.Unlock()

	if reporter != nil {
		reporter.ReportProperties(props.Address, props)
	}
}

func (b *Backend) handleConnect(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr, _, err := resolveAddress(dev.Address.String())
	if err != nil {
		return
	}

	b.mu.Lock()
	p := b.natives[addr]
	reporter := b.reporter
	b.mu.Unlock()

	if p == nil || !p.dropped() {
		return
	}
	b.logger.WithField("address", addr).Warn("BLE device reported disconnection")
	if reporter != nil {
		reporter.ReportDisconnected(addr)
	}
}

// Bind returns the native peripheral for addr.
func (b *Backend) Bind(addr device.Address) (central.NativePeripheral, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if p, ok := b.natives[addr]; ok {
		return p, nil
	}
	target, ok := b.book[addr]
	if !ok {
		target.Set(addr.String())
	}
	p := &peripheral{
		backend: b,
		addr:    addr,
		target:  target,
		fanout:  bridge.NewFanout[device.ValueNotification](b.buffer),
	}
	b.natives[addr] = p
	return p, nil
}

// Close stops scanning. Connections are left to their owners.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.StopScan()
}

// peripheral is one remote device through tinygo.
type peripheral struct {
	backend *Backend
	addr    device.Address
	target  bluetooth.Address

	mu      sync.Mutex
	dev     *bluetooth.Device
	handles map[device.Characteristic]bluetooth.DeviceCharacteristic

	fanout *bridge.Fanout[device.ValueNotification]
}

func (p *peripheral) IsConnected(context.Context) *bridge.Future[bool] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bridge.Resolved(p.dev != nil)
}

// Connect runs the blocking tinygo connect on its own goroutine. A caller
// timeout abandons the attempt; a late success is torn down.
func (p *peripheral) Connect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "tinygo-connect", func(ctx context.Context) (struct{}, error) {
		p.mu.Lock()
		connected := p.dev != nil
		p.mu.Unlock()
		if connected {
			return struct{}{}, nil
		}

		native := bridge.Go(context.Background(), "tinygo-connect-native", func(context.Context) (bluetooth.Device, error) {
			return p.backend.adapter.Connect(p.target, bluetooth.ConnectionParams{})
		}, classifyMessage)

		dev, err := native.Await(ctx)
		if err != nil {
			if device.IsContextError(err) {
				groutine.Go(context.Background(), "tinygo-connect-abandon", func(context.Context) {
					if late, lateErr := native.Await(context.Background()); lateErr == nil {
						_ = late.Disconnect()
					}
				})
			}
			return struct{}{}, err
		}

		p.mu.Lock()
		p.dev = &dev
		p.handles = make(map[device.Characteristic]bluetooth.DeviceCharacteristic)
		p.mu.Unlock()
		return struct{}{}, nil
	}, classifyMessage)
}

// dropped forgets the connection after a remote disconnect. It reports
// whether a connection was active.
func (p *peripheral) dropped() bool {
	p.mu.Lock()
	active := p.dev != nil
	p.dev = nil
	p.handles = nil
	p.mu.Unlock()

	if active {
		p.fanout.CloseSubscribers()
	}
	return active
}

func (p *peripheral) Disconnect(ctx context.Context) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "tinygo-disconnect", func(context.Context) (struct{}, error) {
		p.mu.Lock()
		dev := p.dev
		p.dev = nil
		p.handles = nil
		p.mu.Unlock()

		if dev == nil {
			return struct{}{}, nil
		}
		p.fanout.CloseSubscribers()
		return struct{}{}, dev.Disconnect()
	}, classifyMessage)
}

func (p *peripheral) DiscoverCharacteristics(ctx context.Context) *bridge.Future[[]device.Characteristic] {
	return bridge.Go(ctx, "tinygo-discover", func(context.Context) ([]device.Characteristic, error) {
		p.mu.Lock()
		dev := p.dev
		p.mu.Unlock()
		if dev == nil {
			return nil, device.ErrNotConnected
		}

		services, err := dev.DiscoverServices(nil)
		if err != nil {
			return nil, err
		}

		handles := make(map[device.Characteristic]bluetooth.DeviceCharacteristic)
		var chars []device.Characteristic
		for _, svc := range services {
			svcID, err := uuidFromTinygo(svc.UUID())
			if err != nil {
				continue
			}
			natives, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				return nil, err
			}
			for _, nc := range natives {
				id, err := uuidFromTinygo(nc.UUID())
				if err != nil {
					continue
				}
				// tinygo exposes no portable property flags
				c := device.Characteristic{UUID: id, Service: svcID}
				handles[c] = nc
				chars = append(chars, c)
			}
		}

		p.mu.Lock()
		if p.dev != dev {
			p.mu.Unlock()
			return nil, device.NotConnected("disconnected during discovery")
		}
		p.handles = handles
		p.mu.Unlock()

		p.backend.logger.WithFields(logrus.Fields{
			"address":         p.addr,
			"services":        len(services),
			"characteristics": len(chars),
		}).Debug("Services discovered")
		return chars, nil
	}, classifyMessage)
}

func (p *peripheral) handle(c device.Characteristic) (bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return bluetooth.DeviceCharacteristic{}, device.ErrNotConnected
	}
	nc, ok := p.handles[device.Characteristic{UUID: c.UUID, Service: c.Service}]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, device.CharacteristicNotFound(c.UUID)
	}
	return nc, nil
}

func (p *peripheral) Read(ctx context.Context, c device.Characteristic) *bridge.Future[[]byte] {
	return bridge.Go(ctx, "tinygo-read", func(context.Context) ([]byte, error) {
		nc, err := p.handle(c)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, maxValueSize)
		n, err := nc.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}, classifyMessage)
}

func (p *peripheral) Write(ctx context.Context, c device.Characteristic, data []byte, wt device.WriteType) *bridge.Future[struct{}] {
	value := slices.Clone(data)
	return bridge.Go(ctx, "tinygo-write", func(context.Context) (struct{}, error) {
		nc, err := p.handle(c)
		if err != nil {
			return struct{}{}, err
		}
		if wt == device.WithoutResponse {
			_, err = nc.WriteWithoutResponse(value)
		} else {
			err = writeWithResponse(nc, value)
		}
		return struct{}{}, err
	}, classifyMessage)
}

func (p *peripheral) SetNotify(ctx context.Context, c device.Characteristic, enable bool) *bridge.Future[struct{}] {
	return bridge.Go(ctx, "tinygo-set-notify", func(context.Context) (struct{}, error) {
		nc, err := p.handle(c)
		if err != nil {
			return struct{}{}, err
		}
		if !enable {
			return struct{}{}, nc.EnableNotifications(nil)
		}
		return struct{}{}, nc.EnableNotifications(bridge.Translate(p.fanout, func(raw []byte) (device.ValueNotification, error) {
			return device.ValueNotification{UUID: c.UUID, Value: slices.Clone(raw)}, nil
		}, p.backend.logger))
	}, classifyMessage)
}

func (p *peripheral) Notifications() *bridge.Stream[device.ValueNotification] {
	return p.fanout.Subscribe()
}
