package central

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// ConnectionState is the lifecycle state of a Peripheral connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Peripheral is the shared handle of one remote device. Every copy of the
// pointer observes the same state. Methods are safe for concurrent use.
type Peripheral struct {
	addr   device.Address
	native NativePeripheral
	emit   func(device.CentralEvent)
	logger *logrus.Logger

	mu         sync.RWMutex
	props      *device.Properties
	state      ConnectionState
	pending    *bridge.Future[struct{}]
	chars      device.CharacteristicSet
	discovered bool
	streams    map[*bridge.Stream[device.ValueNotification]]struct{}

	// connect attempt in flight, valid while state is StateConnecting
	connectCancel  context.CancelFunc
	connectAbort   string
	connectWaiters int

	// serialises merge-and-emit of advertisement reports
	reportMu sync.Mutex
}

// teardownTimeout bounds closing a link that came up after its connect was given up.
const teardownTimeout = 5 * time.Second

func newPeripheral(addr device.Address, native NativePeripheral, emit func(device.CentralEvent), logger *logrus.Logger) *Peripheral {
	return &Peripheral{
		addr:    addr,
		native:  native,
		emit:    emit,
		logger:  logger,
		props:   device.NewProperties(addr),
		streams: make(map[*bridge.Stream[device.ValueNotification]]struct{}),
	}
}

// Address returns the registry key of the peripheral.
func (p *Peripheral) Address() device.Address {
	return p.addr
}

// Properties returns a snapshot of the accumulated advertisement data.
func (p *Peripheral) Properties() *device.Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.props.Clone()
}

// ReportProperties merges an advertisement into the peripheral.
func (p *Peripheral) ReportProperties(update *device.Properties) {
	p.mu.Lock()
	p.props = p.props.Merge(update)
	count := p.props.DiscoveryCount
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":         p.addr,
		"discovery_count": count,
	}).Trace("Peripheral properties merged")
}

// State returns the current connection state.
func (p *Peripheral) State() ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CharacteristicsDiscovered reports whether a discovery completed since the last connect.
func (p *Peripheral) CharacteristicsDiscovered() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.discovered
}

// Characteristics returns the cached characteristics in order. Empty until a
// discovery succeeds and again after every disconnect.
func (p *Peripheral) Characteristics() []device.Characteristic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chars.Slice()
}

// IsConnected asks the native layer. It does not rely on the cached state.
func (p *Peripheral) IsConnected(ctx context.Context) (bool, error) {
	connected, err := p.native.IsConnected(ctx).Await(ctx)
	return connected, bridge.Classify(err)
}

// Connect establishes the connection. Connecting an already connected
// peripheral is a no-op; concurrent calls join the attempt in flight.
//
// The native attempt runs on a context owned by the handle, so a joiner is
// bound by its own ctx only. When every waiter has given up the attempt is
// cancelled, and a link that still comes up afterwards is torn down.
func (p *Peripheral) Connect(ctx context.Context) error {
	for {
		p.mu.Lock()
		switch p.state {
		case StateConnected:
			p.mu.Unlock()
			return nil

		case StateConnecting:
			pending := p.pending
			p.connectWaiters++
			p.mu.Unlock()
			return p.awaitConnect(ctx, pending)

		case StateDisconnecting:
			pending := p.pending
			p.mu.Unlock()
			if _, err := pending.Await(ctx); ctx.Err() != nil {
				return err
			}
			continue

		default:
			attemptCtx, cancel := context.WithCancel(context.Background())
			done, completer := bridge.NewFuture[struct{}]()
			nativeFuture := p.native.Connect(attemptCtx)
			p.state = StateConnecting
			p.pending = done
			p.connectCancel = cancel
			p.connectAbort = ""
			p.connectWaiters = 1
			p.mu.Unlock()

			p.logger.WithField("address", p.addr).Info("Connecting to peripheral...")

			groutine.GoRecover(context.Background(), "peripheral-connect", func(context.Context) {
				_, err := nativeFuture.Await(context.Background())
				completer.Complete(struct{}{}, p.finishConnect(bridge.Classify(err)))
			}, func(pe *groutine.PanicError) {
				completer.Reject(p.finishConnect(device.Other(pe)))
			})

			return p.awaitConnect(ctx, done)
		}
	}
}

// awaitConnect waits for the attempt behind pending and cancels it once the
// last waiter has gone.
func (p *Peripheral) awaitConnect(ctx context.Context, pending *bridge.Future[struct{}]) error {
	_, err := pending.Await(ctx)
	if ctx.Err() == nil {
		return err
	}

	p.mu.Lock()
	if p.pending == pending && p.state == StateConnecting {
		p.connectWaiters--
		if p.connectWaiters <= 0 {
			p.abortConnectLocked("connect abandoned")
			p.logger.WithField("address", p.addr).Debug("Every caller gave up, cancelling connect")
		}
	}
	p.mu.Unlock()
	return err
}

// abortConnectLocked cancels the attempt in flight. The first reason wins.
// Callers hold p.mu and the state is StateConnecting.
func (p *Peripheral) abortConnectLocked(reason string) {
	if p.connectAbort == "" {
		p.connectAbort = reason
	}
	if p.connectCancel != nil {
		p.connectCancel()
	}
}

func (p *Peripheral) finishConnect(err error) error {
	p.mu.Lock()
	reason := p.connectAbort
	if p.connectCancel != nil {
		p.connectCancel()
	}
	if err == nil && reason == "" {
		p.state = StateConnected
		p.resetConnectLocked()
		p.mu.Unlock()

		p.logger.WithField("address", p.addr).Info("Peripheral connected")
		p.emit(device.CentralEvent{Type: device.DeviceConnected, Address: p.addr})
		return nil
	}
	p.mu.Unlock()

	if reason != "" {
		if err == nil {
			// the link came up after the attempt was given up
			p.teardownLink()
		}
		if err == nil || device.IsContextError(err) {
			err = device.NotConnected(reason)
		}
	}

	p.mu.Lock()
	p.state = StateDisconnected
	p.resetConnectLocked()
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address": p.addr,
		"error":   err,
	}).Warn("Failed to connect to peripheral")
	return err
}

func (p *Peripheral) resetConnectLocked() {
	p.pending = nil
	p.connectCancel = nil
	p.connectAbort = ""
	p.connectWaiters = 0
}

// teardownLink closes a native link nobody owns any more.
func (p *Peripheral) teardownLink() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	_, err := p.native.Disconnect(ctx).Await(ctx)
	entry := p.logger.WithField("address", p.addr)
	if err != nil {
		entry.WithField("error", err).Warn("Failed to close abandoned connection")
		return
	}
	entry.Debug("Closed abandoned connection")
}

// Disconnect closes the connection. Disconnecting a peripheral that is not
// connected succeeds without touching the native layer. A connect in flight
// is cancelled and awaited; if its link already came up it is then closed.
func (p *Peripheral) Disconnect(ctx context.Context) error {
	for {
		p.mu.Lock()
		switch p.state {
		case StateDisconnected:
			p.mu.Unlock()
			p.logger.WithField("address", p.addr).Debug("Disconnect called but already disconnected")
			return nil

		case StateDisconnecting:
			pending := p.pending
			p.mu.Unlock()
			_, err := pending.Await(ctx)
			return err

		case StateConnecting:
			pending := p.pending
			p.abortConnectLocked("disconnected while connecting")
			p.mu.Unlock()
			p.logger.WithField("address", p.addr).Debug("Disconnect called while connecting, cancelling connect")
			if _, err := pending.Await(ctx); ctx.Err() != nil {
				return err
			}
			continue
		}

		done, completer := bridge.NewFuture[struct{}]()
		nativeFuture := p.native.Disconnect(ctx)
		p.state = StateDisconnecting
		p.pending = done
		p.mu.Unlock()

		p.logger.WithField("address", p.addr).Info("Disconnecting peripheral...")

		groutine.GoRecover(context.Background(), "peripheral-disconnect", func(context.Context) {
			_, err := nativeFuture.Await(context.Background())
			if err = bridge.Classify(err); err != nil {
				completer.Reject(p.disconnectFailed(done, err))
				return
			}
			p.connectionEnded("local", done)
			completer.Resolve(struct{}{})
		}, func(pe *groutine.PanicError) {
			completer.Reject(p.disconnectFailed(done, device.Other(pe)))
		})

		_, err := done.Await(ctx)
		return err
	}
}

// disconnectFailed restores the connected state after a failed native disconnect.
func (p *Peripheral) disconnectFailed(pending *bridge.Future[struct{}], err error) error {
	p.mu.Lock()
	if p.state == StateDisconnecting && p.pending == pending {
		p.state = StateConnected
		p.pending = nil
	}
	p.mu.Unlock()
	p.logger.WithFields(logrus.Fields{
		"address": p.addr,
		"error":   err,
	}).Warn("Peripheral disconnected with errors")
	return err
}

// HandleDisconnected records a connection drop the application did not ask for.
func (p *Peripheral) HandleDisconnected() {
	p.connectionEnded("remote", nil)
}

// connectionEnded moves to Disconnected, clears connection scoped state and
// emits DeviceDisconnected. Only the first caller per connection emits. A drop
// reported while connecting cancels the attempt instead; no event is emitted
// for a connection that never came up. A non-nil pending limits the call to
// the disconnect that created it.
func (p *Peripheral) connectionEnded(origin string, pending *bridge.Future[struct{}]) {
	p.mu.Lock()
	if pending != nil && p.pending != pending {
		p.mu.Unlock()
		return
	}
	switch p.state {
	case StateDisconnected:
		p.mu.Unlock()
		return
	case StateConnecting:
		p.abortConnectLocked("connection lost while connecting")
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"address": p.addr,
			"origin":  origin,
		}).Debug("Connection dropped while connecting")
		return
	}
	p.state = StateDisconnected
	p.pending = nil
	p.chars.Clear()
	p.discovered = false
	streams := p.streams
	p.streams = make(map[*bridge.Stream[device.ValueNotification]]struct{})
	p.mu.Unlock()

	for s := range streams {
		s.Close()
	}

	p.logger.WithFields(logrus.Fields{
		"address": p.addr,
		"origin":  origin,
		"streams": len(streams),
	}).Info("Peripheral disconnected")
	p.emit(device.CentralEvent{Type: device.DeviceDisconnected, Address: p.addr})
}

// DiscoverCharacteristics refreshes the characteristic cache from the peripheral.
func (p *Peripheral) DiscoverCharacteristics(ctx context.Context) error {
	if p.State() != StateConnected {
		return device.ErrNotConnected
	}

	chars, err := p.native.DiscoverCharacteristics(ctx).Await(ctx)
	if err = bridge.Classify(err); err != nil {
		return err
	}

	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return device.NotConnected("disconnected during discovery")
	}
	p.chars.Clear()
	for _, c := range chars {
		p.chars.Add(c)
	}
	p.discovered = true
	count := p.chars.Len()
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":         p.addr,
		"characteristics": count,
	}).Info("Characteristics discovered")
	return nil
}

// Read fetches the current value of c.
func (p *Peripheral) Read(ctx context.Context, c device.Characteristic) ([]byte, error) {
	resolved, err := p.resolve(c)
	if err != nil {
		return nil, err
	}
	if resolved.Flags.Known() && !resolved.Flags.Has(device.CharRead) {
		return nil, device.NotSupported("characteristic is not readable")
	}

	data, err := p.native.Read(ctx, resolved).Await(ctx)
	if err = bridge.Classify(err); err != nil {
		return nil, err
	}
	return data, nil
}

// Write sends data to c with the requested acknowledgement mode.
func (p *Peripheral) Write(ctx context.Context, c device.Characteristic, data []byte, wt device.WriteType) error {
	resolved, err := p.resolve(c)
	if err != nil {
		return err
	}
	if resolved.Flags.Known() {
		switch {
		case wt == device.WithoutResponse && !resolved.Flags.Has(device.CharWriteWithoutResponse):
			return device.NotSupported("characteristic does not support write without response")
		case wt == device.WithResponse && !resolved.Flags.Has(device.CharWrite):
			return device.NotSupported("characteristic does not support write with response")
		}
	}

	_, err = p.native.Write(ctx, resolved, data, wt).Await(ctx)
	return bridge.Classify(err)
}

// Subscribe enables notifications or indications for c.
func (p *Peripheral) Subscribe(ctx context.Context, c device.Characteristic) error {
	return p.setNotify(ctx, c, true)
}

// Unsubscribe disables notifications or indications for c.
func (p *Peripheral) Unsubscribe(ctx context.Context, c device.Characteristic) error {
	return p.setNotify(ctx, c, false)
}

func (p *Peripheral) setNotify(ctx context.Context, c device.Characteristic, enable bool) error {
	resolved, err := p.resolve(c)
	if err != nil {
		return err
	}
	if resolved.Flags.Known() && !resolved.Flags.Has(device.CharNotify) && !resolved.Flags.Has(device.CharIndicate) {
		return device.NotSupported("characteristic does not support notifications")
	}

	_, err = p.native.SetNotify(ctx, resolved, enable).Await(ctx)
	if err = bridge.Classify(err); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"address": p.addr,
		"char":    device.ShortUUID(resolved.UUID),
		"enabled": enable,
	}).Debug("Notification state changed")
	return nil
}

// Notifications returns a stream of values from subscribed characteristics.
// The stream ends when ctx is done or the connection ends. Each call returns
// an independent stream.
func (p *Peripheral) Notifications(ctx context.Context) (*bridge.Stream[device.ValueNotification], error) {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return nil, device.ErrNotConnected
	}
	s := p.native.Notifications()
	p.streams[s] = struct{}{}
	p.mu.Unlock()

	groutine.Go(ctx, "peripheral-notifications", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-s.Done():
		}
		p.mu.Lock()
		delete(p.streams, s)
		p.mu.Unlock()
		s.Close()
	})
	return s, nil
}

// resolve validates the connection and maps c onto the cached characteristic.
func (p *Peripheral) resolve(c device.Characteristic) (device.Characteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != StateConnected {
		return device.Characteristic{}, device.ErrNotConnected
	}
	if !p.discovered || p.chars.Len() == 0 {
		return device.Characteristic{}, device.ErrCharacteristicsNotDiscovered
	}
	resolved, ok := p.chars.Resolve(c)
	if !ok {
		return device.Characteristic{}, device.CharacteristicNotFound(c.UUID)
	}
	return resolved, nil
}
