package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/eventbus"
)

// ErrManagerClosed is returned by scan operations after Close.
var ErrManagerClosed = errors.New("adapter manager closed")

// Options configures an AdapterManager.
type Options struct {
	// EventBuffer is the per-subscriber event buffer size; 0 selects the bus default.
	EventBuffer uint32
	Logger      *logrus.Logger
}

// AdapterManager is the per-adapter registry of peripherals plus the event
// bus that announces their lifecycle. It implements Reporter for its backend.
type AdapterManager struct {
	backend Backend
	logger  *logrus.Logger
	bus     *eventbus.Bus

	peripherals *hashmap.Map[uint64, *Peripheral]

	orderMu sync.Mutex
	order   *orderedmap.OrderedMap[device.Address, *Peripheral]

	bindMu sync.Mutex

	filter atomic.Pointer[ScanFilter]
	closed atomic.Bool
}

// NewAdapterManager creates an adapter manager driving backend.
func NewAdapterManager(backend Backend, opts Options) (*AdapterManager, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	bus, err := eventbus.New(opts.EventBuffer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	m := &AdapterManager{
		backend:     backend,
		logger:      logger,
		bus:         bus,
		peripherals: hashmap.New[uint64, *Peripheral](),
		order:       orderedmap.New[device.Address, *Peripheral](),
	}
	backend.Attach(m)
	return m, nil
}

// Backend returns the native backend of this adapter.
func (m *AdapterManager) Backend() Backend {
	return m.backend
}

// NewPeripheral builds a handle for addr bound to native. It is not registered.
func (m *AdapterManager) NewPeripheral(addr device.Address, native NativePeripheral) *Peripheral {
	return newPeripheral(addr, native, m.Emit, m.logger)
}

// AddPeripheral registers p under addr unless an entry exists. It returns the
// stored handle and whether it was already present. No event is emitted.
func (m *AdapterManager) AddPeripheral(addr device.Address, p *Peripheral) (*Peripheral, bool) {
	stored, loaded := m.peripherals.GetOrInsert(addr.Uint64(), p)
	if !loaded {
		m.orderMu.Lock()
		m.order.Set(addr, stored)
		m.orderMu.Unlock()
	}
	return stored, loaded
}

// Peripheral looks up addr.
func (m *AdapterManager) Peripheral(addr device.Address) (*Peripheral, bool) {
	return m.peripherals.Get(addr.Uint64())
}

// PeripheralOrErr looks up addr and returns a DeviceNotFound error when absent.
func (m *AdapterManager) PeripheralOrErr(addr device.Address) (*Peripheral, error) {
	p, ok := m.Peripheral(addr)
	if !ok {
		return nil, device.DeviceNotFound(addr)
	}
	return p, nil
}

// Peripherals returns every registered handle in registration order.
func (m *AdapterManager) Peripherals() []*Peripheral {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	out := make([]*Peripheral, 0, m.order.Len())
	for pair := m.order.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of registered peripherals.
func (m *AdapterManager) Len() int {
	return m.peripherals.Len()
}

// Emit publishes ev to every current subscriber without waiting for them.
func (m *AdapterManager) Emit(ev device.CentralEvent) {
	m.bus.Publish(ev)
}

// EventStream returns a new, independent subscription starting now. It ends
// when the manager closes.
func (m *AdapterManager) EventStream() *eventbus.Subscription {
	return m.bus.Subscribe()
}

// Events is EventStream pumped into a channel that closes with ctx or the manager.
func (m *AdapterManager) Events(ctx context.Context) <-chan device.CentralEvent {
	return m.bus.Subscribe().Events(ctx)
}

// StartScan applies filter to newly seen peripherals and starts native discovery.
func (m *AdapterManager) StartScan(ctx context.Context, filter ScanFilter) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	m.filter.Store(&filter)

	m.logger.WithFields(logrus.Fields{
		"backend":  m.backend.Name(),
		"services": len(filter.Services),
	}).Info("Starting BLE scan...")

	if err := m.backend.StartScan(ctx, filter); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// StopScan stops native discovery. Known peripherals stay registered.
func (m *AdapterManager) StopScan() error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if err := m.backend.StopScan(); err != nil {
		return fmt.Errorf("stop scan failed: %w", err)
	}
	m.logger.WithField("device_count", m.Len()).Info("BLE scan stopped")
	return nil
}

// ReportProperties records an advertisement for addr and announces it.
//
// nil props emits DeviceLost for a known address and is ignored otherwise.
// An unknown address is bound through the backend, registered and announced
// as DeviceDiscovered; a known one is merged and announced as DeviceUpdated.
// Reports for one address are merged and announced one at a time, so the
// event order matches the order of registry changes.
func (m *AdapterManager) ReportProperties(addr device.Address, props *device.Properties) {
	if props == nil {
		if _, ok := m.Peripheral(addr); ok {
			m.logger.WithField("address", addr).Debug("Peripheral lost")
			m.Emit(device.CentralEvent{Type: device.DeviceLost, Address: addr})
		}
		return
	}

	p, existing := m.Peripheral(addr)
	if !existing {
		if f := m.filter.Load(); f != nil && !f.Match(props) {
			return
		}
		var registered bool
		if p, registered = m.register(addr); p == nil {
			return
		}
		existing = !registered
		if existing {
			p.reportMu.Lock()
		}
	} else {
		p.reportMu.Lock()
	}
	defer p.reportMu.Unlock()

	p.ReportProperties(props)

	if existing {
		m.Emit(device.CentralEvent{Type: device.DeviceUpdated, Address: addr})
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device":  props.Name(),
		"address": addr,
		"rssi":    derefOr(props.RSSI, 0),
	}).Info("Discovered new device")
	m.Emit(device.CentralEvent{Type: device.DeviceDiscovered, Address: addr})
}

// register binds and inserts a handle for addr unless one appeared meanwhile.
// A handle it inserts is returned with its report lock held, taken before the
// handle becomes visible so that no report for it is announced ahead of the
// discovery. It returns nil when the backend could not bind addr.
func (m *AdapterManager) register(addr device.Address) (*Peripheral, bool) {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()

	if p, ok := m.Peripheral(addr); ok {
		return p, false
	}

	native, err := m.backend.Bind(addr)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": addr,
			"error":   err,
		}).Warn("Failed to bind native peripheral")
		return nil, false
	}

	fresh := m.NewPeripheral(addr, native)
	fresh.reportMu.Lock()
	stored, loaded := m.AddPeripheral(addr, fresh)
	if loaded {
		// added explicitly between the lookups
		fresh.reportMu.Unlock()
		return stored, false
	}
	return stored, true
}

// ReportDisconnected forwards a remote connection drop to the handle.
func (m *AdapterManager) ReportDisconnected(addr device.Address) {
	p, ok := m.Peripheral(addr)
	if !ok {
		m.logger.WithField("address", addr).Debug("Disconnect reported for unknown peripheral")
		return
	}
	p.HandleDisconnected()
}

// Close ends every event subscription and releases the backend. It does not
// disconnect peripherals.
func (m *AdapterManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.bus.Close()
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close backend: %w", err)
	}
	return nil
}

func derefOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
