package blecentral

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
)

// Adapter is one local controller: its peripheral registry, its scan control
// and its event stream.
type Adapter struct {
	info    AdapterInfo
	manager *central.AdapterManager
	logger  *logrus.Logger
}

func newAdapter(info AdapterInfo, manager *central.AdapterManager, logger *logrus.Logger) *Adapter {
	return &Adapter{info: info, manager: manager, logger: logger}
}

// Info describes the controller.
func (a *Adapter) Info() AdapterInfo {
	return a.info
}

// BackendName names the native stack behind the adapter.
func (a *Adapter) BackendName() string {
	return a.manager.Backend().Name()
}

// StartScan starts discovery. Peripherals matching filter enter the registry
// and are announced on the event stream until StopScan or Close.
func (a *Adapter) StartScan(ctx context.Context, filter ScanFilter) error {
	return a.manager.StartScan(ctx, filter)
}

// StopScan stops discovery. Registered peripherals stay available.
func (a *Adapter) StopScan() error {
	return a.manager.StopScan()
}

// Peripherals returns every known peripheral in discovery order.
func (a *Adapter) Peripherals() []*Peripheral {
	return a.manager.Peripherals()
}

// Peripheral returns the handle for addr, or an ErrDeviceNotFound error.
func (a *Adapter) Peripheral(addr Address) (*Peripheral, error) {
	return a.manager.PeripheralOrErr(addr)
}

// AddPeripheral registers addr without waiting for an advertisement. A known
// address returns the existing handle.
func (a *Adapter) AddPeripheral(addr Address) (*Peripheral, error) {
	if p, ok := a.manager.Peripheral(addr); ok {
		return p, nil
	}
	native, err := a.manager.Backend().Bind(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	p, _ := a.manager.AddPeripheral(addr, a.manager.NewPeripheral(addr, native))
	return p, nil
}

// Events streams lifecycle events emitted from now on. The channel closes
// with ctx or the adapter.
func (a *Adapter) Events(ctx context.Context) <-chan CentralEvent {
	return a.manager.Events(ctx)
}

// Subscribe returns an event subscription that reports lag and closure
// explicitly. Callers close it when done.
func (a *Adapter) Subscribe() *Subscription {
	return a.manager.EventStream()
}

// WaitForPeripheral returns the handle for addr once it is registered, waiting
// for its discovery when needed. A scan has to be running for that to happen.
func (a *Adapter) WaitForPeripheral(ctx context.Context, addr Address) (*Peripheral, error) {
	sub := a.Subscribe()
	defer sub.Close()

	if p, ok := a.manager.Peripheral(addr); ok {
		return p, nil
	}
	for {
		ev, err := sub.Next(ctx)
		switch {
		case errors.Is(err, ErrLagged):
			if p, ok := a.manager.Peripheral(addr); ok {
				return p, nil
			}
			continue
		case err != nil:
			if device.IsContextError(err) {
				return nil, err
			}
			return nil, fmt.Errorf("waiting for %s: %w", addr, err)
		}
		if ev.Address == addr && ev.Type == DeviceDiscovered {
			return a.manager.PeripheralOrErr(addr)
		}
	}
}

// Close stops scanning, disconnects every connected peripheral, then releases
// the event stream and the native backend. Disconnect failures are logged and
// returned together.
func (a *Adapter) Close(ctx context.Context) error {
	var errs []error
	if err := a.manager.StopScan(); err != nil && !errors.Is(err, central.ErrManagerClosed) {
		a.logger.WithError(err).Debug("Failed to stop scan on close")
	}
	for _, p := range a.manager.Peripherals() {
		if p.State() == StateDisconnected {
			continue
		}
		if err := p.Disconnect(ctx); err != nil {
			a.logger.WithFields(logrus.Fields{
				"address": p.Address(),
				"error":   err,
			}).Warn("Failed to disconnect peripheral on close")
			errs = append(errs, fmt.Errorf("disconnect %s: %w", p.Address(), err))
		}
	}
	if err := a.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
