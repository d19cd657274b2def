package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Device is the part of ble.Device the backend drives.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// Client is the part of ble.Client a connected peripheral uses.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Dialer opens a connection to addr.
type Dialer func(ctx context.Context, addr ble.Addr) (Client, error)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// dialerFor adapts ble.Device.Dial to a Dialer.
func dialerFor(dev ble.Device) Dialer {
	return func(ctx context.Context, addr ble.Addr) (Client, error) {
		return dev.Dial(ctx, addr)
	}
}
