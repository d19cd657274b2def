//go:build !linux && !darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

func newDefaultDevice() (ble.Device, error) {
	return nil, device.NotSupported("go-ble supports linux and darwin only")
}
