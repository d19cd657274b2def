package tinygo

import (
	"github.com/srg/blecentral/internal/device"
	"tinygo.org/x/bluetooth"
)

// writeWithResponse has no BlueZ counterpart in tinygo: DeviceCharacteristic
// only offers WriteWithoutResponse on Linux.
func writeWithResponse(bluetooth.DeviceCharacteristic, []byte) error {
	return device.NotSupported("write with response")
}
