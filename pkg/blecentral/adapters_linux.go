//go:build linux

package blecentral

import (
	"context"
	"errors"

	"github.com/srg/blecentral/internal/backend/bluez"
	"github.com/srg/blecentral/internal/device"
)

// listAdapters asks BlueZ for the controllers. go-ble talks HCI directly, so a
// host without bluetoothd still gets hci0.
func listAdapters(ctx context.Context) ([]AdapterInfo, error) {
	infos, err := bluez.Enumerate(ctx)
	if errors.Is(err, device.ErrNotSupported) {
		return []AdapterInfo{{ID: "hci0", Path: "/org/bluez/hci0", Name: "hci0", Powered: true}}, nil
	}
	return infos, err
}
