package goble

import (
	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/device"
)

// errorRules maps known go-ble error strings onto the error taxonomy. Order
// matters: the first match wins.
var errorRules = []bridge.MessageRule{
	{Substr: "have=4 want=5", Kind: device.KindNotSupported}, // CoreBluetooth powered off
	{Substr: "bluetooth is turned off", Kind: device.KindNotSupported},
	{Substr: "unauthorized", Kind: device.KindPermissionDenied},
	{Substr: "not authorized", Kind: device.KindPermissionDenied},
	{Substr: "operation not permitted", Kind: device.KindPermissionDenied},
	{Substr: "permission denied", Kind: device.KindPermissionDenied},
	{Substr: "insufficient authentication", Kind: device.KindPermissionDenied},
	{Substr: "insufficient encryption", Kind: device.KindPermissionDenied},
	{Substr: "not supported", Kind: device.KindNotSupported},
	{Substr: "unsupported", Kind: device.KindNotSupported},
	{Substr: "device not connected", Kind: device.KindNotConnected},
	{Substr: "connection is not initialized", Kind: device.KindNotConnected},
	{Substr: "disconnected", Kind: device.KindNotConnected},
	{Substr: "no such device", Kind: device.KindDeviceNotFound},
	{Substr: "can't dial", Kind: device.KindDeviceNotFound},
}

var classifyMessage = bridge.ByMessage(errorRules...)

// NormalizeError maps known go-ble error strings to taxonomy errors, keeping the
// original error as the cause. Unknown errors become Other errors.
func NormalizeError(err error) error {
	return bridge.Classify(err, classifyMessage)
}
