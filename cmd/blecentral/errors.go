package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/pkg/blecentral"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns err into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch blecentral.KindOf(err) {
	case blecentral.KindDeviceNotFound:
		return fmt.Sprintf("device not found (is it advertising and in range?): %v", err)
	case blecentral.KindNotConnected:
		return fmt.Sprintf("device is not connected: %v", err)
	case blecentral.KindPermissionDenied:
		return fmt.Sprintf("permission denied (grant Bluetooth access or run with the needed capabilities): %v", err)
	case blecentral.KindNotSupported:
		return fmt.Sprintf("not supported: %v", err)
	case blecentral.KindCharacteristicNotFound:
		return fmt.Sprintf("characteristic not available: %v", err)
	}
	if errors.Is(err, ErrConnectionLost) {
		return "connection to the device was lost"
	}
	return err.Error()
}
