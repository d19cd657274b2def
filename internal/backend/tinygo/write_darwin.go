package tinygo

import "tinygo.org/x/bluetooth"

func writeWithResponse(nc bluetooth.DeviceCharacteristic, value []byte) error {
	_, err := nc.Write(value)
	return err
}
