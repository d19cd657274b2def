package goble

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// txPowerAbsent is what go-ble reports when an advertisement carries no TX power level.
const txPowerAbsent = 127

// scanResponder is implemented by advertisements that keep the raw scan response.
type scanResponder interface {
	ScanResponse() []byte
}

// resolveAddress maps a go-ble address onto a registry address. Linux reports
// MAC addresses; CoreBluetooth reports opaque peripheral UUIDs, which get a
// derived random address.
func resolveAddress(a ble.Addr) (device.Address, device.AddressType, error) {
	if a == nil || a.String() == "" {
		return device.Address{}, device.AddressTypeUnknown, fmt.Errorf("advertisement has no address")
	}
	if addr, err := device.ParseAddress(a.String()); err == nil {
		return addr, device.AddressTypeUnknown, nil
	}
	return device.AddressFromIdentifier(a.String()), device.AddressTypeRandom, nil
}

// uuidFromBLE converts a go-ble UUID (16, 32 or 128 bit) to its full form.
func uuidFromBLE(u ble.UUID) (uuid.UUID, error) {
	return device.ParseUUID(u.String())
}

// uuidToBLE converts a full UUID to go-ble form, shortening base UUIDs.
func uuidToBLE(id uuid.UUID) ble.UUID {
	return ble.MustParse(device.ShortUUID(id))
}

// PropertiesFromAdvertisement translates one go-ble advertisement into a
// property report.
func PropertiesFromAdvertisement(adv ble.Advertisement) (*device.Properties, error) {
	addr, kind, err := resolveAddress(adv.Addr())
	if err != nil {
		return nil, err
	}

	props := device.NewProperties(addr)
	props.AddressType = kind

	if name := adv.LocalName(); name != "" {
		props.LocalName = &name
	}
	if tx := adv.TxPowerLevel(); tx != txPowerAbsent {
		v := int16(tx)
		props.TxPowerLevel = &v
	}
	rssi := int16(adv.RSSI())
	props.RSSI = &rssi
	connectable := adv.Connectable()
	props.Connectable = &connectable

	if md := adv.ManufacturerData(); len(md) >= 2 {
		company := binary.LittleEndian.Uint16(md[:2])
		props.ManufacturerData[company] = slices.Clone(md[2:])
	}

	for _, sd := range adv.ServiceData() {
		id, err := uuidFromBLE(sd.UUID)
		if err != nil {
			return nil, fmt.Errorf("service data: %w", err)
		}
		props.ServiceData[id] = slices.Clone(sd.Data)
	}

	for _, list := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range list {
			id, err := uuidFromBLE(u)
			if err != nil {
				return nil, fmt.Errorf("service list: %w", err)
			}
			if !slices.Contains(props.Services, id) {
				props.Services = append(props.Services, id)
			}
		}
	}

	if sr, ok := adv.(scanResponder); ok && len(sr.ScanResponse()) > 0 {
		props.HasScanResponse = true
	}
	return props, nil
}

// flagsFromProperty converts go-ble characteristic properties.
func flagsFromProperty(p ble.Property) device.CharFlags {
	var flags device.CharFlags
	for _, m := range []struct {
		ble  ble.Property
		flag device.CharFlags
	}{
		{ble.CharBroadcast, device.CharBroadcast},
		{ble.CharRead, device.CharRead},
		{ble.CharWriteNR, device.CharWriteWithoutResponse},
		{ble.CharWrite, device.CharWrite},
		{ble.CharNotify, device.CharNotify},
		{ble.CharIndicate, device.CharIndicate},
		{ble.CharSignedWrite, device.CharAuthenticatedSignedWrites},
		{ble.CharExtended, device.CharExtendedProperties},
	} {
		if p&m.ble != 0 {
			flags |= m.flag
		}
	}
	return flags
}
