//go:build linux || darwin

package tinygo

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
	"tinygo.org/x/bluetooth"
)

// payload is the part of a tinygo scan result the translation reads.
type payload interface {
	LocalName() string
	HasServiceUUID(bluetooth.UUID) bool
	ManufacturerData() []bluetooth.ManufacturerDataElement
	ServiceData() []bluetooth.ServiceDataElement
}

// resolveAddress maps a tinygo address string onto a registry address. BlueZ
// reports MACs, CoreBluetooth reports peripheral UUIDs.
func resolveAddress(s string) (device.Address, device.AddressType, error) {
	if s == "" {
		return device.Address{}, device.AddressTypeUnknown, fmt.Errorf("scan result has no address")
	}
	if addr, err := device.ParseAddress(s); err == nil {
		return addr, device.AddressTypeUnknown, nil
	}
	return device.AddressFromIdentifier(s), device.AddressTypeRandom, nil
}

func uuidFromTinygo(u bluetooth.UUID) (uuid.UUID, error) {
	return device.ParseUUID(u.String())
}

func uuidToTinygo(id uuid.UUID) (bluetooth.UUID, error) {
	return bluetooth.ParseUUID(id.String())
}

// propertiesFromScan translates one scan result. tinygo offers no service list,
// only membership tests, so the services reported are those of watched that
// the payload advertises.
func propertiesFromScan(address string, rssi int16, p payload, watched []uuid.UUID) (*device.Properties, error) {
	addr, kind, err := resolveAddress(address)
	if err != nil {
		return nil, err
	}

	props := device.NewProperties(addr)
	props.AddressType = kind
	props.RSSI = &rssi

	if name := p.LocalName(); name != "" {
		props.LocalName = &name
	}
	for _, md := range p.ManufacturerData() {
		props.ManufacturerData[md.CompanyID] = slices.Clone(md.Data)
	}
	for _, sd := range p.ServiceData() {
		id, err := uuidFromTinygo(sd.UUID)
		if err != nil {
			return nil, fmt.Errorf("service data: %w", err)
		}
		props.ServiceData[id] = slices.Clone(sd.Data)
	}
	for _, id := range watched {
		native, err := uuidToTinygo(id)
		if err != nil {
			continue
		}
		if p.HasServiceUUID(native) && !slices.Contains(props.Services, id) {
			props.Services = append(props.Services, id)
		}
	}
	return props, nil
}
