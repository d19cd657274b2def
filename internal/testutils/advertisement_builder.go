package testutils

import (
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/device"
)

// PropertiesBuilder builds device.Properties reports for tests.
type PropertiesBuilder struct {
	props *device.Properties
}

// NewPropertiesBuilder starts an empty report for the zero address.
func NewPropertiesBuilder() *PropertiesBuilder {
	return &PropertiesBuilder{props: device.NewProperties(device.Address{})}
}

// WithAddress sets the reported address. Panics on malformed input.
func (b *PropertiesBuilder) WithAddress(addr string) *PropertiesBuilder {
	b.props.Address = device.MustParseAddress(addr)
	return b
}

// WithName sets the local name.
func (b *PropertiesBuilder) WithName(name string) *PropertiesBuilder {
	b.props.LocalName = &name
	return b
}

// WithRSSI sets the signal strength.
func (b *PropertiesBuilder) WithRSSI(rssi int16) *PropertiesBuilder {
	b.props.RSSI = &rssi
	return b
}

// WithTxPower sets the transmission power level.
func (b *PropertiesBuilder) WithTxPower(power int16) *PropertiesBuilder {
	b.props.TxPowerLevel = &power
	return b
}

// WithManufacturerData adds a payload for a company identifier.
func (b *PropertiesBuilder) WithManufacturerData(company uint16, data ...byte) *PropertiesBuilder {
	b.props.ManufacturerData[company] = data
	return b
}

// WithServiceData adds a payload for a service UUID (short or full form).
func (b *PropertiesBuilder) WithServiceData(id string, data ...byte) *PropertiesBuilder {
	b.props.ServiceData[device.MustParseUUID(id)] = data
	return b
}

// WithServices appends advertised service UUIDs (short or full form).
func (b *PropertiesBuilder) WithServices(ids ...string) *PropertiesBuilder {
	for _, id := range ids {
		b.props.Services = append(b.props.Services, device.MustParseUUID(id))
	}
	return b
}

// WithScanResponse marks the report as containing scan response data.
func (b *PropertiesBuilder) WithScanResponse() *PropertiesBuilder {
	b.props.HasScanResponse = true
	return b
}

// Build returns a copy of the configured report.
func (b *PropertiesBuilder) Build() *device.Properties {
	return b.props.Clone()
}

// FakeAdvertisement is a go-ble style advertisement with fixed contents.
type FakeAdvertisement struct {
	Name         string
	Address      string
	Rssi         int
	TxPower      int
	IsConnect    bool
	ManufData    []byte
	SvcData      []ble.ServiceData
	SvcUUIDs     []ble.UUID
	ScanRespData []byte
}

func (a *FakeAdvertisement) LocalName() string              { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte       { return a.ManufData }
func (a *FakeAdvertisement) ServiceData() []ble.ServiceData { return a.SvcData }
func (a *FakeAdvertisement) Services() []ble.UUID           { return a.SvcUUIDs }
func (a *FakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a *FakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a *FakeAdvertisement) TxPowerLevel() int              { return a.TxPower }
func (a *FakeAdvertisement) Connectable() bool              { return a.IsConnect }
func (a *FakeAdvertisement) RSSI() int                      { return a.Rssi }
func (a *FakeAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(a.Address) }
func (a *FakeAdvertisement) ScanResponse() []byte           { return a.ScanRespData }

// AdvertisementBuilder builds FakeAdvertisements with a fluent API.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a connectable advertisement with no
// transmit power (go-ble reports 127 when the field is absent).
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{IsConnect: true, TxPower: 127}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithTxPower sets the transmission power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.adv.TxPower = power
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnect = c
	return b
}

// WithManufacturerData sets the raw manufacturer-specific data (company id first, little endian).
func (b *AdvertisementBuilder) WithManufacturerData(data ...byte) *AdvertisementBuilder {
	b.adv.ManufData = data
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(ids ...string) *AdvertisementBuilder {
	for _, id := range ids {
		b.adv.SvcUUIDs = append(b.adv.SvcUUIDs, ble.MustParse(id))
	}
	return b
}

// WithServiceData adds service-specific data for the given service UUID.
func (b *AdvertisementBuilder) WithServiceData(id string, data ...byte) *AdvertisementBuilder {
	b.adv.SvcData = append(b.adv.SvcData, ble.ServiceData{UUID: ble.MustParse(id), Data: data})
	return b
}

// WithScanResponse sets raw scan response bytes.
func (b *AdvertisementBuilder) WithScanResponse(data ...byte) *AdvertisementBuilder {
	b.adv.ScanRespData = data
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}

// UUIDs parses short or full UUID strings; handy for expectations.
func UUIDs(ids ...string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, device.MustParseUUID(id))
	}
	return out
}
