package device

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
)

// Properties is the accumulated advertisement state of a peripheral.
//
// Pointer fields are optional: nil means "not advertised yet". Snapshots
// returned to callers are deep copies; mutate them freely.
type Properties struct {
	Address          Address
	AddressType      AddressType
	LocalName        *string
	TxPowerLevel     *int16
	RSSI             *int16
	Connectable      *bool
	ManufacturerData map[uint16][]byte
	ServiceData      map[uuid.UUID][]byte
	Services         []uuid.UUID
	DiscoveryCount   uint32
	HasScanResponse  bool
}

// NewProperties returns an empty property set for addr.
func NewProperties(addr Address) *Properties {
	return &Properties{
		Address:          addr,
		ManufacturerData: make(map[uint16][]byte),
		ServiceData:      make(map[uuid.UUID][]byte),
	}
}

// Merge folds an advertisement report into p and returns the result as a new
// snapshot. p is left untouched.
//
//   - optional scalars present in update replace, absent ones are kept
//   - manufacturer and service data merge per key, update wins per key
//   - services append unseen UUIDs in first-seen order
//   - HasScanResponse is sticky
//   - DiscoveryCount is p.DiscoveryCount + 1
func (p *Properties) Merge(update *Properties) *Properties {
	merged := p.Clone()
	merged.DiscoveryCount = p.DiscoveryCount + 1
	if update == nil {
		return merged
	}

	if update.AddressType != AddressTypeUnknown {
		merged.AddressType = update.AddressType
	}
	if update.LocalName != nil {
		merged.LocalName = ptr(*update.LocalName)
	}
	if update.TxPowerLevel != nil {
		merged.TxPowerLevel = ptr(*update.TxPowerLevel)
	}
	if update.RSSI != nil {
		merged.RSSI = ptr(*update.RSSI)
	}
	if update.Connectable != nil {
		merged.Connectable = ptr(*update.Connectable)
	}
	for k, v := range update.ManufacturerData {
		merged.ManufacturerData[k] = bytes.Clone(v)
	}
	for k, v := range update.ServiceData {
		merged.ServiceData[k] = bytes.Clone(v)
	}
	for _, svc := range update.Services {
		if !slices.Contains(merged.Services, svc) {
			merged.Services = append(merged.Services, svc)
		}
	}
	merged.HasScanResponse = merged.HasScanResponse || update.HasScanResponse

	return merged
}

// Clone returns a deep copy. A nil receiver yields nil.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return nil
	}

	c := *p
	c.LocalName = clonePtr(p.LocalName)
	c.TxPowerLevel = clonePtr(p.TxPowerLevel)
	c.RSSI = clonePtr(p.RSSI)
	c.Connectable = clonePtr(p.Connectable)

	c.ManufacturerData = make(map[uint16][]byte, len(p.ManufacturerData))
	for k, v := range p.ManufacturerData {
		c.ManufacturerData[k] = bytes.Clone(v)
	}
	c.ServiceData = make(map[uuid.UUID][]byte, len(p.ServiceData))
	for k, v := range p.ServiceData {
		c.ServiceData[k] = bytes.Clone(v)
	}
	c.Services = slices.Clone(p.Services)

	return &c
}

// Name returns the local name or "" when none was advertised.
func (p *Properties) Name() string {
	if p == nil || p.LocalName == nil {
		return ""
	}
	return *p.LocalName
}

// AdvertisesService reports whether any of ids appears in the advertised services.
func (p *Properties) AdvertisesService(ids ...uuid.UUID) bool {
	if p == nil {
		return false
	}
	for _, id := range ids {
		if slices.Contains(p.Services, id) {
			return true
		}
		if _, ok := p.ServiceData[id]; ok {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	return ptr(*v)
}
