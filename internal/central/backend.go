package central

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/device"
)

// Backend is the per-adapter contract every native stack implements.
//
// The backend reports what it observes through the Reporter it is attached
// to, and hands out a NativePeripheral for each address the registry tracks.
type Backend interface {
	// Name identifies the native stack, e.g. "goble" or "tinygo".
	Name() string

	// Attach is called once by the adapter manager before any other method.
	Attach(r Reporter)

	// StartScan begins discovery. Advertisements are reported until StopScan
	// or until ctx ends.
	StartScan(ctx context.Context, filter ScanFilter) error
	StopScan() error

	// Bind returns the native reference for addr. Backends that cannot reach a
	// peripheral they have never seen return a DeviceNotFound error.
	Bind(addr device.Address) (NativePeripheral, error)

	Close() error
}

// NativePeripheral is the native object behind a Peripheral handle. Every
// method returns immediately; the outcome is delivered through the future.
// Errors must already be classified into the device error taxonomy.
type NativePeripheral interface {
	IsConnected(ctx context.Context) *bridge.Future[bool]
	Connect(ctx context.Context) *bridge.Future[struct{}]
	Disconnect(ctx context.Context) *bridge.Future[struct{}]
	DiscoverCharacteristics(ctx context.Context) *bridge.Future[[]device.Characteristic]
	Read(ctx context.Context, c device.Characteristic) *bridge.Future[[]byte]
	Write(ctx context.Context, c device.Characteristic, data []byte, wt device.WriteType) *bridge.Future[struct{}]
	SetNotify(ctx context.Context, c device.Characteristic, enable bool) *bridge.Future[struct{}]

	// Notifications returns a new stream of values for subscribed
	// characteristics. The backend closes it when the connection ends.
	Notifications() *bridge.Stream[device.ValueNotification]
}

// Reporter is the surface backends call from their callback goroutines.
type Reporter interface {
	// ReportProperties records an advertisement. nil props means the
	// peripheral is no longer observed.
	ReportProperties(addr device.Address, props *device.Properties)

	// ReportDisconnected signals a connection ended without being asked to.
	ReportDisconnected(addr device.Address)
}

// ScanFilter narrows which peripherals enter the registry.
type ScanFilter struct {
	// Services keeps peripherals advertising at least one of these UUIDs.
	Services []uuid.UUID
	// AllowList, when not empty, keeps only these addresses.
	AllowList []device.Address
	// BlockList drops these addresses. It wins over AllowList.
	BlockList []device.Address
	// AllowDuplicates asks the native stack to report every advertisement.
	AllowDuplicates bool
}

// Match applies the block, allow and service filters in that order.
func (f ScanFilter) Match(props *device.Properties) bool {
	if props == nil {
		return false
	}
	if slices.Contains(f.BlockList, props.Address) {
		return false
	}
	if len(f.AllowList) > 0 && !slices.Contains(f.AllowList, props.Address) {
		return false
	}
	if len(f.Services) > 0 && !props.AdvertisesService(f.Services...) {
		return false
	}
	return true
}
