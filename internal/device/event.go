package device

import "fmt"

// EventType classifies a CentralEvent.
type EventType int

const (
	DeviceDiscovered EventType = iota
	DeviceUpdated
	DeviceConnected
	DeviceDisconnected
	DeviceLost
)

func (t EventType) String() string {
	switch t {
	case DeviceDiscovered:
		return "discovered"
	case DeviceUpdated:
		return "updated"
	case DeviceConnected:
		return "connected"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceLost:
		return "lost"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// CentralEvent is broadcast by an adapter for peripheral lifecycle changes.
// It only names the peripheral; consumers look the handle up to read state.
type CentralEvent struct {
	Type    EventType
	Address Address
}

func (e CentralEvent) String() string {
	return e.Type.String() + " " + e.Address.String()
}
