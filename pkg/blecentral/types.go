// Package blecentral is the public entry point: a Manager hands out one
// Adapter per local Bluetooth controller, and an Adapter owns the registry of
// peripherals it discovered together with the event stream announcing them.
package blecentral

import (
	"github.com/google/uuid"

	"github.com/srg/blecentral/internal/backend/bluez"
	"github.com/srg/blecentral/internal/bridge"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/eventbus"
)

type (
	UUID              = uuid.UUID
	Address           = device.Address
	AddressType       = device.AddressType
	Properties        = device.Properties
	Characteristic    = device.Characteristic
	CharFlags         = device.CharFlags
	WriteType         = device.WriteType
	ValueNotification = device.ValueNotification
	CentralEvent      = device.CentralEvent
	EventType         = device.EventType
	Error             = device.Error
	ErrorKind         = device.ErrorKind

	Peripheral      = central.Peripheral
	ConnectionState = central.ConnectionState
	ScanFilter      = central.ScanFilter
	Backend         = central.Backend

	Subscription = eventbus.Subscription
	LaggedError  = eventbus.LaggedError
	AdapterInfo  = bluez.AdapterInfo

	NotificationStream = bridge.Stream[device.ValueNotification]
)

const (
	WithResponse    = device.WithResponse
	WithoutResponse = device.WithoutResponse

	CharRead                 = device.CharRead
	CharWrite                = device.CharWrite
	CharWriteWithoutResponse = device.CharWriteWithoutResponse
	CharNotify               = device.CharNotify
	CharIndicate             = device.CharIndicate

	DeviceDiscovered   = device.DeviceDiscovered
	DeviceUpdated      = device.DeviceUpdated
	DeviceConnected    = device.DeviceConnected
	DeviceDisconnected = device.DeviceDisconnected
	DeviceLost         = device.DeviceLost

	StateDisconnected  = central.StateDisconnected
	StateConnecting    = central.StateConnecting
	StateConnected     = central.StateConnected
	StateDisconnecting = central.StateDisconnecting

	KindDeviceNotFound         = device.KindDeviceNotFound
	KindNotConnected           = device.KindNotConnected
	KindPermissionDenied       = device.KindPermissionDenied
	KindNotSupported           = device.KindNotSupported
	KindCharacteristicNotFound = device.KindCharacteristicNotFound
	KindOther                  = device.KindOther
)

var (
	ErrDeviceNotFound               = device.ErrDeviceNotFound
	ErrNotConnected                 = device.ErrNotConnected
	ErrPermissionDenied             = device.ErrPermissionDenied
	ErrNotSupported                 = device.ErrNotSupported
	ErrCharacteristicNotFound       = device.ErrCharacteristicNotFound
	ErrCharacteristicsNotDiscovered = device.ErrCharacteristicsNotDiscovered
	ErrOther                        = device.ErrOther

	ErrEventsClosed = eventbus.ErrClosed
	ErrLagged       = eventbus.ErrLagged
	ErrStreamClosed = bridge.ErrStreamClosed
)

var (
	ParseAddress          = device.ParseAddress
	AddressFromIdentifier = device.AddressFromIdentifier
	ParseUUID             = device.ParseUUID
	ShortUUID             = device.ShortUUID
	KindOf                = device.KindOf

	DeviceNotFound         = device.DeviceNotFound
	CharacteristicNotFound = device.CharacteristicNotFound
	NotSupported           = device.NotSupported
)
