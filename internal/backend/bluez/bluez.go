// Package bluez enumerates local Bluetooth adapters through the BlueZ D-Bus API.
package bluez

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blecentral/internal/device"
)

const (
	busName           = "org.bluez"
	adapterInterface  = "org.bluez.Adapter1"
	objectManagerCall = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// AdapterInfo describes one local controller.
type AdapterInfo struct {
	ID      string         `json:"id"`
	Path    string         `json:"path"`
	Address device.Address `json:"address"`
	Name    string         `json:"name"`
	Powered bool           `json:"powered"`
}

func (a AdapterInfo) String() string {
	state := "off"
	if a.Powered {
		state = "on"
	}
	return fmt.Sprintf("%s %s %q (%s)", a.ID, a.Address, a.Name, state)
}

// ManagedObjects is the GetManagedObjects reply: object path → interface → property.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ParseAdapters extracts the Adapter1 objects, sorted by ID. Objects with a
// malformed address are skipped.
func ParseAdapters(objects ManagedObjects) []AdapterInfo {
	var out []AdapterInfo
	for p, ifaces := range objects {
		props, ok := ifaces[adapterInterface]
		if !ok {
			continue
		}
		addrStr, _ := variantValue[string](props, "Address")
		addr, err := device.ParseAddress(addrStr)
		if err != nil {
			continue
		}
		name, ok := variantValue[string](props, "Alias")
		if !ok || name == "" {
			name, _ = variantValue[string](props, "Name")
		}
		powered, _ := variantValue[bool](props, "Powered")

		out = append(out, AdapterInfo{
			ID:      path.Base(string(p)),
			Path:    string(p),
			Address: addr,
			Name:    name,
			Powered: powered,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.Value().(T)
	return typed, ok
}

// Caller is the part of a D-Bus object used for enumeration.
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// EnumerateWith lists adapters through root, the BlueZ "/" object.
func EnumerateWith(ctx context.Context, root Caller) ([]AdapterInfo, error) {
	var objects ManagedObjects
	if err := root.CallWithContext(ctx, objectManagerCall, 0).Store(&objects); err != nil {
		return nil, classify(err)
	}
	return ParseAdapters(objects), nil
}

// Enumerate lists adapters over the system bus.
func Enumerate(ctx context.Context) ([]AdapterInfo, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, classify(err)
	}
	defer conn.Close()

	return EnumerateWith(ctx, conn.Object(busName, "/"))
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "accessdenied"), strings.Contains(msg, "permission denied"):
		return device.PermissionDenied(err)
	case strings.Contains(msg, "serviceunknown"), strings.Contains(msg, "no such file"):
		return &device.Error{Kind: device.KindNotSupported, Msg: "bluez is not available", Cause: err}
	default:
		return device.Other(err)
	}
}
