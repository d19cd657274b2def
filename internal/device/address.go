package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Address is a 48-bit Bluetooth device address. It is the registry key of a
// peripheral within one adapter.
type Address [6]byte

// AddressType tells how a peripheral advertised its address.
type AddressType uint8

const (
	AddressTypeUnknown AddressType = iota
	AddressTypePublic
	AddressTypeRandom
)

func (t AddressType) String() string {
	switch t {
	case AddressTypePublic:
		return "public"
	case AddressTypeRandom:
		return "random"
	default:
		return "unknown"
	}
}

// identifierNamespace seeds derived addresses for backends that expose opaque peripheral identifiers.
var identifierNamespace = uuid.MustParse("5c0c6e6a-9b0e-4d3e-a6f1-4b1e0c2f7a10")

// ParseAddress parses "AA:BB:CC:DD:EE:FF" (":" or "-" separated, any case).
func ParseAddress(s string) (Address, error) {
	var addr Address

	raw := strings.TrimSpace(s)
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != len(addr) {
		return Address{}, fmt.Errorf("invalid device address %q: expected 6 octets", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, fmt.Errorf("invalid device address %q: octet %d is %q", s, i, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return Address{}, fmt.Errorf("invalid device address %q: %w", s, err)
		}
		addr[i] = b[0]
	}
	return addr, nil
}

// MustParseAddress is ParseAddress that panics on error.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromIdentifier derives a stable address from an opaque platform
// identifier such as a CoreBluetooth peripheral UUID. The result is marked as a
// static random address (two most significant bits set).
func AddressFromIdentifier(id string) Address {
	sum := uuid.NewSHA1(identifierNamespace, []byte(strings.ToLower(id)))
	var addr Address
	copy(addr[:], sum[10:16])
	addr[0] |= 0xC0
	return addr
}

// String renders the upper-case, colon separated form.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Uint64 packs the address into the low 48 bits of an integer key.
func (a Address) Uint64() uint64 {
	return uint64(a[0])<<40 | uint64(a[1])<<32 | uint64(a[2])<<24 | uint64(a[3])<<16 | uint64(a[4])<<8 | uint64(a[5])
}

// IsZero reports whether every octet is zero.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
