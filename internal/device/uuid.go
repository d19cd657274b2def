package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth SIG base UUID used to expand 16 and 32-bit short forms.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ParseUUID parses a full 128-bit UUID or a 16/32-bit SIG short form.
// Accepts an optional 0x prefix and is case-insensitive ("2A37", "0x2a37", "0000180d", dashed or not).
func ParseUUID(s string) (uuid.UUID, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("empty UUID")
	}

	switch len(raw) {
	case 4, 8:
		short, err := strconv.ParseUint(raw, 16, 32)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid short UUID %q: %w", s, err)
		}
		return FromShortUUID(uint32(short)), nil
	default:
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return id, nil
	}
}

// MustParseUUID is ParseUUID that panics on error. Intended for constants and tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromShortUUID expands a 16 or 32-bit assigned number into a full UUID.
func FromShortUUID(short uint32) uuid.UUID {
	id := BaseUUID
	id[0] = byte(short >> 24)
	id[1] = byte(short >> 16)
	id[2] = byte(short >> 8)
	id[3] = byte(short)
	return id
}

// ShortUUID returns the 4 or 8 hex digit form for UUIDs built on the SIG base,
// and the canonical dashed form for everything else.
func ShortUUID(id uuid.UUID) string {
	for i := 4; i < 16; i++ {
		if id[i] != BaseUUID[i] {
			return id.String()
		}
	}
	if id[0] == 0 && id[1] == 0 {
		return fmt.Sprintf("%02x%02x", id[2], id[3])
	}
	return fmt.Sprintf("%02x%02x%02x%02x", id[0], id[1], id[2], id[3])
}
