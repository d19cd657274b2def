package device

import (
	"bytes"
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// CharFlags is the GATT characteristic properties byte.
type CharFlags uint8

const (
	CharBroadcast                 CharFlags = 0x01
	CharRead                      CharFlags = 0x02
	CharWriteWithoutResponse      CharFlags = 0x04
	CharWrite                     CharFlags = 0x08
	CharNotify                    CharFlags = 0x10
	CharIndicate                  CharFlags = 0x20
	CharAuthenticatedSignedWrites CharFlags = 0x40
	CharExtendedProperties        CharFlags = 0x80
)

var charFlagNames = []struct {
	flag CharFlags
	name string
}{
	{CharBroadcast, "broadcast"},
	{CharRead, "read"},
	{CharWriteWithoutResponse, "write-without-response"},
	{CharWrite, "write"},
	{CharNotify, "notify"},
	{CharIndicate, "indicate"},
	{CharAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{CharExtendedProperties, "extended-properties"},
}

// Has reports whether all bits of f are set.
func (c CharFlags) Has(f CharFlags) bool {
	return c&f == f
}

// Known reports whether the backend reported any flag at all. Some native
// stacks do not expose properties; such characteristics carry zero flags.
func (c CharFlags) Known() bool {
	return c != 0
}

// String renders the set flags as "read|notify".
func (c CharFlags) String() string {
	if c == 0 {
		return "none"
	}
	names := make([]string, 0, len(charFlagNames))
	for _, n := range charFlagNames {
		if c&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Characteristic identifies a GATT characteristic of a connected peripheral.
type Characteristic struct {
	UUID    uuid.UUID
	Service uuid.UUID
	Flags   CharFlags
}

// Compare orders characteristics by UUID, then flags, then service.
func (c Characteristic) Compare(other Characteristic) int {
	if r := bytes.Compare(c.UUID[:], other.UUID[:]); r != 0 {
		return r
	}
	if r := cmp.Compare(c.Flags, other.Flags); r != 0 {
		return r
	}
	return bytes.Compare(c.Service[:], other.Service[:])
}

func (c Characteristic) String() string {
	return ShortUUID(c.UUID) + " [" + c.Flags.String() + "]"
}

// WriteType selects an acknowledged or unacknowledged write.
type WriteType int

const (
	WithResponse WriteType = iota
	WithoutResponse
)

func (w WriteType) String() string {
	if w == WithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// ValueNotification is a value pushed by a peripheral for a subscribed characteristic.
type ValueNotification struct {
	UUID  uuid.UUID
	Value []byte
}

// CharacteristicSet is an ordered set of characteristics. The zero value is
// ready to use. It is not safe for concurrent use.
type CharacteristicSet struct {
	items []Characteristic
}

// Add inserts c keeping the set ordered. Returns false if c was already present.
func (s *CharacteristicSet) Add(c Characteristic) bool {
	i, found := slices.BinarySearchFunc(s.items, c, Characteristic.Compare)
	if found {
		return false
	}
	s.items = slices.Insert(s.items, i, c)
	return true
}

// Contains reports whether exactly c is in the set.
func (s *CharacteristicSet) Contains(c Characteristic) bool {
	_, found := slices.BinarySearchFunc(s.items, c, Characteristic.Compare)
	return found
}

// Find returns the first characteristic with the given UUID.
func (s *CharacteristicSet) Find(id uuid.UUID) (Characteristic, bool) {
	for _, c := range s.items {
		if c.UUID == id {
			return c, true
		}
	}
	return Characteristic{}, false
}

// Resolve maps c to the stored entry: an exact match first, then a UUID match
// when c carries neither flags nor service.
func (s *CharacteristicSet) Resolve(c Characteristic) (Characteristic, bool) {
	if s.Contains(c) {
		return c, true
	}
	if c.Flags == 0 && c.Service == uuid.Nil {
		return s.Find(c.UUID)
	}
	return Characteristic{}, false
}

// Slice returns the members in order.
func (s *CharacteristicSet) Slice() []Characteristic {
	return slices.Clone(s.items)
}

// Len returns the member count.
func (s *CharacteristicSet) Len() int {
	return len(s.items)
}

// Clear removes every member.
func (s *CharacteristicSet) Clear() {
	s.items = nil
}
