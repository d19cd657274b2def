// Package bledb names well-known Bluetooth SIG assigned numbers: GATT
// services, characteristics and company identifiers.
//
// Only 16-bit UUIDs on the SIG base UUID have names; vendor 128-bit UUIDs
// look up as "".
package bledb

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var sigBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ShortForm returns the 16-bit assigned number of id when id sits on the SIG base UUID.
func ShortForm(id uuid.UUID) (uint16, bool) {
	if id[0] != 0 || id[1] != 0 || !bytes.Equal(id[4:], sigBase[4:]) {
		return 0, false
	}
	return uint16(id[2])<<8 | uint16(id[3]), true
}

// NormalizeUUID lowercases s and strips braces, dashes and a 0x prefix. SIG
// UUIDs collapse to their four hex digits.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, "00001000800000805f9b34fb") {
		return s[4:8]
	}
	return s
}

func lookup(table map[uint16]string, id uuid.UUID) string {
	short, ok := ShortForm(id)
	if !ok {
		return ""
	}
	return table[short]
}

func lookupString(table map[uint16]string, s string) string {
	n := NormalizeUUID(s)
	if len(n) != 4 {
		return ""
	}
	v, err := strconv.ParseUint(n, 16, 16)
	if err != nil {
		return ""
	}
	return table[uint16(v)]
}

// LookupService returns the SIG name of a GATT service, or "".
func LookupService(id uuid.UUID) string { return lookup(services, id) }

// LookupCharacteristic returns the SIG name of a GATT characteristic, or "".
func LookupCharacteristic(id uuid.UUID) string { return lookup(characteristics, id) }

// LookupServiceString is LookupService for any textual UUID form.
func LookupServiceString(s string) string { return lookupString(services, s) }

// LookupCharacteristicString is LookupCharacteristic for any textual UUID form.
func LookupCharacteristicString(s string) string { return lookupString(characteristics, s) }

// LookupCompany returns the registered name of a manufacturer data company identifier, or "".
func LookupCompany(id uint16) string { return companies[id] }

var services = map[uint16]string{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x1802: "Immediate Alert",
	0x1803: "Link Loss",
	0x1804: "Tx Power",
	0x1805: "Current Time",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery Service",
	0x1810: "Blood Pressure",
	0x1812: "Human Interface Device",
	0x1816: "Cycling Speed and Cadence",
	0x1818: "Cycling Power",
	0x1819: "Location and Navigation",
	0x181a: "Environmental Sensing",
	0x181c: "User Data",
	0x181d: "Weight Scale",
	0x1826: "Fitness Machine",
	0xfe59: "Nordic DFU",
	0xfeaa: "Eddystone",
}

var characteristics = map[uint16]string{
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a04: "Peripheral Preferred Connection Parameters",
	0x2a05: "Service Changed",
	0x2a06: "Alert Level",
	0x2a07: "Tx Power Level",
	0x2a19: "Battery Level",
	0x2a23: "System ID",
	0x2a24: "Model Number String",
	0x2a25: "Serial Number String",
	0x2a26: "Firmware Revision String",
	0x2a27: "Hardware Revision String",
	0x2a28: "Software Revision String",
	0x2a29: "Manufacturer Name String",
	0x2a2b: "Current Time",
	0x2a35: "Blood Pressure Measurement",
	0x2a37: "Heart Rate Measurement",
	0x2a38: "Body Sensor Location",
	0x2a39: "Heart Rate Control Point",
	0x2a4d: "Report",
	0x2a50: "PnP ID",
	0x2a5b: "CSC Measurement",
	0x2a63: "Cycling Power Measurement",
	0x2a6e: "Temperature",
	0x2a6f: "Humidity",
	0x2a9d: "Weight Measurement",
}

var companies = map[uint16]string{
	0x0006: "Microsoft",
	0x000f: "Broadcom Corporation",
	0x004c: "Apple, Inc.",
	0x0059: "Nordic Semiconductor ASA",
	0x0075: "Samsung Electronics Co. Ltd.",
	0x0087: "Garmin International, Inc.",
	0x00e0: "Google",
	0x0131: "Cypress Semiconductor",
	0x02e5: "Espressif Systems (Shanghai) Co., Ltd.",
}
