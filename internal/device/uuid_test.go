package device

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "16-bit lowercase", input: "2a37", expected: "00002a37-0000-1000-8000-00805f9b34fb"},
		{name: "16-bit uppercase with 0x prefix", input: "0X2A37", expected: "00002a37-0000-1000-8000-00805f9b34fb"},
		{name: "32-bit short form", input: "0000180d", expected: "0000180d-0000-1000-8000-00805f9b34fb"},
		{name: "full dashed", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "full without dashes", input: "6e400001b5a3f393e0a9e50e24dcca9e", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "surrounding whitespace", input: "  180f ", expected: "0000180f-0000-1000-8000-00805f9b34fb"},
		{name: "empty", input: "", wantErr: true},
		{name: "non hex short form", input: "2g37", wantErr: true},
		{name: "odd length", input: "12345", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUUID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestShortUUID(t *testing.T) {
	assert.Equal(t, "2a37", ShortUUID(MustParseUUID("2a37")))
	assert.Equal(t, "0001180d", ShortUUID(FromShortUUID(0x0001180d)))

	custom := uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	assert.Equal(t, custom.String(), ShortUUID(custom), "vendor UUIDs keep the canonical form")
}

func TestMustParseUUIDPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseUUID("not-a-uuid") })
}
