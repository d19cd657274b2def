package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsComparesKind(t *testing.T) {
	cause := errors.New("gatt: insufficient authorization")

	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{name: "sentinel matches itself", err: ErrNotConnected, target: ErrNotConnected, want: true},
		{name: "constructed matches sentinel", err: NotSupported("no notify"), target: ErrNotSupported, want: true},
		{name: "wrapped matches sentinel", err: fmt.Errorf("read: %w", ErrNotConnected), target: ErrNotConnected, want: true},
		{name: "different kinds", err: ErrNotConnected, target: ErrPermissionDenied, want: false},
		{name: "not discovered is a not found", err: ErrCharacteristicsNotDiscovered, target: ErrCharacteristicNotFound, want: true},
		{name: "permission keeps cause", err: PermissionDenied(cause), target: cause, want: true},
		{name: "other keeps cause", err: Other(cause), target: cause, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "not_connected", ErrNotConnected.Error())
	assert.Equal(t, "not_supported: no notify", NotSupported("no notify").Error())
	assert.Equal(t, "other: boom", Other(errors.New("boom")).Error())
	assert.Equal(t, `characteristic_not_found: characteristic "2a37" not found`, CharacteristicNotFound(MustParseUUID("2a37")).Error())
	assert.Equal(t, "device_not_found: AA:BB:CC:DD:EE:FF", DeviceNotFound(MustParseAddress("AA:BB:CC:DD:EE:FF")).Error())
	assert.Equal(t, "other: unknown error", Other(nil).Error())

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(ErrOther))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrorKind(""), KindOf(context.Canceled))
	assert.Equal(t, ErrorKind(""), KindOf(fmt.Errorf("connect: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindNotConnected, KindOf(fmt.Errorf("x: %w", ErrNotConnected)))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
}

func TestEventString(t *testing.T) {
	ev := CentralEvent{Type: DeviceDiscovered, Address: MustParseAddress("AA:BB:CC:DD:EE:FF")}
	assert.Equal(t, "discovered AA:BB:CC:DD:EE:FF", ev.String())
	assert.Equal(t, "event(42)", EventType(42).String())
}
