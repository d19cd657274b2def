package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNativeDenied = errors.New("native: access denied")

func TestClassify(t *testing.T) {
	classifiers := []Classifier{
		Sentinels(map[error]device.ErrorKind{errNativeDenied: device.KindPermissionDenied}),
		ByMessage(
			MessageRule{Substr: "not connected", Kind: device.KindNotConnected},
			MessageRule{Substr: "not supported", Kind: device.KindNotSupported},
		),
	}

	tests := []struct {
		name      string
		err       error
		target    error
		unhandled bool
	}{
		{name: "not connected by message", err: errors.New("Device Not Connected"), target: device.ErrNotConnected},
		{name: "permission by sentinel", err: fmt.Errorf("op: %w", errNativeDenied), target: device.ErrPermissionDenied},
		{name: "not supported by message", err: errors.New("operation not supported"), target: device.ErrNotSupported},
		{name: "already classified", err: device.NotSupported("x"), target: device.ErrNotSupported},
		{name: "unknown", err: errors.New("weird"), target: device.ErrOther, unhandled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drainUnhandled()

			got := Classify(tt.err, classifiers...)

			require.Error(t, got)
			assert.ErrorIs(t, got, tt.target)
			assert.ErrorIs(t, got, tt.err, "native error stays reachable")
			if tt.unhandled {
				assert.Len(t, unhandled, 1)
			} else {
				assert.Len(t, unhandled, 0)
			}
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.Equal(t, context.Canceled, Classify(context.Canceled))

	wrapped := fmt.Errorf("dial: %w", context.DeadlineExceeded)
	assert.Equal(t, wrapped, Classify(wrapped, nil))
}
