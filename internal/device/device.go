package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind is the category of a failure surfaced to callers.
type ErrorKind string

const (
	KindDeviceNotFound         ErrorKind = "device_not_found"
	KindNotConnected           ErrorKind = "not_connected"
	KindPermissionDenied       ErrorKind = "permission_denied"
	KindNotSupported           ErrorKind = "not_supported"
	KindCharacteristicNotFound ErrorKind = "characteristic_not_found"
	KindOther                  ErrorKind = "other"
)

// Error is the single error type returned by every central operation.
// Context cancellation and deadline errors are the only exception: they are
// returned unchanged.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return string(e.Kind)
	}
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Predefined sentinel errors, matched by kind
var (
	ErrDeviceNotFound         = &Error{Kind: KindDeviceNotFound}
	ErrNotConnected           = &Error{Kind: KindNotConnected}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied}
	ErrNotSupported           = &Error{Kind: KindNotSupported}
	ErrCharacteristicNotFound = &Error{Kind: KindCharacteristicNotFound}
	ErrOther                  = &Error{Kind: KindOther}

	// ErrCharacteristicsNotDiscovered is returned for characteristic operations on a
	// connected peripheral whose characteristics were never discovered. It matches
	// ErrCharacteristicNotFound.
	ErrCharacteristicsNotDiscovered = &Error{Kind: KindCharacteristicNotFound, Msg: "characteristics not discovered"}
)

// NotSupported reports an operation the platform or the characteristic cannot perform.
func NotSupported(reason string) error {
	return &Error{Kind: KindNotSupported, Msg: reason}
}

// NotConnected reports an operation that needs a live connection.
func NotConnected(msg string) error {
	return &Error{Kind: KindNotConnected, Msg: msg}
}

// DeviceNotFound reports an unknown peripheral address.
func DeviceNotFound(addr Address) error {
	return &Error{Kind: KindDeviceNotFound, Msg: addr.String()}
}

// CharacteristicNotFound reports a characteristic missing from the discovered set.
func CharacteristicNotFound(id uuid.UUID) error {
	return &Error{Kind: KindCharacteristicNotFound, Msg: fmt.Sprintf("characteristic %q not found", ShortUUID(id))}
}

// PermissionDenied wraps a native authorization failure.
func PermissionDenied(cause error) error {
	return &Error{Kind: KindPermissionDenied, Cause: cause}
}

// Other wraps a native failure that fits no other kind.
func Other(cause error) error {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return &Error{Kind: KindOther, Cause: cause}
}

// KindOf returns the kind of err, "" for nil and for context errors, and
// KindOther for anything outside the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil || IsContextError(err) {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsContextError reports cancellation or deadline expiry.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
