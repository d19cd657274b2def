package bridge

import (
	"errors"
	"strings"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/platform"
)

// Classifier maps a native error to a taxonomy error, or returns nil when it
// does not recognise it.
type Classifier func(err error) error

// Classify converts err into the error taxonomy.
//
// nil stays nil, context errors and errors already in the taxonomy pass
// through, each classifier gets a chance in order, and anything left is
// reported to the platform runtime and wrapped as an Other error.
func Classify(err error, classifiers ...Classifier) error {
	if err == nil {
		return nil
	}
	if device.IsContextError(err) {
		return err
	}
	var known *device.Error
	if errors.As(err, &known) {
		return err
	}

	for _, classify := range classifiers {
		if classify == nil {
			continue
		}
		if mapped := classify(err); mapped != nil {
			return mapped
		}
	}

	platform.Must().ReportUnhandled(err)
	return device.Other(err)
}

// MessageRule maps errors whose message contains Substr (case-insensitive) to Kind.
type MessageRule struct {
	Substr string
	Kind   device.ErrorKind
}

// ByMessage builds a Classifier from substring rules. The first matching rule
// wins and the native error is kept as the cause.
func ByMessage(rules ...MessageRule) Classifier {
	return func(err error) error {
		msg := strings.ToLower(err.Error())
		for _, r := range rules {
			if strings.Contains(msg, strings.ToLower(r.Substr)) {
				return &device.Error{Kind: r.Kind, Cause: err}
			}
		}
		return nil
	}
}

// Sentinels builds a Classifier that maps errors matching a native sentinel
// (errors.Is) to a kind.
func Sentinels(table map[error]device.ErrorKind) Classifier {
	return func(err error) error {
		for native, kind := range table {
			if errors.Is(err, native) {
				return &device.Error{Kind: kind, Cause: err}
			}
		}
		return nil
	}
}
