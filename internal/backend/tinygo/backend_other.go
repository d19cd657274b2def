//go:build !linux && !darwin

// Package tinygo is the platform backend over tinygo.org/x/bluetooth.
package tinygo

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
)

// Name identifies this backend in configuration.
const Name = "tinygo"

// Options configures a Backend.
type Options struct {
	NotificationBuffer int
	Logger             *logrus.Logger
}

// New reports that this build has no tinygo backend.
func New(Options) (central.Backend, error) {
	return nil, device.NotSupported("tinygo backend is built for linux and darwin only")
}
