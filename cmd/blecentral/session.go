package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/blecentral"
	"github.com/srg/blecentral/pkg/config"
)

// closeTimeout bounds the disconnect work done when a command exits.
const closeTimeout = 5 * time.Second

// managerOptions are appended to the options of every Manager a command
// builds (can be overridden in tests)
var managerOptions []blecentral.Option

// session carries what every command needs: configuration, logger and the
// library manager.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *blecentral.Manager
}

// newSession validates flags and builds the manager. Usage is silenced once
// arguments are accepted, so runtime errors do not print help.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := append([]blecentral.Option{blecentral.WithLogger(logger)}, managerOptions...)
	manager, err := blecentral.NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, manager: manager}, nil
}

// Close releases every adapter, disconnecting what the command connected.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.manager.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to close BLE manager cleanly")
	}
}

// parseTarget accepts a MAC address or, for CoreBluetooth, a peripheral UUID.
func parseTarget(s string) (blecentral.Address, error) {
	if addr, err := blecentral.ParseAddress(s); err == nil {
		return addr, nil
	}
	if _, err := blecentral.ParseUUID(s); err == nil && len(s) >= 32 {
		return blecentral.AddressFromIdentifier(s), nil
	}
	return blecentral.Address{}, fmt.Errorf("invalid device address %q: expected AA:BB:CC:DD:EE:FF or a peripheral UUID", s)
}

// connect scans for the target until it advertises, then connects and
// discovers its characteristics. The whole sequence is bounded by
// Config.ConnectTimeout.
func (s *session) connect(ctx context.Context, target string) (*blecentral.Peripheral, error) {
	addr, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	adapter, err := s.manager.DefaultAdapter(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	p, err := adapter.Peripheral(addr)
	if err != nil {
		if err := adapter.StartScan(ctx, blecentral.ScanFilter{AllowList: []blecentral.Address{addr}}); err != nil {
			return nil, err
		}
		p, err = adapter.WaitForPeripheral(ctx, addr)
		if stopErr := adapter.StopScan(); stopErr != nil {
			s.logger.WithError(stopErr).Debug("Failed to stop scan")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("no advertisement within %s: %w", s.cfg.ConnectTimeout, blecentral.DeviceNotFound(addr))
		}
		if err != nil {
			return nil, err
		}
	}

	s.logger.WithField("address", addr).Info("Connecting...")
	if err := p.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := p.DiscoverCharacteristics(ctx); err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}
	return p, nil
}
