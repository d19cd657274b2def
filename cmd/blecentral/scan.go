package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/blecentral"
)

type scanOptions struct {
	duration   time.Duration
	format     string
	services   []string
	allow      []string
	block      []string
	duplicates bool
	watch      bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Discovered devices are listed with their names, addresses, RSSI values and
advertised services once the scan ends. --watch also prints every lifecycle
event (discovered, updated, lost) as it happens.

Examples:
  # Scan for 5 seconds
  blecentral scan -d 5s

  # Only heart rate monitors, as JSON
  blecentral scan --services 180d --format json

  # Follow events until Ctrl+C
  blecentral scan --watch -d 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite); defaults to scan_timeout from config")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&opts.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&opts.allow, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&opts.block, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&opts.duplicates, "duplicates", false, "Report every advertisement, not only changes")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Print events as they happen")
	return cmd
}

// filter validates and converts the filter flags.
func (o *scanOptions) filter() (blecentral.ScanFilter, error) {
	f := blecentral.ScanFilter{AllowDuplicates: o.duplicates}
	for _, s := range o.services {
		id, err := blecentral.ParseUUID(s)
		if err != nil {
			return f, fmt.Errorf("invalid service UUID: %w", err)
		}
		f.Services = append(f.Services, id)
	}
	for _, s := range o.allow {
		addr, err := parseTarget(s)
		if err != nil {
			return f, err
		}
		f.AllowList = append(f.AllowList, addr)
	}
	for _, s := range o.block {
		addr, err := parseTarget(s)
		if err != nil {
			return f, err
		}
		f.BlockList = append(f.BlockList, addr)
	}
	return f, nil
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	duration := opts.duration
	if !cmd.Flags().Changed("duration") {
		duration = s.cfg.ScanTimeout
	}

	// Listen for Ctrl+C to end the scan early
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	adapter, err := s.manager.DefaultAdapter(ctx)
	if err != nil {
		return err
	}

	// Subscribe BEFORE starting the scan so no discovery is missed
	sub := adapter.Subscribe()
	defer sub.Close()

	if err := adapter.StartScan(ctx, filter); err != nil {
		return err
	}

	var progress *ProgressPrinter
	if !opts.watch {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", duration)
		progress.Start()
	}
	printer := newEventPrinter(cmd.OutOrStdout())

	err = watchEvents(ctx, sub, func(ev blecentral.CentralEvent) {
		if !opts.watch {
			return
		}
		var props *blecentral.Properties
		if p, err := adapter.Peripheral(ev.Address); err == nil {
			props = p.Properties()
		}
		printer.Print(ev, props)
	}, s)

	if progress != nil {
		progress.Stop()
	}
	if stopErr := adapter.StopScan(); stopErr != nil {
		s.logger.WithError(stopErr).Warn("Failed to stop scan")
	}
	if err != nil {
		return err
	}

	return displayPeripherals(cmd.OutOrStdout(), adapter.Peripherals(), outputFormat(cmd, s, opts.format))
}

// watchEvents feeds fn until ctx ends. Lag is logged, not fatal; the end of
// ctx is a normal exit.
func watchEvents(ctx context.Context, sub *blecentral.Subscription, fn func(blecentral.CentralEvent), s *session) error {
	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
			fn(ev)
		case errors.Is(err, blecentral.ErrLagged):
			s.logger.WithError(err).Warn("Event consumer fell behind")
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}
