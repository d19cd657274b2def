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

type subscribeOptions struct {
	service    string
	hex        bool
	count      int
	timestamps bool
}

func newSubscribeCmd() *cobra.Command {
	opts := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe <device-address> <uuid[,uuid...]>",
		Short: "Subscribe to characteristic notifications",
		Long: fmt.Sprintf(`Connects to a device, enables notifications and prints every value received
until Ctrl+C, the device disconnects, or --count values arrived.

Examples:
  # Heart rate measurements as hex
  blecentral subscribe %s 2a37 --hex

  # Several characteristics with arrival times
  blecentral subscribe %s 2a6e,2a6f --timestamps

  # Stop after 10 values
  blecentral subscribe %s 2a37 --count 10

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Output as hex string; raw bytes by default")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Exit after this many notifications (0 for unlimited)")
	cmd.Flags().BoolVar(&opts.timestamps, "timestamps", false, "Prefix every value with its arrival time")
	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string, opts *subscribeOptions) error {
	if opts.count < 0 {
		return fmt.Errorf("invalid count %d", opts.count)
	}
	if len(parseCSVUUIDs(args[1])) == 0 {
		return fmt.Errorf("no valid UUIDs provided")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+args[0], 0)
	progress.Start()
	p, err := s.connect(ctx, args[0])
	progress.Stop()
	if err != nil {
		return err
	}

	chars, err := resolveCharacteristics(p.Characteristics(), args[1], opts.service)
	if err != nil {
		return err
	}

	// Open the stream BEFORE enabling notifications so no value is missed
	stream, err := p.Notifications(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	for _, c := range chars {
		if err := p.Subscribe(ctx, c); err != nil {
			return fmt.Errorf("subscribe %s: %w", blecentral.ShortUUID(c.UUID), err)
		}
	}
	defer unsubscribeAll(s, p, chars)

	w := cmd.OutOrStdout()
	for received := 0; opts.count == 0 || received < opts.count; received++ {
		v, err := stream.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, blecentral.ErrStreamClosed):
			return ErrConnectionLost
		default:
			return err
		}

		line := formatValue(v.Value, opts.hex)
		if len(chars) > 1 {
			line = blecentral.ShortUUID(v.UUID) + ": " + line
		}
		if opts.timestamps {
			line = "[" + timestamp(time.Now()) + "] " + line
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// unsubscribeAll disables notifications on a still connected peripheral.
func unsubscribeAll(s *session, p *blecentral.Peripheral, chars []blecentral.Characteristic) {
	if p.State() != blecentral.StateConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for _, c := range chars {
		if err := p.Unsubscribe(ctx, c); err != nil {
			s.logger.WithError(err).WithField("char", blecentral.ShortUUID(c.UUID)).Warn("Failed to unsubscribe")
		}
	}
}
