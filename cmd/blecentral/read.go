package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/blecentral"
)

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = `Device address format: AA:BB:CC:DD:EE:FF, or the peripheral UUID on macOS
  Use 'blecentral scan' to discover devices`
)

type readOptions struct {
	service string
	hex     bool
	timeout time.Duration
	watch   string
}

func newReadCmd() *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <device-address> <uuid[,uuid...]>",
		Short: "Read characteristic values",
		Long: fmt.Sprintf(`Connects to a device and reads one or more characteristics.

Examples:
  # Read Battery Level characteristic
  blecentral read %s 2a19 --hex

  # Read several characteristics
  blecentral read %s 2a29,2a24

  # Read with service disambiguation
  blecentral read %s 2a19 --service 180f

  # Poll every 500ms until Ctrl+C
  blecentral read %s 2a37 --watch 500ms

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-read timeout")
	cmd.Flags().StringVar(&opts.watch, "watch", "", "Continuously read at interval (e.g., 1s, 500ms); default 1s if no value given")
	cmd.Flags().Lookup("watch").NoOptDefVal = "1s"
	return cmd
}

func runRead(cmd *cobra.Command, args []string, opts *readOptions) error {
	targets := parseCSVUUIDs(args[1])
	if len(targets) == 0 {
		return fmt.Errorf("no valid UUIDs provided")
	}

	var interval time.Duration
	if opts.watch != "" {
		var err error
		if interval, err = time.ParseDuration(opts.watch); err != nil || interval <= 0 {
			return fmt.Errorf("invalid watch interval %q", opts.watch)
		}
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

	w := cmd.OutOrStdout()
	if interval == 0 {
		return readAll(ctx, w, p, chars, opts)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := readAll(ctx, w, p, chars, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readAll(ctx context.Context, w io.Writer, p *blecentral.Peripheral, chars []blecentral.Characteristic, opts *readOptions) error {
	for _, c := range chars {
		rctx, cancel := context.WithTimeout(ctx, opts.timeout)
		data, err := p.Read(rctx, c)
		cancel()
		if err != nil {
			return fmt.Errorf("read %s: %w", blecentral.ShortUUID(c.UUID), err)
		}
		if len(chars) == 1 {
			fmt.Fprintln(w, formatValue(data, opts.hex))
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", blecentral.ShortUUID(c.UUID), formatValue(data, opts.hex))
	}
	return nil
}
