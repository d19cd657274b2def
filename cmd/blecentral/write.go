package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/blecentral"
)

type writeOptions struct {
	service    string
	hex        bool
	noResponse bool
	timeout    time.Duration
}

func newWriteCmd() *cobra.Command {
	opts := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device-address> <uuid> <data>",
		Short: "Write to a characteristic",
		Long: fmt.Sprintf(`Connects to a device and writes data to a characteristic.

Examples:
  # Write to characteristic (string data)
  blecentral write %s 2a06 "high"

  # Write hex data
  blecentral write %s 2a06 01 --hex

  # Write without response (faster, no ACK)
  blecentral write %s 2a06 "data" --without-response

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	cmd.Flags().BoolVar(&opts.noResponse, "without-response", false, "Write without response (faster, no ACK); default waits for ACK")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Write timeout")
	return cmd
}

// parseWriteData decodes the data argument: hex digits (spaces and a 0x
// prefix allowed) with --hex, the literal bytes otherwise.
func parseWriteData(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	clean := strings.NewReplacer(" ", "", ":", "").Replace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string, opts *writeOptions) error {
	data, err := parseWriteData(args[2], opts.hex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("data required: provide a non-empty value")
	}
	wt := blecentral.WithResponse
	if opts.noResponse {
		wt = blecentral.WithoutResponse
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s on %s", len(data), args[1], args[0]), 0)
	progress.Start()
	p, err := s.connect(ctx, args[0])
	progress.Stop()
	if err != nil {
		return err
	}

	c, err := resolveCharacteristic(p.Characteristics(), args[1], opts.service)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := p.Write(wctx, c, data, wt); err != nil {
		return fmt.Errorf("write %s: %w", blecentral.ShortUUID(c.UUID), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s (%s)\n", len(data), blecentral.ShortUUID(c.UUID), wt)
	return nil
}
