package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/pkg/blecentral"
)

type inspectOptions struct {
	format      string
	readLimit   int
	readTimeout time.Duration
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <device-address>",
		Short: "Inspect services and characteristics of a BLE device",
		Long: fmt.Sprintf(`Connects to a BLE device, discovers its characteristics and prints them
grouped by service, with Bluetooth SIG names where known. Readable
characteristics are read unless --read-limit is 0.

Examples:
  # Human readable profile
  blecentral inspect %s

  # JSON, without reading values
  blecentral inspect %s --format json --read-limit 0

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().IntVar(&opts.readLimit, "read-limit", 64, "Max bytes shown per readable characteristic (0 to disable reads)")
	cmd.Flags().DurationVar(&opts.readTimeout, "read-timeout", 2*time.Second, "Per-read timeout")
	return cmd
}

type characteristicView struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name,omitempty"`
	Flags string `json:"flags"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type serviceView struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []characteristicView `json:"characteristics"`
}

type profileView struct {
	Address       string        `json:"address"`
	Name          string        `json:"name,omitempty"`
	Manufacturers []string      `json:"manufacturers,omitempty"`
	Services      []serviceView `json:"services"`
}

func runInspect(cmd *cobra.Command, target string, opts *inspectOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	if opts.readLimit < 0 {
		return fmt.Errorf("invalid read limit %d", opts.readLimit)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Inspecting device "+target, 0)
	progress.Start()
	p, err := s.connect(ctx, target)
	if err != nil {
		progress.Stop()
		return err
	}
	view := buildProfile(ctx, p, opts)
	progress.Stop()

	if outputFormat(cmd, s, opts.format) == "json" {
		return writeJSON(cmd.OutOrStdout(), view)
	}
	return printProfile(cmd.OutOrStdout(), view)
}

// buildProfile groups the discovered characteristics by service, in
// characteristic order, and reads the readable ones. Read failures are recorded
// per characteristic.
func buildProfile(ctx context.Context, p *blecentral.Peripheral, opts *inspectOptions) profileView {
	props := p.Properties()
	view := profileView{
		Address:  p.Address().String(),
		Name:     props.Name(),
		Services: []serviceView{},
	}

	companies := make([]uint16, 0, len(props.ManufacturerData))
	for id := range props.ManufacturerData {
		companies = append(companies, id)
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i] < companies[j] })
	for _, id := range companies {
		name := bledb.LookupCompany(id)
		if name == "" {
			name = fmt.Sprintf("0x%04x", id)
		}
		view.Manufacturers = append(view.Manufacturers, name)
	}

	index := make(map[blecentral.UUID]int)
	for _, c := range p.Characteristics() {
		i, ok := index[c.Service]
		if !ok {
			i = len(view.Services)
			index[c.Service] = i
			view.Services = append(view.Services, serviceView{
				UUID: blecentral.ShortUUID(c.Service),
				Name: bledb.LookupService(c.Service),
			})
		}

		cv := characteristicView{
			UUID:  blecentral.ShortUUID(c.UUID),
			Name:  bledb.LookupCharacteristic(c.UUID),
			Flags: c.Flags.String(),
		}
		if opts.readLimit > 0 && c.Flags.Has(blecentral.CharRead) {
			rctx, cancel := context.WithTimeout(ctx, opts.readTimeout)
			data, err := p.Read(rctx, c)
			cancel()
			if err != nil {
				cv.Error = err.Error()
			} else {
				if len(data) > opts.readLimit {
					data = data[:opts.readLimit]
				}
				cv.Value = strings.ToUpper(hex.EncodeToString(data))
			}
		}
		view.Services[i].Characteristics = append(view.Services[i].Characteristics, cv)
	}
	return view
}

func printProfile(w io.Writer, view profileView) error {
	header := "Device " + view.Address
	if view.Name != "" {
		header += fmt.Sprintf(" %q", view.Name)
	}
	fmt.Fprintln(w, header)
	if len(view.Manufacturers) > 0 {
		fmt.Fprintf(w, "Manufacturer: %s\n", strings.Join(view.Manufacturers, ", "))
	}
	if len(view.Services) == 0 {
		fmt.Fprintln(w, "No characteristics discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, svc := range view.Services {
		fmt.Fprintf(tw, "\nService %s\t%s\n", svc.UUID, svc.Name)
		for _, c := range svc.Characteristics {
			value := c.Value
			if c.Error != "" {
				value = "error: " + c.Error
			}
			fmt.Fprintf(tw, "  %s\t%s\t[%s]\t%s\n", c.UUID, c.Name, c.Flags, value)
		}
	}
	return tw.Flush()
}
