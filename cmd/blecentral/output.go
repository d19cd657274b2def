package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blecentral/pkg/blecentral"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	if !slices.Contains(validFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}
	return nil
}

// outputFormat returns the --format flag when given, the configured
// output_format otherwise.
func outputFormat(cmd *cobra.Command, s *session, flag string) string {
	if cmd.Flags().Changed("format") {
		return flag
	}
	return s.cfg.OutputFormat
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// eventPrinter writes one line per CentralEvent, coloured on terminals.
type eventPrinter struct {
	w      io.Writer
	colors map[blecentral.EventType]*color.Color
}

func newEventPrinter(w io.Writer) *eventPrinter {
	colors := map[blecentral.EventType]*color.Color{
		blecentral.DeviceDiscovered:   color.New(color.FgGreen),
		blecentral.DeviceUpdated:      color.New(color.Faint),
		blecentral.DeviceConnected:    color.New(color.FgCyan),
		blecentral.DeviceDisconnected: color.New(color.FgYellow),
		blecentral.DeviceLost:         color.New(color.FgRed),
	}
	tty := isTerminal(w)
	for _, c := range colors {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &eventPrinter{w: w, colors: colors}
}

func (p *eventPrinter) Print(ev blecentral.CentralEvent, props *blecentral.Properties) {
	label := fmt.Sprintf("%-12s", ev.Type)
	if c, ok := p.colors[ev.Type]; ok {
		label = c.Sprint(label)
	}
	line := fmt.Sprintf("%s %s", label, ev.Address)
	if props != nil {
		if name := props.Name(); name != "" {
			line += fmt.Sprintf(" %q", name)
		}
		if props.RSSI != nil {
			line += fmt.Sprintf(" %d dBm", *props.RSSI)
		}
	}
	fmt.Fprintln(p.w, line)
}

// formatValue renders a characteristic value as hex or as raw bytes.
func formatValue(data []byte, asHex bool) string {
	if asHex {
		return strings.ToUpper(hex.EncodeToString(data))
	}
	return string(data)
}

// peripheralView is the JSON and table shape of a peripheral.
type peripheralView struct {
	Address          string            `json:"address"`
	AddressType      string            `json:"address_type"`
	Name             string            `json:"name,omitempty"`
	RSSI             *int16            `json:"rssi,omitempty"`
	TxPower          *int16            `json:"tx_power,omitempty"`
	Connectable      *bool             `json:"connectable,omitempty"`
	Services         []string          `json:"services"`
	ManufacturerData map[string]string `json:"manufacturer_data,omitempty"`
	ServiceData      map[string]string `json:"service_data,omitempty"`
	DiscoveryCount   uint32            `json:"discovery_count"`
	State            string            `json:"state"`
}

func newPeripheralView(p *blecentral.Peripheral) peripheralView {
	props := p.Properties()
	v := peripheralView{
		Address:        props.Address.String(),
		AddressType:    props.AddressType.String(),
		Name:           props.Name(),
		RSSI:           props.RSSI,
		TxPower:        props.TxPowerLevel,
		Connectable:    props.Connectable,
		Services:       make([]string, 0, len(props.Services)),
		DiscoveryCount: props.DiscoveryCount,
		State:          p.State().String(),
	}
	for _, s := range props.Services {
		v.Services = append(v.Services, blecentral.ShortUUID(s))
	}
	if len(props.ManufacturerData) > 0 {
		v.ManufacturerData = make(map[string]string, len(props.ManufacturerData))
		for company, data := range props.ManufacturerData {
			v.ManufacturerData[fmt.Sprintf("0x%04x", company)] = hex.EncodeToString(data)
		}
	}
	if len(props.ServiceData) > 0 {
		v.ServiceData = make(map[string]string, len(props.ServiceData))
		for id, data := range props.ServiceData {
			v.ServiceData[blecentral.ShortUUID(id)] = hex.EncodeToString(data)
		}
	}
	return v
}

// displayPeripherals prints peripherals sorted by signal strength, strongest first.
func displayPeripherals(w io.Writer, peripherals []*blecentral.Peripheral, format string) error {
	views := make([]peripheralView, len(peripherals))
	for i, p := range peripherals {
		views[i] = newPeripheralView(p)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return rssiOf(views[i]) > rssiOf(views[j])
	})

	if format == "json" {
		return writeJSON(w, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES\tSEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, v := range views {
		name := v.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(v.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		rssi := "-"
		if v.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *v.RSSI)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dx\n", name, v.Address, rssi, services, v.DiscoveryCount)
	}
	return tw.Flush()
}

func rssiOf(v peripheralView) int {
	if v.RSSI == nil {
		return -1 << 15
	}
	return int(*v.RSSI)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// timestamp formats notification arrival times.
func timestamp(t time.Time) string {
	return t.Format("15:04:05.000")
}
