package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/blecentral"
)

type adapterView struct {
	blecentral.AdapterInfo
	Backend string `json:"backend"`
}

func newAdaptersCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List local Bluetooth adapters",
		Long: `Lists the Bluetooth controllers the selected backend can drive.

On Linux controllers are enumerated through BlueZ; elsewhere the system
default controller is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdapters(cmd, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func runAdapters(cmd *cobra.Command, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	format = outputFormat(cmd, s, format)

	adapters, err := s.manager.Adapters(cmd.Context())
	if err != nil {
		return err
	}

	views := make([]adapterView, len(adapters))
	for i, a := range adapters {
		views[i] = adapterView{AdapterInfo: a.Info(), Backend: a.BackendName()}
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDRESS\tNAME\tPOWERED\tBACKEND")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", v.ID, v.Address, v.Name, v.Powered, v.Backend)
	}
	return tw.Flush()
}
