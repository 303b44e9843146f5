// ABOUTME: endpoints subcommand
// ABOUTME: Lists configured endpoints and optionally probes them for version and OOB support

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/qapi/internal/fleet"
)

func newEndpointsCmd(opts *rootOptions) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List configured endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			names := a.cfg.EndpointNames()
			if len(names) == 0 {
				fmt.Fprintln(out, "no endpoints configured")
				return nil
			}

			live := map[string]fleet.EndpointInfo{}
			if probe {
				// Unreachable endpoints are shown as down below.
				_ = a.fleet.ConnectAll(cmd.Context(), a.cfg)
				for _, info := range a.fleet.List() {
					live[info.Name] = info
				}
			}

			for _, name := range names {
				ep := a.cfg.Endpoints[name]
				fmt.Fprintf(out, "%-16s %-4s %s:%s", name, ep.Protocol, ep.Network, ep.Address)
				if probe {
					if info, ok := live[name]; !ok {
						color.New(color.FgRed).Fprint(out, "  down")
					} else {
						color.New(color.FgGreen).Fprint(out, "  up")
						if info.Version != "" {
							fmt.Fprintf(out, " qemu %s", info.Version)
						}
						if info.SupportsOOB {
							color.New(color.FgYellow).Fprint(out, " [oob]")
						}
					}
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Connect to each endpoint and report its state")
	return cmd
}
