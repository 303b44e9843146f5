// ABOUTME: exec and ping subcommands
// ABOUTME: Run one command on an endpoint and print the reply, or check that it answers

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/qapi/internal/qapi"
	"github.com/2389/qapi/internal/qga"
	"github.com/2389/qapi/internal/qmp"
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	var oob bool

	cmd := &cobra.Command{
		Use:   "exec ENDPOINT COMMAND [JSON-ARGS]",
		Short: "Execute a command and print its return value",
		Example: `  qapictl exec vm1 query-status
  qapictl exec vm1 human-monitor-command '{"command-line":"info block"}'
  qapictl exec /run/qemu/vm1.sock x-oob-test '{"lock":false}' --oob`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cmdArgs json.RawMessage
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("arguments are not valid JSON: %s", args[2])
				}
				cmdArgs = json.RawMessage(args[2])
			}

			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if _, err := a.connect(ctx, args[0]); err != nil {
				return err
			}

			ret, err := a.fleet.Execute(ctx, args[0], args[1], cmdArgs, oob)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ret)
		},
	}

	cmd.Flags().BoolVar(&oob, "oob", false, "Send as exec-oob (the monitor must have the oob capability)")
	return cmd
}

func newPingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping ENDPOINT",
		Short: "Check that a monitor or guest agent answers",
		Long: `ping sends query-status to a QMP monitor or guest-ping to a guest agent
and reports the round trip time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			conn, err := a.connect(ctx, args[0])
			if err != nil {
				return err
			}

			command := qmp.QueryStatus{}.CommandName()
			if conn.Protocol() == qapi.ProtocolQGA {
				command = qga.GuestPing{}.CommandName()
			}

			started := time.Now()
			ret, err := a.fleet.Execute(ctx, args[0], command, nil, false)
			if err != nil {
				return err
			}
			rtt := time.Since(started)

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprint(out, "pong")
			fmt.Fprintf(out, " from %s", args[0])
			if conn.Protocol() == qapi.ProtocolQMP {
				var status qmp.StatusInfo
				if err := json.Unmarshal(ret, &status); err == nil {
					fmt.Fprintf(out, " (%s)", status.Status)
				}
			}
			fmt.Fprintf(out, " time=%s\n", rtt.Round(time.Microsecond))
			return nil
		},
	}
}
