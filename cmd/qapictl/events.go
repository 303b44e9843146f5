// ABOUTME: events and watch subcommands
// ABOUTME: Stream QMP events from one endpoint or from every configured monitor

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/qapi/internal/fleet"
	"github.com/2389/qapi/internal/qapi"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		filters []string
		record  bool
		count   int
	)

	cmd := &cobra.Command{
		Use:   "events ENDPOINT",
		Short: "Stream QMP events from one monitor",
		Example: `  qapictl events vm1
  qapictl events vm1 --filter STOP --filter RESUME --record`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, record)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			conn, err := a.connect(ctx, args[0])
			if err != nil {
				return err
			}
			if conn.Protocol() != qapi.ProtocolQMP {
				return fmt.Errorf("%s: %w", args[0], qapi.ErrNoEvents)
			}

			if err := streamEvents(ctx, cmd.OutOrStdout(), a.fleet, filters, count, false); err != nil {
				return err
			}
			return conn.Err()
		},
	}

	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Only show events with this name (repeatable)")
	cmd.Flags().BoolVar(&record, "record", false, "Record events in the journal")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many events (0 = until interrupted)")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var filters []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream and record QMP events from every configured monitor",
		Long: `watch connects to every endpoint in the config file, merges the events
of all QMP monitors and records them in the journal. Endpoints that cannot
be reached are reported and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.cfg.Endpoints) == 0 {
				return fmt.Errorf("no endpoints configured")
			}

			ctx := cmd.Context()
			if err := a.fleet.ConnectAll(ctx, a.cfg); err != nil {
				color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			return streamEvents(ctx, cmd.OutOrStdout(), a.fleet, filters, 0, true)
		},
	}

	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Only show events with this name (repeatable)")
	return cmd
}

// streamEvents prints events until ctx ends, every watched monitor has
// disconnected, or count events were printed.
func streamEvents(ctx context.Context, w io.Writer, mgr *fleet.Manager, filters []string, count int, showEndpoint bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := mgr.Watch(ctx, filters...)
	if err != nil {
		return err
	}

	seen := 0
	for ev := range events {
		printEvent(w, ev, showEndpoint)
		seen++
		if count > 0 && seen >= count {
			return nil
		}
	}
	return nil
}
