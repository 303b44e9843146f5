// ABOUTME: history subcommand
// ABOUTME: Lists journaled commands or events, newest first

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/qapi/internal/store"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		endpoint string
		command  string
		outcome  string
		events   bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled commands or events",
		Example: `  qapictl history --endpoint vm1
  qapictl history --outcome failed --limit 20
  qapictl history --events --endpoint vm1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			switch store.Outcome(outcome) {
			case "", store.OutcomeOK, store.OutcomeError, store.OutcomeFailed:
			default:
				return fmt.Errorf("--outcome must be ok, error or failed, got %q", outcome)
			}

			j, err := store.NewSQLiteStore(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if events {
				recs, err := j.ListEvents(ctx, store.EventQuery{
					Endpoint: endpoint,
					Name:     command,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				printEventRecords(out, recs)
				return nil
			}

			recs, err := j.ListCommands(ctx, store.CommandQuery{
				Endpoint: endpoint,
				Command:  command,
				Outcome:  store.Outcome(outcome),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			printCommandRecords(out, recs)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Only show this endpoint")
	cmd.Flags().StringVar(&command, "name", "", "Only show this command (or event, with --events)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show commands with this outcome (ok, error, failed)")
	cmd.Flags().BoolVar(&events, "events", false, "Show events instead of commands")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultLimit, fmt.Sprintf("Maximum rows (up to %d)", store.MaxLimit))
	return cmd
}
