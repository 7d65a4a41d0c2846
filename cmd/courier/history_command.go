package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/journal"
	"courier/internal/render"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "Show recorded status transitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("the transition journal is disabled (journal.enabled = false)")
			}
			var taskID string
			if len(args) == 1 {
				taskID = strings.TrimSpace(args[0])
			}

			j, err := journal.OpenFromConfig(cfg, ctx.commandLogger())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			entries, err := j.History(cmd.Context(), taskID, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				if taskID != "" {
					fmt.Fprintf(out, "No transitions recorded for %s\n", taskID)
				} else {
					fmt.Fprintln(out, "No transitions recorded")
				}
				return nil
			}
			fmt.Fprintln(out, render.Table(
				[]string{"Time", "Task", "Pipeline", "From", "To", "Reason"},
				historyRows(entries),
				nil,
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of transitions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func historyRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		to := string(e.To)
		if e.Implied {
			to += " (implied)"
		}
		rows = append(rows, []string{
			e.At.Local().Format(time.DateTime),
			e.TaskID,
			string(e.Kind),
			from,
			to,
			e.Reason,
		})
	}
	return rows
}
