package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapkeep/internal/api"
	"snapkeep/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var kind string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent captures, uploads, and deletes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var kinds []history.Kind
			if k := strings.TrimSpace(kind); k != "" {
				parsed, err := parseKind(k)
				if err != nil {
					return err
				}
				kinds = append(kinds, parsed)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
				if asJSON {
					return writeJSON(cmd, []api.HistoryEvent{})
				}
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			events, err := store.Recent(cmd.Context(), limit, kinds...)
			if err != nil {
				return fmt.Errorf("query history: %w", err)
			}
			converted := api.FromHistoryEvents(events)
			if asJSON {
				return writeJSON(cmd, converted)
			}
			if len(converted) == 0 {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Kind", "Name", "Result", "Duration"},
				buildHistoryRows(converted),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events to show")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show one kind (capture, upload, delete)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	return cmd
}

func parseKind(value string) (history.Kind, error) {
	switch k := history.Kind(strings.ToLower(value)); k {
	case history.KindCapture, history.KindUpload, history.KindDelete:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want capture, upload, or delete)", value)
	}
}

func buildHistoryRows(events []api.HistoryEvent) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		result := "ok"
		if !ev.Success {
			result = "failed"
			if ev.Error != "" {
				result = "failed: " + truncate(ev.Error, 48)
			}
		}
		rows = append(rows, []string{
			formatTimestamp(ev.At),
			ev.Kind,
			ev.Name,
			result,
			(time.Duration(ev.DurationMs) * time.Millisecond).String(),
		})
	}
	return rows
}

// formatTimestamp renders an API timestamp in local time.
func formatTimestamp(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
