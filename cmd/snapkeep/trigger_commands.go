package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snapkeep/internal/api"
)

func newTriggerCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSnapshotCommand(ctx),
		newTriggerCommand(ctx, "run", "Capture a snapshot and upload the staging backlog", api.PathRun),
		newTriggerCommand(ctx, "upload", "Upload everything in the staging directory", api.PathUpload),
		newTriggerCommand(ctx, "prune", "Delete remote images older than retention.keep_days", api.PathDelete),
	}
}

// newTriggerCommand forwards a background trigger to the daemon and prints
// its acknowledgement. The work continues after the command returns.
func newTriggerCommand(ctx *commandContext, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				ack, err := client.Trigger(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(ack))
				return nil
			})
		},
	}
}

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture an image now and save it locally without uploading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				data, contentType, err := client.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				target := strings.TrimSpace(output)
				if target == "" {
					target = defaultSnapshotName(contentType, time.Now())
				}
				if dir := filepath.Dir(target); dir != "" {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return fmt.Errorf("create output directory: %w", err)
					}
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes (%s) to %s\n", len(data), contentType, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default snapshot-<time>.<ext> in the current directory)")
	return cmd
}

func defaultSnapshotName(contentType string, now time.Time) string {
	ext := "jpg"
	if sub, ok := strings.CutPrefix(contentType, "image/"); ok && sub != "" && sub != "jpeg" {
		ext = sub
	}
	return fmt.Sprintf("snapshot-%s.%s", now.Format("2006-01-02-15-04-05"), ext)
}
