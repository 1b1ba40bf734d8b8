package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/journal"
	"github.com/notemirror/notemirror/internal/mirror"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show collection and pass-history statistics",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd.Root())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromViper()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ws, err := mirror.NewWorkspace(cfg.MirrorDir)
			if err != nil {
				return err
			}

			store, err := mirror.LoadStore(ws.StatePath())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			lastRunAt, lastRunStatus := store.LastRun()
			fmt.Fprintf(out, "Mirror: %s\n", ws.Root)
			fmt.Fprintf(out, "Notes tracked: %d\n", store.Len())
			if !lastRunAt.IsZero() {
				fmt.Fprintf(out, "Last pass: %s (%s)\n", lastRunAt.Format(time.RFC3339), lastRunStatus)
			}

			var totalSize uint64
			for _, fp := range store.Snapshot() {
				totalSize += uint64(fp.Size)
			}
			fmt.Fprintf(out, "Collection size: %s\n", humanize.IBytes(totalSize))

			passJournal, err := journal.Open(ws.JournalPath())
			if err != nil {
				return err
			}
			defer passJournal.Close()

			totals, err := passJournal.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Passes recorded: %d\n", totals.Passes)
			fmt.Fprintf(out, "Total downloaded: %d, deleted: %d, rendered: %d, quarantined: %d\n",
				totals.Downloaded, totals.Deleted, totals.Rendered, totals.Quarantined)
			fmt.Fprintf(out, "Total sync time: %s\n", time.Duration(totals.DurationMS)*time.Millisecond)

			recent, err := passJournal.Recent(cmd.Context(), 5)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Fprintln(out, "\nRecent passes:")
				for _, rec := range recent {
					fmt.Fprintf(out, "  %s  listed=%d downloaded=%d deleted=%d unchanged=%d\n",
						rec.StartedAt, rec.Listed, rec.Downloaded, rec.Deleted, rec.Unchanged)
				}
			}
			return nil
		},
	}
	return cmd
}
