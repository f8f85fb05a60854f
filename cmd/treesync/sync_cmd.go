package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run sync passes against the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			engine, err := a.engine()
			if err != nil {
				return err
			}

			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				if err := engine.Start(cmd.Context()); err != nil {
					return err
				}
				<-cmd.Context().Done()
				engine.Stop()
				slog.Info("Bye!")
				return nil
			}

			flag, _ := cmd.Flags().GetString("direction")
			dirs, err := a.directions(flag)
			if err != nil {
				return err
			}
			for _, dir := range dirs {
				report, err := engine.RunPass(cmd.Context(), dir)
				if err != nil {
					return fmt.Errorf("%s pass: %w", dir, err)
				}
				writeReport(cmd.OutOrStdout(), report)
			}
			return nil
		},
	}
	cmd.Flags().String("direction", "", "run only this direction: pull or push")
	cmd.Flags().Bool("watch", false, "keep running passes on the configured interval")
	return cmd
}

func writeReport(w io.Writer, r *sync.PassReport) {
	header := fmt.Sprintf("%s pass in %s", cyan(r.Direction), r.Duration.Round(time.Millisecond))
	if !r.HasChanges() {
		fmt.Fprintf(w, "%s: %s\n", header, green("up to date"))
		return
	}
	fmt.Fprintf(w, "%s: %s applied, %d fetched\n", header, humanize.Comma(int64(r.Total())), r.Fetched)

	for _, t := range slices.Sorted(maps.Keys(r.Applied)) {
		fmt.Fprintf(w, "  %-40s %d\n", t, r.Applied[t])
	}

	if r.Deferred > 0 {
		fmt.Fprintf(w, "  deferred %d, settled %d in %d rounds\n", r.Deferred, r.Settled, r.Rounds)
	}
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(w, "  %s %s\n", red("conflicts:"), strings.Join(r.Conflicts, ", "))
	}
	if r.Dropped > 0 {
		fmt.Fprintf(w, "  %s %d actions held back\n", yellow("dropped:"), r.Dropped)
	}
	if r.Resolved > 0 {
		fmt.Fprintf(w, "  resolved %d conflicts\n", r.Resolved)
	}
}
