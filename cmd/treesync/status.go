package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/localstore"
	"github.com/openmined/treesync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

type status struct {
	Root      string
	Remote    string
	Username  string
	Password  string
	Policy    string
	LastPull  time.Time
	LastPush  time.Time
	Stats     localstore.Stats
	Generated time.Time
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workspace, its store and the last sync times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st := status{
				Root:      a.ws.Root,
				Remote:    a.cfg.RemoteURL,
				Username:  a.cfg.Username,
				Password:  utils.MaskSecret(a.cfg.Password),
				Policy:    a.cfg.Policy,
				Generated: time.Now(),
			}
			err = a.store.View(cmd.Context(), func(tx *localstore.Tx) error {
				return readStatus(cmd.Context(), tx, &st)
			})
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func readStatus(ctx context.Context, tx *localstore.Tx, st *status) error {
	var err error
	if st.LastPull, err = tx.LastSync(ctx, sync.DirectionPull.Source()); err != nil {
		return err
	}
	if st.LastPush, err = tx.LastSync(ctx, sync.DirectionPush.Source()); err != nil {
		return err
	}
	st.Stats, err = tx.Stats(ctx)
	return err
}

func writeStatus(w io.Writer, st status) {
	remote := st.Remote
	if remote == "" {
		remote = yellow("not configured")
	}
	fmt.Fprintf(w, "%-10s %s\n", cyan("Workspace"), st.Root)
	fmt.Fprintf(w, "%-10s %s\n", cyan("Remote"), remote)
	if st.Username != "" {
		fmt.Fprintf(w, "%-10s %s / %s\n", cyan("Login"), st.Username, st.Password)
	}
	if st.Policy != "" {
		fmt.Fprintf(w, "%-10s %s\n", cyan("Policy"), st.Policy)
	}
	fmt.Fprintf(w, "%-10s %s\n", cyan("Last pull"), since(st.LastPull, st.Generated))
	fmt.Fprintf(w, "%-10s %s\n", cyan("Last push"), since(st.LastPush, st.Generated))
	fmt.Fprintf(w, "%-10s %d files, %d directories, %s\n", cyan("Store"),
		st.Stats.Files, st.Stats.Dirs, humanize.Bytes(uint64(st.Stats.TotalSize)))
	if st.Stats.Unlinked > 0 {
		fmt.Fprintf(w, "%-10s %d records not yet on the remote\n", yellow("Pending"), st.Stats.Unlinked)
	}
}

func since(t, now time.Time) string {
	if t.IsZero() {
		return yellow("never")
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
