package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/localstore"
	"github.com/openmined/treesync/internal/treesync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLocalCmd())
}

func newLocalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Edit the local store directly",
	}
	cmd.AddCommand(
		newLocalPutCmd(),
		newLocalMkdirCmd(),
		newLocalRmCmd(),
		newLocalMvCmd(),
		newLocalLsCmd(),
		newLocalCatCmd(),
	)
	return cmd
}

// withStore runs fn in one store transaction, committed when fn succeeds.
func withStore(cmd *cobra.Command, fn func(tx *localstore.Tx) error) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.store.Update(cmd.Context(), fn)
}

func newLocalPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Write a file into the store from a file on disk or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 1 || args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}

			return withStore(cmd, func(tx *localstore.Tx) error {
				path, err := tx.PutFile(cmd.Context(), args[0], data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", green("put"), path, humanize.Bytes(uint64(len(data))))
				return nil
			})
		},
	}
}

func newLocalMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(tx *localstore.Tx) error {
				path, err := tx.MakeDir(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("mkdir"), path)
				return nil
			})
		},
	}
}

func newLocalRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or a directory tree from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(tx *localstore.Tx) error {
				if err := tx.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("rm"), args[0])
				return nil
			})
		},
	}
}

func newLocalMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Move or rename a file or directory in the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(tx *localstore.Tx) error {
				to, err := tx.Move(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", yellow("mv"), args[0], to)
				return nil
			})
		},
	}
}

func newLocalLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory of the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := treesync.RootPath
			if len(args) == 1 {
				dir = treesync.NormalizePath(args[0], true)
			}
			return withStore(cmd, func(tx *localstore.Tx) error {
				nodes, err := tx.List(cmd.Context(), dir)
				if err != nil {
					return err
				}
				writeListing(cmd.OutOrStdout(), nodes)
				return nil
			})
		},
	}
}

func newLocalCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the content of a file in the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(tx *localstore.Tx) error {
				data, err := tx.Content(cmd.Context(), treesync.NormalizePath(args[0], false))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func writeListing(w io.Writer, nodes []localstore.Node) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, n := range nodes {
		name, size := treesync.BaseName(n.Path), humanize.Bytes(uint64(n.Size))
		if n.IsDir() {
			name, size = name+treesync.Separator, "-"
		}
		id := n.ID
		if id == "" {
			id = "(unlinked)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, size, n.LastModified.Local().Format("2006-01-02 15:04"), id)
	}
	tw.Flush()
}
