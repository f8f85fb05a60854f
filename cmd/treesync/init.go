package main

import (
	"fmt"

	"github.com/openmined/treesync/internal/client/workspace"
	"github.com/openmined/treesync/internal/localstore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config and create an empty local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if policy, _ := cmd.Flags().GetString("policy"); policy != "" {
				cfg.Policy = policy
			}
			if cmd.Flags().Changed("detect-conflicts") {
				detect, _ := cmd.Flags().GetBool("detect-conflicts")
				cfg.DetectConflicts = &detect
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ws, err := workspace.NewWorkspace(cfg.DataDir)
			if err != nil {
				return err
			}
			if err := ws.Setup(); err != nil {
				return err
			}
			defer ws.Unlock()

			store, err := localstore.Open(cmd.Context(), ws.StorePath)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}

			if err := cfg.Save(cfg.Path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("Initialized"), ws.Root)
			fmt.Fprintf(out, "%s %s\n", cyan("Remote:"), cfg.RemoteURL)
			fmt.Fprintf(out, "%s %s\n", cyan("Config:"), cfg.Path)
			return nil
		},
	}
	cmd.Flags().String("policy", "", "conflict policy: track, stop or resolve")
	cmd.Flags().Bool("detect-conflicts", true, "look for conflicts before applying changes")
	return cmd
}
