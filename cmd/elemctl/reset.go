package main

import (
	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/daemon"
)

// newResetCmd removes the workspace's persisted state, preserving
// config.yaml and playbooks unless --full is given. It does not attempt
// to terminate a running elementald itself (out of scope for the core;
// see elementald's own --reset flag, which the daemon process runs
// before it would otherwise bind its listening socket).
func newResetCmd(workspace *string) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove persisted daemon state for this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.Reset(*workspace, full); err != nil {
				return err
			}
			printJSON(map[string]string{"status": "reset"})
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also remove config.yaml and the playbooks/, uploads/ and .worktrees/ directories")
	return cmd
}
