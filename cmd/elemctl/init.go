package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/config"
)

// newInitCmd lays out <workspace>/.elemental/ (store, playbooks,
// uploads, default config) and verifies/prepares the git worktree
// workspace. Safe to run repeatedly.
func newInitCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize an Elemental workspace in the current (or given) directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			elemDir := filepath.Join(*workspace, ".elemental")
			for _, dir := range []string{elemDir, filepath.Join(elemDir, "playbooks"), filepath.Join(elemDir, "uploads")} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			configPath := filepath.Join(elemDir, "config.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := config.DefaultConfig().Save(elemDir); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
			}

			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()

			defaultBranch, err := e.worktree.InitWorkspace(context.Background())
			if err != nil {
				return err
			}

			printJSON(map[string]string{
				"workspace":     *workspace,
				"defaultBranch": defaultBranch,
				"status":        "initialized",
			})
			return nil
		},
	}
}
