package main

import (
	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

func newEntityCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{Use: "entity", Short: "Register and list agent/human/system entities"}
	cmd.AddCommand(
		newEntityRegisterCmd(workspace),
		newEntityListCmd(workspace),
	)
	return cmd
}

// newEntityRegisterCmd creates a kind=entity element (an agent, human
// or system actor). Entities carry no kind-specific fields of their own;
// their role lives in metadata.entityType the same way a document's
// format or a channel's topic would.
func newEntityRegisterCmd(workspace *string) *cobra.Command {
	var entityType, createdBy string
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Create(&types.Element{
				Kind:     types.KindEntity,
				Title:    args[0],
				Metadata: map[string]any{"entityType": entityType},
			}, nowUTC(), types.EntityId(createdBy))
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "agent", "entity type (agent, human, system)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "entity id recorded as the registrant")
	return cmd
}

func newEntityListCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.List(store.ElementFilter{Kind: types.KindEntity})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	return cmd
}
