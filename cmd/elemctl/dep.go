package main

import (
	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/pkg/types"
)

func newDepCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{Use: "dep", Short: "Manage dependency edges between elements"}
	cmd.AddCommand(
		newDepAddCmd(workspace),
		newDepRemoveCmd(workspace),
		newDepListCmd(workspace),
		newDepTreeCmd(workspace),
	)
	return cmd
}

func parseDependencyType(s string) (types.DependencyType, error) {
	switch t := types.DependencyType(s); t {
	case types.DepBlocks, types.DepParentChild, types.DepAwaits,
		types.DepRelatesTo, types.DepReferences, types.DepSupersedes,
		types.DepDuplicates, types.DepCausedBy, types.DepValidates,
		types.DepAuthoredBy, types.DepAssignedTo, types.DepApprovedBy, types.DepRepliesTo:
		return t, nil
	default:
		return "", elemerr.Validation("unknown dependency type %q", s)
	}
}

func newDepAddCmd(workspace *string) *cobra.Command {
	var depType, createdBy string
	cmd := &cobra.Command{
		Use:   "add <sourceId> <targetId>",
		Short: "Add a dependency edge from source to target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseDependencyType(depType)
			if err != nil {
				return err
			}
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			d := &types.Dependency{
				SourceID:  types.ElementId(args[0]),
				TargetID:  types.ElementId(args[1]),
				Type:      t,
				CreatedBy: types.EntityId(createdBy),
			}
			if err := e.elements.AddDependency(d, nowUTC()); err != nil {
				return err
			}
			printJSON(d)
			return nil
		},
	}
	cmd.Flags().StringVar(&depType, "type", string(types.DepBlocks), "dependency type, e.g. blocks, parent-child, awaits or relates-to")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "entity id recorded as the edge's creator")
	return cmd
}

func newDepRemoveCmd(workspace *string) *cobra.Command {
	var depType string
	cmd := &cobra.Command{
		Use:   "remove <sourceId> <targetId>",
		Short: "Remove a dependency edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseDependencyType(depType)
			if err != nil {
				return err
			}
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.elements.RemoveDependency(types.ElementId(args[0]), types.ElementId(args[1]), t, nowUTC()); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&depType, "type", string(types.DepBlocks), "dependency type, e.g. blocks, parent-child, awaits or relates-to")
	return cmd
}

func newDepListCmd(workspace *string) *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "list <elementId>",
		Short: "List an element's dependencies or dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			id := types.ElementId(args[0])
			var out []*types.Dependency
			switch direction {
			case "dependents":
				out, err = e.elements.GetDependents(id, nil)
			case "dependencies", "":
				out, err = e.elements.GetDependencies(id, nil)
			default:
				return elemerr.Validation("--direction must be dependencies or dependents")
			}
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "dependencies", "dependencies or dependents")
	return cmd
}

func newDepTreeCmd(workspace *string) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree <elementId>",
		Short: "Show the dependency tree rooted at an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			tree, err := e.elements.GetDependencyTree(types.ElementId(args[0]), depth)
			if err != nil {
				return err
			}
			printJSON(tree)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 3, "maximum hops to descend/ascend")
	return cmd
}
