package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/playbook"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/internal/workflow"
	"github.com/elemental/daemon/pkg/types"
)

func newWorkflowCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Pour, inspect and retire workflows"}
	cmd.AddCommand(
		newWorkflowPourCmd(workspace),
		newWorkflowListCmd(workspace),
		newWorkflowShowCmd(workspace),
		newWorkflowTasksCmd(workspace),
		newWorkflowProgressCmd(workspace),
		newWorkflowSquashCmd(workspace),
		newWorkflowBurnCmd(workspace),
		newWorkflowGCCmd(workspace),
	)
	return cmd
}

// parseVarFlags turns repeated --var key=value flags into a variables
// map, coercing unquoted booleans and numbers so playbook variable
// types line up without the caller quoting JSON.
func parseVarFlags(vars []string) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(vars))
	for _, kv := range vars {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, elemerr.Validation("--var expects key=value, got %q", kv)
		}
		switch {
		case value == "true":
			out[key] = true
		case value == "false":
			out[key] = false
		default:
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				out[key] = n
			} else {
				out[key] = value
			}
		}
	}
	return out, nil
}

func newWorkflowPourCmd(workspace *string) *cobra.Command {
	var ephemeral, dryRun bool
	var title, createdBy string
	var varFlags []string
	cmd := &cobra.Command{
		Use:   "pour <playbookIdOrName>",
		Short: "Instantiate a playbook into a workflow and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVarFlags(varFlags)
			if err != nil {
				return err
			}
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()

			def, err := workflow.ResolvePlaybook(e.elements, e.loader, args[0])
			if err != nil {
				if playbook.IsNotFound(err) {
					return elemerr.NotFound("playbook", args[0])
				}
				return err
			}
			if err := playbook.Validate(def); err != nil {
				return elemerr.Validation("%s", err.Error())
			}

			in := workflow.PourInput{
				Playbook:  def,
				Variables: variables,
				Ephemeral: ephemeral,
				Title:     title,
				CreatedBy: types.EntityId(createdBy),
			}
			if dryRun {
				preview, err := e.workflow.PreviewPour(in)
				if err != nil {
					return err
				}
				printJSON(preview)
				return nil
			}
			result, err := e.workflow.Pour(in, nowUTC())
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "playbook variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "instantiate as an ephemeral (GC-eligible) workflow")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the pour without creating any elements")
	cmd.Flags().StringVar(&title, "title", "", "override the workflow's title")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "entity id recorded as the workflow's creator")
	return cmd
}

func newWorkflowListCmd(workspace *string) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.List(store.ElementFilter{Kind: types.KindWorkflow, Status: status, Limit: limit})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by workflow status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func newWorkflowShowCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflowId>",
		Short: "Show a single workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Get(types.ElementId(args[0]), false)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newWorkflowTasksCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <workflowId>",
		Short: "List a workflow's child tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			id := types.ElementId(args[0])
			deps, err := e.elements.GetDependents(id, []types.DependencyType{types.DepParentChild})
			if err != nil {
				return err
			}
			var out []*types.Element
			for _, d := range deps {
				el, err := e.elements.Get(d.SourceID, false)
				if err != nil {
					continue
				}
				if el.Kind == types.KindTask {
					out = append(out, el)
				}
			}
			printJSON(out)
			return nil
		},
	}
}

func newWorkflowProgressCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <workflowId>",
		Short: "Report a workflow's task completion progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.tasks.WorkflowProgress(types.ElementId(args[0]), nowUTC())
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newWorkflowSquashCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "squash <workflowId>",
		Short: "Make an ephemeral workflow durable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.workflow.Squash(types.ElementId(args[0]), nowUTC())
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newWorkflowBurnCmd(workspace *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "burn <workflowId>",
		Short: "Hard-delete an ephemeral workflow and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.workflow.Burn(types.ElementId(args[0]), force, nowUTC()); err != nil {
				return err
			}
			printJSON(map[string]string{"status": "burned"})
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "burn even if the workflow is not ephemeral")
	return cmd
}

func newWorkflowGCCmd(workspace *string) *cobra.Command {
	var maxAge time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Burn ephemeral workflows finished longer than max-age ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.workflow.GC(maxAge, dryRun, nowUTC())
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "minimum time since a workflow finished before it is GC-eligible")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be burned without burning it")
	return cmd
}
