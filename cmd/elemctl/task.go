package main

import (
	"github.com/spf13/cobra"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/task"
	"github.com/elemental/daemon/pkg/types"
)

func newTaskCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect and transition tasks"}
	cmd.AddCommand(
		newTaskReadyCmd(workspace),
		newTaskBlockedCmd(workspace),
		newTaskCloseCmd(workspace),
		newTaskReopenCmd(workspace),
		newTaskAssignCmd(workspace),
		newTaskDeferCmd(workspace),
		newTaskUndeferCmd(workspace),
	)
	return cmd
}

func newTaskReadyCmd(workspace *string) *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List ready tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.tasks.Ready(nowUTC(), task.Filter{Assignee: types.EntityId(assignee)})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee entity id")
	return cmd
}

func newTaskBlockedCmd(workspace *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List blocked tasks and their cause",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.tasks.Blocked(task.Filter{})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	return cmd
}

func newTaskCloseCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <taskId>",
		Short: "Close a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Update(types.ElementId(args[0]), 0, nowUTC(), func(el *types.Element) error {
				if el.Kind != types.KindTask || el.Task == nil {
					return elemerr.Validation("element %s is not a task", args[0])
				}
				el.Task.Status = types.TaskClosed
				return nil
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newTaskReopenCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <taskId>",
		Short: "Reopen a closed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Update(types.ElementId(args[0]), 0, nowUTC(), func(el *types.Element) error {
				if el.Kind != types.KindTask || el.Task == nil {
					return elemerr.Validation("element %s is not a task", args[0])
				}
				el.Task.Status = types.TaskOpen
				return nil
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newTaskAssignCmd(workspace *string) *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <taskId>",
		Short: "Assign a task to an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignee == "" {
				return elemerr.Validation("--assignee is required")
			}
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			id := types.EntityId(assignee)
			out, err := e.elements.Update(types.ElementId(args[0]), 0, nowUTC(), func(el *types.Element) error {
				if el.Kind != types.KindTask || el.Task == nil {
					return elemerr.Validation("element %s is not a task", args[0])
				}
				el.Task.Assignee = &id
				return nil
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "entity id to assign the task to")
	return cmd
}

func newTaskDeferCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "defer <taskId>",
		Short: "Defer a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Update(types.ElementId(args[0]), 0, nowUTC(), func(el *types.Element) error {
				if el.Kind != types.KindTask || el.Task == nil {
					return elemerr.Validation("element %s is not a task", args[0])
				}
				el.Task.Status = types.TaskDeferred
				return nil
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newTaskUndeferCmd(workspace *string) *cobra.Command {
	return &cobra.Command{
		Use:   "undefer <taskId>",
		Short: "Return a deferred task to open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*workspace)
			if err != nil {
				return err
			}
			defer e.close()
			out, err := e.elements.Update(types.ElementId(args[0]), 0, nowUTC(), func(el *types.Element) error {
				if el.Kind != types.KindTask || el.Task == nil {
					return elemerr.Validation("element %s is not a task", args[0])
				}
				if el.Task.Status != types.TaskDeferred {
					return elemerr.InvalidState("task %s is not deferred", args[0])
				}
				el.Task.Status = types.TaskOpen
				return nil
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
