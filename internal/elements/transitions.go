package elements

import "github.com/elemental/daemon/pkg/types"

// taskTransitions is the allowed-successor table for task status.
// tombstone is reachable from any status and is handled separately in
// validateTaskTransition rather than listed per-row.
var taskTransitions = map[types.TaskStatus]map[types.TaskStatus]bool{
	types.TaskOpen:       {types.TaskInProgress: true, types.TaskBlocked: true, types.TaskDeferred: true, types.TaskClosed: true},
	types.TaskInProgress: {types.TaskOpen: true, types.TaskBlocked: true, types.TaskDeferred: true, types.TaskClosed: true},
	types.TaskBlocked:    {types.TaskOpen: true, types.TaskInProgress: true, types.TaskDeferred: true, types.TaskClosed: true},
	types.TaskDeferred:   {types.TaskOpen: true, types.TaskClosed: true},
	types.TaskClosed:     {types.TaskOpen: true},
	types.TaskTombstone:  {},
}

// validateTaskTransition reports whether from -> to is an allowed task
// status transition.
func validateTaskTransition(from, to types.TaskStatus) bool {
	if from == to {
		return true
	}
	if to == types.TaskTombstone {
		return true
	}
	return taskTransitions[from][to]
}

// workflowTransitions is the allowed-successor table for workflow status.
// Terminal statuses are immutable except for the one-way move to
// tombstone, handled in validateWorkflowTransition.
var workflowTransitions = map[types.WorkflowStatus]map[types.WorkflowStatus]bool{
	types.WorkflowPending:   {types.WorkflowRunning: true, types.WorkflowCancelled: true},
	types.WorkflowRunning:   {types.WorkflowCompleted: true, types.WorkflowFailed: true, types.WorkflowCancelled: true},
	types.WorkflowCompleted: {},
	types.WorkflowFailed:    {},
	types.WorkflowCancelled: {},
	types.WorkflowTombstone: {},
}

func validateWorkflowTransition(from, to types.WorkflowStatus) bool {
	if from == to {
		return true
	}
	if to == types.WorkflowTombstone {
		return true
	}
	return workflowTransitions[from][to]
}
