// Package types defines the core element data model shared across the daemon.
package types

import (
	"encoding/json"
	"time"
)

// ElementKind discriminates the kind-specific payload carried by an Element.
type ElementKind string

const (
	KindTask         ElementKind = "task"
	KindWorkflow     ElementKind = "workflow"
	KindPlaybook     ElementKind = "playbook"
	KindDocument     ElementKind = "document"
	KindEntity       ElementKind = "entity"
	KindLibrary      ElementKind = "library"
	KindChannel      ElementKind = "channel"
	KindNotification ElementKind = "notification"
	KindComment      ElementKind = "comment"
)

// ElementId is an opaque, printable, globally-unique-within-workspace token.
type ElementId string

// EntityId is an ElementId known to refer to a kind=entity element.
type EntityId = ElementId

// TaskStatus is the task-kind status enum.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDeferred   TaskStatus = "deferred"
	TaskClosed     TaskStatus = "closed"
	TaskTombstone  TaskStatus = "tombstone"
)

// TaskType classifies the nature of a task.
type TaskType string

const (
	TaskBug     TaskType = "bug"
	TaskFeature TaskType = "feature"
	TaskChore   TaskType = "chore"
	TaskGeneric TaskType = "task"
)

// WorkflowStatus is the workflow-kind status enum.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowTombstone WorkflowStatus = "tombstone"
)

// TerminalWorkflowStatuses are statuses GC considers eligible for reaping
// (Burn itself does not check status).
var TerminalWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowCompleted: true,
	WorkflowFailed:    true,
	WorkflowCancelled: true,
}

var completedTaskStatuses = map[TaskStatus]bool{
	TaskClosed:    true,
	TaskTombstone: true,
}

var completedWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowCompleted: true,
	WorkflowTombstone: true,
}

// DependencyType enumerates the edge types, partitioned into three
// families: blocking, associative, and attribution/threading.
type DependencyType string

const (
	DepBlocks      DependencyType = "blocks"
	DepParentChild DependencyType = "parent-child"
	DepAwaits      DependencyType = "awaits"

	DepRelatesTo  DependencyType = "relates-to"
	DepReferences DependencyType = "references"
	DepSupersedes DependencyType = "supersedes"
	DepDuplicates DependencyType = "duplicates"
	DepCausedBy   DependencyType = "caused-by"
	DepValidates  DependencyType = "validates"

	DepAuthoredBy DependencyType = "authored-by"
	DepAssignedTo DependencyType = "assigned-to"
	DepApprovedBy DependencyType = "approved-by"
	DepRepliesTo  DependencyType = "replies-to"
)

// BlockingTypes is the set of dependency types that can block their source.
var BlockingTypes = map[DependencyType]bool{
	DepBlocks:      true,
	DepParentChild: true,
	DepAwaits:      true,
}

// IsBlocking reports whether t is a member of the blocking family.
func (t DependencyType) IsBlocking() bool { return BlockingTypes[t] }

// GateKind enumerates `awaits` gate discriminants.
type GateKind string

const (
	GateTimer    GateKind = "timer"
	GateApproval GateKind = "approval"
	GateExternal GateKind = "external"
	GateWebhook  GateKind = "webhook"
)

// AwaitsMetadata is the discriminated-union payload carried by an `awaits`
// dependency's metadata.
type AwaitsMetadata struct {
	Gate GateKind `json:"gate"`

	// timer
	WaitUntil *time.Time `json:"waitUntil,omitempty"`

	// approval
	RequiredApprovers []EntityId `json:"requiredApprovers,omitempty"`
	CurrentApprovers  []EntityId `json:"currentApprovers,omitempty"`
	ApprovalCount     int        `json:"approvalCount,omitempty"`

	// external / webhook
	Satisfied bool `json:"satisfied,omitempty"`
}

// Valid reports whether the metadata is well-formed for its declared gate.
// Invalid metadata must be treated as blocking, fail-safe.
func (m *AwaitsMetadata) Valid() bool {
	if m == nil {
		return false
	}
	switch m.Gate {
	case GateTimer:
		return m.WaitUntil != nil
	case GateApproval, GateExternal, GateWebhook:
		return true
	default:
		return false
	}
}

// Element is the uniform persistent record every kind shares.
type Element struct {
	ID        ElementId      `json:"id"`
	Kind      ElementKind    `json:"kind"`
	Title     string         `json:"title"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	CreatedBy EntityId       `json:"createdBy"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
	Version   int64          `json:"version"`

	Task     *TaskFields     `json:"task,omitempty"`
	Workflow *WorkflowFields `json:"workflow,omitempty"`
	Playbook *PlaybookFields `json:"playbook,omitempty"`
}

// IsTombstoned reports whether the element carries a tombstone marker.
func (e *Element) IsTombstoned() bool { return e.DeletedAt != nil }

// IsCompleted reports whether this element, as a dependency target, counts
// as "completed" for blocking purposes. A tombstoned element always
// counts as completed regardless of kind (see DESIGN.md for the
// tombstoned-parent resolution).
func (e *Element) IsCompleted() bool {
	if e.IsTombstoned() {
		return true
	}
	switch e.Kind {
	case KindTask:
		if e.Task == nil {
			return false
		}
		return completedTaskStatuses[e.Task.Status]
	case KindWorkflow:
		if e.Workflow == nil {
			return false
		}
		return completedWorkflowStatuses[e.Workflow.Status]
	default:
		// Non task/workflow kinds (documents, entities, ...) have no
		// status machine; treat as always-completed so a blocks/
		// parent-child edge to e.g. a document never blocks.
		return true
	}
}

// TaskFields holds task-kind-specific fields.
type TaskFields struct {
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"` // 1..5, 1 = critical
	Complexity   int        `json:"complexity"`
	TaskType     TaskType   `json:"taskType"`
	Assignee     *EntityId  `json:"assignee,omitempty"`
	Owner        *EntityId  `json:"owner,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	CloseReason  string     `json:"closeReason,omitempty"`
	Ephemeral    bool       `json:"ephemeral,omitempty"`
}

// WorkflowFields holds workflow-kind-specific fields.
type WorkflowFields struct {
	Status        WorkflowStatus `json:"status"`
	Ephemeral     bool           `json:"ephemeral"`
	PlaybookID    *ElementId     `json:"playbookId,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	CancelReason  string         `json:"cancelReason,omitempty"`
}

// PlaybookVariable describes one templated input to a playbook.
type PlaybookVariable struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string | number | boolean
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
	Enum     []any  `json:"enum,omitempty"`
}

// PlaybookStep describes one step-template within a playbook.
type PlaybookStep struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Condition  string   `json:"condition,omitempty"`
	Priority   int      `json:"priority"`
	Complexity int      `json:"complexity"`
}

// PlaybookFields holds playbook-kind-specific fields.
type PlaybookFields struct {
	Name      string             `json:"name"`
	Steps     []PlaybookStep     `json:"steps"`
	Variables []PlaybookVariable `json:"variables"`
}

// Dependency is a directed, typed edge between two elements.
type Dependency struct {
	SourceID  ElementId      `json:"sourceId"`
	TargetID  ElementId      `json:"targetId"`
	Type      DependencyType `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedBy EntityId       `json:"createdBy"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DecodeAwaitsMetadata parses a dependency's raw metadata map into an
// AwaitsMetadata value. Returns (nil, false) if the dependency is not an
// `awaits` edge or the metadata does not decode.
func (d *Dependency) DecodeAwaitsMetadata() (*AwaitsMetadata, bool) {
	if d.Type != DepAwaits || d.Metadata == nil {
		return nil, false
	}
	raw, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, false
	}
	var m AwaitsMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

// BlockedEntry is one row of the materialized blocked cache.
type BlockedEntry struct {
	ElementID ElementId `json:"elementId"`
	BlockedBy ElementId `json:"blockedBy"`
	Reason    string    `json:"reason"`
}

// DependencyTreeNode is one node of a getDependencyTree result.
type DependencyTreeNode struct {
	Element      *Element              `json:"element"`
	Dependencies []*DependencyTreeNode `json:"dependencies,omitempty"`
	Dependents   []*DependencyTreeNode `json:"dependents,omitempty"`
	NodeCount    int                   `json:"nodeCount"`
	DepthDown    int                   `json:"depthDown"`
	DepthUp      int                   `json:"depthUp"`
	Circular     bool                  `json:"circular,omitempty"`
}

// SessionMode distinguishes headless from interactive agent sessions.
type SessionMode string

const (
	SessionHeadless    SessionMode = "headless"
	SessionInteractive SessionMode = "interactive"
)

// SessionStatus is the agent session status machine.
type SessionStatus string

const (
	SessionStarting    SessionStatus = "starting"
	SessionRunning     SessionStatus = "running"
	SessionSuspended   SessionStatus = "suspended"
	SessionTerminating SessionStatus = "terminating"
	SessionTerminated  SessionStatus = "terminated"
)

// SessionRecord is a running or finished agent subprocess.
type SessionRecord struct {
	ID               string        `json:"id"`
	AgentID          ElementId     `json:"agentId"`
	Mode             SessionMode   `json:"mode"`
	Status           SessionStatus `json:"status"`
	ClaudeSessionID  string        `json:"claudeSessionId,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	TerminatedAt     *time.Time    `json:"terminatedAt,omitempty"`
	WorkingDirectory string        `json:"workingDirectory"`
	WorktreePath     string        `json:"worktreePath,omitempty"`
	PID              *int          `json:"pid,omitempty"`
	ExitCode         *int          `json:"exitCode,omitempty"`
	ExitSignal       *int          `json:"exitSignal,omitempty"`
	InitialPrompt    string        `json:"initialPrompt,omitempty"`
}

// WorktreeState is the worktree lifecycle state machine.
type WorktreeState string

const (
	WorktreeCreating  WorktreeState = "creating"
	WorktreeActive    WorktreeState = "active"
	WorktreeSuspended WorktreeState = "suspended"
	WorktreeMerging   WorktreeState = "merging"
	WorktreeCleaning  WorktreeState = "cleaning"
	WorktreeArchived  WorktreeState = "archived"
)

// worktreeTransitions is the allowed-successor table for worktree state.
var worktreeTransitions = map[WorktreeState]map[WorktreeState]bool{
	WorktreeCreating:  {WorktreeActive: true, WorktreeCleaning: true},
	WorktreeActive:    {WorktreeSuspended: true, WorktreeMerging: true, WorktreeCleaning: true},
	WorktreeSuspended: {WorktreeActive: true, WorktreeCleaning: true},
	WorktreeMerging:   {WorktreeArchived: true, WorktreeCleaning: true, WorktreeActive: true},
	WorktreeCleaning:  {WorktreeArchived: true},
	WorktreeArchived:  {},
}

// CanTransition reports whether to is an allowed successor of s.
func (s WorktreeState) CanTransition(to WorktreeState) bool {
	if s == to {
		return true
	}
	return worktreeTransitions[s][to]
}

// WorktreeRecord describes one managed git worktree.
type WorktreeRecord struct {
	Path         string        `json:"path"`
	RelativePath string        `json:"relativePath"`
	Branch       string        `json:"branch"`
	Head         string        `json:"head"`
	IsMain       bool          `json:"isMain"`
	State        WorktreeState `json:"state"`
	AgentName    string        `json:"agentName"`
	TaskID       ElementId     `json:"taskId"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// MessageType mirrors the session event type taxonomy a persisted message
// was derived from.
type MessageType string

const (
	MessageSystem     MessageType = "system"
	MessageAssistant  MessageType = "assistant"
	MessageUser       MessageType = "user"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageResult     MessageType = "result"
	MessageError      MessageType = "error"
)

// Message is a persisted record derived from a session event, stored
// out-of-band from subscriber delivery.
type Message struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content,omitempty"`
	ToolName   string      `json:"toolName,omitempty"`
	ToolInput  string      `json:"toolInput,omitempty"`
	ToolOutput string      `json:"toolOutput,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// ErrorResponse is the body of a failed HTTP/CLI call.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable machine-readable code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a generic SSE-shaped payload used by the non-agent event broker.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
