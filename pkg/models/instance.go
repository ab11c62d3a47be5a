package models

import "time"

// InstanceStatus is the derived status of a workflow instance. It is a
// pure function of the task-state table (see state.DeriveInstanceStatus)
// and is never assigned independently.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstancePaused    InstanceStatus = "paused"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// IsTerminal returns true if the instance can make no further progress
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// TaskStatus is the per-task execution state within an instance
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskWaiting   TaskStatus = "waiting"
	TaskRetrying  TaskStatus = "retrying"
	TaskSkipped   TaskStatus = "skipped"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the task state admits no further transitions
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskSkipped || s == TaskFailed || s == TaskCancelled
}

// Satisfied reports whether a downstream task may treat this upstream as done
func (s TaskStatus) Satisfied() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// Kinds of input a waiting task may be suspended on
const (
	WaitingForUserInput        = "user_input"
	WaitingForApproval         = "approval"
	WaitingForSignature        = "signature"
	WaitingForSelfie           = "selfie"
	WaitingForIDCapture        = "id_capture"
	WaitingForCatalogSelection = "catalog_selection"
	WaitingForMissingEntities  = "missing_entities"
	WaitingForEntitySelection  = "entity_selection"
)

// TaskState is the per-(instance, task) execution record. Output is
// written exactly once, on the transition into completed. Metadata is
// operator-controlled scratch space that survives suspensions.
type TaskState struct {
	Status       TaskStatus     `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	WaitingFor   string         `json:"waiting_for,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	WaitingSince *time.Time     `json:"waiting_since,omitempty"`
	NextWakeAt   *time.Time     `json:"next_wake_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Instance is one execution of a workflow for one request. It owns its
// context and task-state table; no in-memory state is shared between
// instances.
type Instance struct {
	ID               string                `json:"id"`
	WorkflowID       string                `json:"workflow_id"`
	OwnerUserID      string                `json:"owner_user_id"`
	Tenant           string                `json:"tenant,omitempty"`
	Status           InstanceStatus        `json:"status"`
	Context          Context               `json:"context"`
	TaskStates       map[string]*TaskState `json:"task_states"`
	CreatedAt        time.Time             `json:"created_at"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	ParentInstanceID string                `json:"parent_instance_id,omitempty"`
	TriggeringEvent  *Event                `json:"triggering_event,omitempty"`
	HookDepth        int                   `json:"hook_depth,omitempty"`
	CancelRequested  bool                  `json:"cancel_requested,omitempty"`
}

// TaskState returns the state record for a task, never nil for known tasks
func (i *Instance) TaskState(taskID string) *TaskState {
	if i.TaskStates == nil {
		return nil
	}
	return i.TaskStates[taskID]
}
