package dto

import (
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

// CreateInstanceRequest starts a new instance of a workflow
type CreateInstanceRequest struct {
	OwnerUserID    string         `json:"owner_user_id"`
	Tenant         string         `json:"tenant,omitempty"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
}

// TaskStateResponse is the per-task execution record of an instance
type TaskStateResponse struct {
	Status       string         `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	WaitingFor   string         `json:"waiting_for,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	WaitingSince *time.Time     `json:"waiting_since,omitempty"`
	NextWakeAt   *time.Time     `json:"next_wake_at,omitempty"`
}

// InstanceResponse is the summary shape of a workflow instance
type InstanceResponse struct {
	ID               string     `json:"id"`
	WorkflowID       string     `json:"workflow_id"`
	OwnerUserID      string     `json:"owner_user_id"`
	Tenant           string     `json:"tenant,omitempty"`
	Status           string     `json:"status"`
	ParentInstanceID string     `json:"parent_instance_id,omitempty"`
	HookDepth        int        `json:"hook_depth,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// InstanceDetailResponse adds the context and task-state table
type InstanceDetailResponse struct {
	InstanceResponse
	Context         map[string]any               `json:"context"`
	TaskStates      map[string]TaskStateResponse `json:"task_states"`
	TriggeringEvent *models.Event                `json:"triggering_event,omitempty"`
}

// InstanceListResponse is a paginated instance listing
type InstanceListResponse struct {
	Instances  []InstanceResponse `json:"instances"`
	Pagination PaginationMeta     `json:"pagination"`
}

// DeliverInputRequest carries an external payload for a waiting task
type DeliverInputRequest struct {
	Payload map[string]any `json:"payload" validate:"required"`
}

// DecisionRequest carries an approval decision for a waiting task
type DecisionRequest struct {
	Decision        string `json:"decision" validate:"required,decision"`
	DecidedBy       string `json:"decided_by" validate:"required"`
	Comments        string `json:"comments,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// InjectEventRequest publishes an external event onto the engine bus
type InjectEventRequest struct {
	Type             string         `json:"type" validate:"required"`
	SourceWorkflowID string         `json:"source_workflow_id,omitempty"`
	SourceInstanceID string         `json:"source_instance_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// ToInstanceResponse converts an instance to its summary API shape
func ToInstanceResponse(instance *models.Instance) InstanceResponse {
	return InstanceResponse{
		ID:               instance.ID,
		WorkflowID:       instance.WorkflowID,
		OwnerUserID:      instance.OwnerUserID,
		Tenant:           instance.Tenant,
		Status:           string(instance.Status),
		ParentInstanceID: instance.ParentInstanceID,
		HookDepth:        instance.HookDepth,
		CreatedAt:        instance.CreatedAt,
		StartedAt:        instance.StartedAt,
		CompletedAt:      instance.CompletedAt,
	}
}

// ToInstanceDetailResponse converts an instance to its detail API shape
func ToInstanceDetailResponse(instance *models.Instance) InstanceDetailResponse {
	taskStates := make(map[string]TaskStateResponse, len(instance.TaskStates))
	for taskID, ts := range instance.TaskStates {
		taskStates[taskID] = TaskStateResponse{
			Status:       string(ts.Status),
			Output:       ts.Output,
			AssignedTo:   ts.AssignedTo,
			WaitingFor:   ts.WaitingFor,
			AttemptCount: ts.AttemptCount,
			ErrorMessage: ts.ErrorMessage,
			StartedAt:    ts.StartedAt,
			CompletedAt:  ts.CompletedAt,
			WaitingSince: ts.WaitingSince,
			NextWakeAt:   ts.NextWakeAt,
		}
	}
	return InstanceDetailResponse{
		InstanceResponse: ToInstanceResponse(instance),
		Context:          instance.Context,
		TaskStates:       taskStates,
		TriggeringEvent:  instance.TriggeringEvent,
	}
}
