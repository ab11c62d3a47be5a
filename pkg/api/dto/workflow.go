package dto

import (
	"github.com/tidewater-io/cascade/pkg/models"
)

// TaskSpecResponse describes one task of a workflow definition
type TaskSpecResponse struct {
	TaskID        string         `json:"task_id"`
	Type          string         `json:"type"`
	Config        map[string]any `json:"config,omitempty"`
	UpstreamIDs   []string       `json:"upstream_ids,omitempty"`
	DownstreamIDs []string       `json:"downstream_ids,omitempty"`
	MaxAttempts   int            `json:"max_attempts,omitempty"`
	TimeoutSecs   int            `json:"timeout_secs,omitempty"`
}

// WorkflowResponse describes a registered workflow definition
type WorkflowResponse struct {
	ID              string                      `json:"id"`
	Description     string                      `json:"description"`
	Tags            []string                    `json:"tags,omitempty"`
	Type            string                      `json:"type"`
	Tasks           map[string]TaskSpecResponse `json:"tasks"`
	EmitsEvents     bool                        `json:"emits_events"`
	ListensToEvents bool                        `json:"listens_to_events"`
	EntityOutputs   []string                    `json:"entity_outputs,omitempty"`
}

// WorkflowListResponse is the listing of registered workflows
type WorkflowListResponse struct {
	Workflows []WorkflowResponse `json:"workflows"`
	Total     int                `json:"total"`
}

// ToWorkflowResponse converts a workflow definition to its API shape
func ToWorkflowResponse(wf *models.Workflow) WorkflowResponse {
	tasks := make(map[string]TaskSpecResponse, len(wf.Tasks))
	for id, spec := range wf.Tasks {
		tasks[id] = TaskSpecResponse{
			TaskID:        spec.TaskID,
			Type:          spec.Type,
			Config:        spec.Config,
			UpstreamIDs:   spec.UpstreamIDs,
			DownstreamIDs: spec.DownstreamIDs,
			MaxAttempts:   spec.MaxAttempts,
			TimeoutSecs:   int(spec.Timeout.Seconds()),
		}
	}
	return WorkflowResponse{
		ID:              wf.ID,
		Description:     wf.Description,
		Tags:            wf.Tags,
		Type:            string(wf.Type),
		Tasks:           tasks,
		EmitsEvents:     wf.EmitsEvents,
		ListensToEvents: wf.ListensToEvents,
		EntityOutputs:   wf.EntityOutputs,
	}
}
