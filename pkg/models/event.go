package models

import "time"

// Engine-emitted event types. Operators may emit arbitrary dotted names;
// entity operators emit ENTITY_CREATED.<type> / ENTITY_UPDATED.<type>.
const (
	EventWorkflowCompleted = "WORKFLOW_COMPLETED"
	EventWorkflowFailed    = "WORKFLOW_FAILED"
	EventApprovalRequested = "APPROVAL_REQUESTED"
	EventApprovalDecided   = "APPROVAL_DECIDED"
	EventEntityCreated     = "ENTITY_CREATED"
	EventEntityUpdated     = "ENTITY_UPDATED"
)

// Event is a transient dispatch unit. Events are never persisted as a
// durable log; the durable artifact is their effect (the listener
// instances they create).
type Event struct {
	Type             string         `json:"type"`
	SourceWorkflowID string         `json:"source_workflow_id,omitempty"`
	SourceInstanceID string         `json:"source_instance_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// TriggerType controls when a hook fires
type TriggerType string

const (
	TriggerImmediate   TriggerType = "immediate"
	TriggerConditional TriggerType = "conditional"
)

// Hook links an event pattern to a listener workflow: when a matching
// event fires, a new instance of ListenerWorkflowID is created with its
// initial context populated from the event payload via ContextMapping.
type Hook struct {
	ID                 string            `json:"id"`
	ListenerWorkflowID string            `json:"listener_workflow_id"`
	SourceWorkflowID   string            `json:"source_workflow_id,omitempty"` // empty or "*" matches any
	EventPattern       string            `json:"event_pattern"`
	Conditions         map[string]any    `json:"conditions,omitempty"`
	TriggerType        TriggerType       `json:"trigger_type,omitempty"`
	Priority           int               `json:"priority"`
	ContextMapping     map[string]string `json:"context_mapping,omitempty"` // payload key -> context key
}

// Entity is a minimal durable document produced by entity operators
type Entity struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	OwnerUserID string         `json:"owner_user_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
