package models

import "time"

// WorkflowType categorizes a workflow definition
type WorkflowType string

const (
	WorkflowTypeProcess            WorkflowType = "process"
	WorkflowTypeDocumentProcessing WorkflowType = "document_processing"
	WorkflowTypeAdmin              WorkflowType = "admin"
)

// Workflow represents a Directed Acyclic Graph workflow definition.
// Definitions are assembled at startup, registered in the Bag, and
// immutable afterwards.
type Workflow struct {
	ID              string                   `json:"id"`
	Description     string                   `json:"description"`
	Tags            []string                 `json:"tags"`
	Type            WorkflowType             `json:"type"`
	Tasks           map[string]*OperatorSpec `json:"tasks"`
	EmitsEvents     bool                     `json:"emits_events"`
	ListensToEvents bool                     `json:"listens_to_events"`
	EntityOutputs   []string                 `json:"entity_outputs,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// OperatorSpec configures a single task within a workflow. Operators are
// stateless across instances; all per-execution state lives on the
// TaskState inside an instance.
type OperatorSpec struct {
	TaskID        string         `json:"task_id"`
	Type          string         `json:"type"`
	Config        map[string]any `json:"config,omitempty"`
	UpstreamIDs   []string       `json:"upstream_ids,omitempty"`
	DownstreamIDs []string       `json:"downstream_ids,omitempty"`
	MaxAttempts   int            `json:"max_attempts,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
}

// ConfigString reads a string value from the operator config
func (s *OperatorSpec) ConfigString(key string) string {
	if s.Config == nil {
		return ""
	}
	if v, ok := s.Config[key].(string); ok {
		return v
	}
	return ""
}

// ConfigBool reads a boolean value from the operator config
func (s *OperatorSpec) ConfigBool(key string) bool {
	if s.Config == nil {
		return false
	}
	if v, ok := s.Config[key].(bool); ok {
		return v
	}
	return false
}

// ConfigDuration reads a duration from the operator config. Accepts a
// Go duration string or a numeric value in seconds.
func (s *OperatorSpec) ConfigDuration(key string) time.Duration {
	if s.Config == nil {
		return 0
	}
	switch v := s.Config[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return 0
}

// ConfigStrings reads a string slice from the operator config. Both
// []string and []any (the shape produced by YAML/JSON decoding) are
// accepted.
func (s *OperatorSpec) ConfigStrings(key string) []string {
	if s.Config == nil {
		return nil
	}
	switch v := s.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// SinkTaskIDs returns the tasks with no downstream dependents. The
// instance completes when every sink reaches a terminal-success state.
func (w *Workflow) SinkTaskIDs() []string {
	var sinks []string
	for id, spec := range w.Tasks {
		if len(spec.DownstreamIDs) == 0 {
			sinks = append(sinks, id)
		}
	}
	return sinks
}
