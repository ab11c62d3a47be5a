package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Noop completes immediately with a timestamped marker output. Useful as
// a join point in fan-in topologies and in tests.
type Noop struct{}

// Execute completes immediately
func (o *Noop) Execute(ctx context.Context, tc *TaskContext) *Result {
	return Continue(map[string]any{
		tc.TaskID + "_completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Transform copies and renames context keys into namespaced outputs.
// Config:
//
//	mapping: map of source dot-path -> output key
//	require: list of source dot-paths that must be present
type Transform struct {
	spec *models.OperatorSpec
}

// NewTransform creates a transform operator from its spec
func NewTransform(spec *models.OperatorSpec) *Transform {
	return &Transform{spec: spec}
}

// Execute resolves the configured mapping against the instance context
func (o *Transform) Execute(ctx context.Context, tc *TaskContext) *Result {
	for _, path := range o.spec.ConfigStrings("require") {
		if _, ok := tc.Context.Get(path); !ok {
			return Failed(fmt.Errorf("required context key %q is missing", path))
		}
	}

	output := map[string]any{}
	if mapping, ok := o.spec.Config["mapping"].(map[string]any); ok {
		for source, target := range mapping {
			targetKey, ok := target.(string)
			if !ok {
				return Failed(fmt.Errorf("mapping target for %q must be a string", source))
			}
			if value, found := tc.Context.Get(source); found {
				output[targetKey] = value
			}
		}
	}
	output[tc.TaskID+"_transformed"] = true
	return Continue(output)
}
