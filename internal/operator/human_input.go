package operator

import (
	"context"
	"fmt"

	"github.com/tidewater-io/cascade/pkg/models"
)

// HumanInput suspends until a form submission arrives through the intake
// interface, then validates it. A submission missing required fields does
// not fail the task; the operator re-suspends with the validation errors
// in its output so the caller can surface them.
//
// Config:
//
//	waiting_for: kind of input awaited (default user_input)
//	assigned_to: user or team the form is assigned to
//	required_fields: field names the submission must contain non-empty
type HumanInput struct {
	spec *models.OperatorSpec
}

// NewHumanInput creates a human input operator from its spec
func NewHumanInput(spec *models.OperatorSpec) *HumanInput {
	return &HumanInput{spec: spec}
}

// Execute waits for, then validates, an external form submission
func (o *HumanInput) Execute(ctx context.Context, tc *TaskContext) *Result {
	waitingFor := o.spec.ConfigString("waiting_for")
	if waitingFor == "" {
		waitingFor = models.WaitingForUserInput
	}
	assignedTo := o.spec.ConfigString("assigned_to")

	input, delivered := tc.Input()
	if !delivered {
		tc.LogInfo("no input yet, suspending for %s", waitingFor)
		return Waiting(nil, waitingFor).WithAssignee(assignedTo)
	}

	var missing []string
	for _, field := range o.spec.ConfigStrings("required_fields") {
		value, exists := input[field]
		if !exists || value == "" || value == nil {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		tc.LogWarning("submission rejected, missing fields: %v", missing)
		return Waiting(map[string]any{
			tc.TaskID + "_validation_errors": missing,
		}, waitingFor).WithAssignee(assignedTo)
	}

	tc.LogInfo("input accepted with %d fields", len(input))
	return Continue(map[string]any{
		tc.TaskID + "_data":      input,
		tc.TaskID + "_validated": true,
	})
}

// fieldString reads a string field from a delivered input document
func fieldString(input map[string]any, key string) (string, error) {
	value, exists := input[key]
	if !exists {
		return "", fmt.Errorf("input field %q is missing", key)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("input field %q must be a string", key)
	}
	return s, nil
}
