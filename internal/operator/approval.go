package operator

import (
	"context"
	"fmt"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Approval suspends until an approval decision arrives. The first
// suspension emits APPROVAL_REQUESTED; the decision emits
// APPROVAL_DECIDED either way. A rejection is a terminal task failure.
//
// Config:
//
//	assigned_to: approver user or team
//	auto_approve_on_timeout: when true, the engine's timeout sweep
//	    completes the task as approved instead of failing it
type Approval struct {
	spec *models.OperatorSpec
}

// NewApproval creates an approval operator from its spec
func NewApproval(spec *models.OperatorSpec) *Approval {
	return &Approval{spec: spec}
}

// Execute waits for, then applies, an approval decision
func (o *Approval) Execute(ctx context.Context, tc *TaskContext) *Result {
	assignedTo := o.spec.ConfigString("assigned_to")

	input, delivered := tc.Input()
	if !delivered {
		output := map[string]any{}
		state, _ := tc.StateSlot()
		if state["requested"] != true {
			tc.EmitEvent(models.EventApprovalRequested, map[string]any{
				"task_id":     tc.TaskID,
				"assigned_to": assignedTo,
				"owner":       tc.OwnerUserID,
			})
			output[models.StateKey(tc.TaskID)] = map[string]any{"requested": true}
		}
		return Waiting(output, models.WaitingForApproval).WithAssignee(assignedTo)
	}

	decision, err := fieldString(input, "decision")
	if err != nil {
		return Waiting(map[string]any{
			tc.TaskID + "_validation_errors": []string{err.Error()},
		}, models.WaitingForApproval).WithAssignee(assignedTo)
	}
	decidedBy, _ := input["decided_by"].(string)

	tc.EmitEvent(models.EventApprovalDecided, map[string]any{
		"task_id":    tc.TaskID,
		"decision":   decision,
		"decided_by": decidedBy,
	})

	switch decision {
	case "approved":
		tc.LogInfo("approved by %s", decidedBy)
		return Continue(map[string]any{
			tc.TaskID + "_decision":   "approved",
			tc.TaskID + "_decided_by": decidedBy,
			tc.TaskID + "_comments":   input["comments"],
		})
	case "rejected":
		reason, _ := input["rejection_reason"].(string)
		if reason == "" {
			reason = "rejected without reason"
		}
		tc.LogWarning("rejected by %s: %s", decidedBy, reason)
		return Failed(fmt.Errorf("approval rejected: %s", reason))
	default:
		return Waiting(map[string]any{
			tc.TaskID + "_validation_errors": []string{fmt.Sprintf("unknown decision %q", decision)},
		}, models.WaitingForApproval).WithAssignee(assignedTo)
	}
}
