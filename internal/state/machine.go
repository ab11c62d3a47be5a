package state

import (
	"errors"
	"fmt"

	"github.com/tidewater-io/cascade/pkg/models"
)

// ErrInvalidTransition is returned when a task-state transition is not
// permitted by the machine.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine validates per-task state transitions. The executor applies
// transitions out of executing based on the operator Result; everything
// else follows the readiness and wake rules.
type Machine struct {
	valid map[models.TaskStatus][]models.TaskStatus
}

// NewMachine creates the task-state machine
func NewMachine() *Machine {
	return &Machine{
		valid: map[models.TaskStatus][]models.TaskStatus{
			models.TaskPending: {
				models.TaskReady,
				models.TaskSkipped, // upstream skip propagates through the subtree
				models.TaskCancelled,
			},
			models.TaskReady: {
				models.TaskExecuting,
				models.TaskCancelled,
			},
			models.TaskExecuting: {
				models.TaskCompleted,
				models.TaskWaiting,
				models.TaskRetrying,
				models.TaskSkipped,
				models.TaskFailed,
				models.TaskCancelled,
			},
			models.TaskWaiting: {
				models.TaskReady,     // input delivered or timed wake
				models.TaskFailed,    // waiting timeout
				models.TaskCompleted, // auto-approve on timeout
				models.TaskCancelled,
			},
			models.TaskRetrying: {
				models.TaskReady,
				models.TaskFailed,
				models.TaskCancelled,
			},
			// Terminal states do not transition
			models.TaskCompleted: {},
			models.TaskSkipped:   {},
			models.TaskFailed:    {},
			models.TaskCancelled: {},
		},
	}
}

// CanTransition checks if a transition is valid. Same-state transitions
// are allowed (idempotent re-application).
func (m *Machine) CanTransition(from, to models.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range m.valid[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for invalid transitions
func (m *Machine) ValidateTransition(from, to models.TaskStatus) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition task from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// DeriveInstanceStatus computes the instance status from its task-state
// table. This derivation is the sole authority for instance status; no
// code assigns a status directly.
func DeriveInstanceStatus(taskStates map[string]*models.TaskState) models.InstanceStatus {
	if len(taskStates) == 0 {
		return models.InstancePending
	}

	allSatisfied := true
	anyCancelled := false
	anyWaiting := false
	anyActive := false
	anyScheduled := false // retrying counts as still scheduled, not paused

	for _, ts := range taskStates {
		switch ts.Status {
		case models.TaskFailed:
			return models.InstanceFailed
		case models.TaskCancelled:
			anyCancelled = true
			allSatisfied = false
		case models.TaskCompleted, models.TaskSkipped:
			// satisfied
		case models.TaskWaiting:
			anyWaiting = true
			allSatisfied = false
		case models.TaskReady, models.TaskExecuting:
			anyActive = true
			allSatisfied = false
		case models.TaskRetrying:
			anyScheduled = true
			allSatisfied = false
		default:
			allSatisfied = false
		}
	}

	switch {
	case allSatisfied:
		return models.InstanceCompleted
	case anyCancelled:
		return models.InstanceCancelled
	case anyActive || anyScheduled:
		return models.InstanceRunning
	case anyWaiting:
		return models.InstancePaused
	default:
		return models.InstancePending
	}
}
