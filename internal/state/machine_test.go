package state

import (
	"testing"

	"github.com/tidewater-io/cascade/pkg/models"
)

func TestCanTransition_ValidPaths(t *testing.T) {
	m := NewMachine()

	valid := [][2]models.TaskStatus{
		{models.TaskPending, models.TaskReady},
		{models.TaskReady, models.TaskExecuting},
		{models.TaskExecuting, models.TaskCompleted},
		{models.TaskExecuting, models.TaskWaiting},
		{models.TaskExecuting, models.TaskRetrying},
		{models.TaskExecuting, models.TaskFailed},
		{models.TaskWaiting, models.TaskReady},
		{models.TaskWaiting, models.TaskFailed},
		{models.TaskWaiting, models.TaskCompleted},
		{models.TaskRetrying, models.TaskReady},
		{models.TaskPending, models.TaskSkipped},
		{models.TaskWaiting, models.TaskCancelled},
	}

	for _, pair := range valid {
		if !m.CanTransition(pair[0], pair[1]) {
			t.Errorf("Expected %s -> %s to be valid", pair[0], pair[1])
		}
	}
}

func TestCanTransition_InvalidPaths(t *testing.T) {
	m := NewMachine()

	invalid := [][2]models.TaskStatus{
		{models.TaskCompleted, models.TaskReady},
		{models.TaskFailed, models.TaskReady},
		{models.TaskSkipped, models.TaskExecuting},
		{models.TaskPending, models.TaskExecuting},
		{models.TaskPending, models.TaskCompleted},
		{models.TaskCancelled, models.TaskReady},
	}

	for _, pair := range invalid {
		if m.CanTransition(pair[0], pair[1]) {
			t.Errorf("Expected %s -> %s to be invalid", pair[0], pair[1])
		}
	}
}

func TestCanTransition_SameStateIdempotent(t *testing.T) {
	m := NewMachine()
	if !m.CanTransition(models.TaskWaiting, models.TaskWaiting) {
		t.Error("Expected same-state transition to be allowed")
	}
}

func states(pairs map[string]models.TaskStatus) map[string]*models.TaskState {
	out := make(map[string]*models.TaskState, len(pairs))
	for id, s := range pairs {
		out[id] = &models.TaskState{Status: s}
	}
	return out
}

func TestDeriveInstanceStatus(t *testing.T) {
	cases := []struct {
		name  string
		tasks map[string]models.TaskStatus
		want  models.InstanceStatus
	}{
		{
			name:  "all completed or skipped",
			tasks: map[string]models.TaskStatus{"a": models.TaskCompleted, "b": models.TaskSkipped},
			want:  models.InstanceCompleted,
		},
		{
			name:  "any failed wins",
			tasks: map[string]models.TaskStatus{"a": models.TaskCompleted, "b": models.TaskFailed, "c": models.TaskWaiting},
			want:  models.InstanceFailed,
		},
		{
			name:  "waiting with nothing active is paused",
			tasks: map[string]models.TaskStatus{"a": models.TaskCompleted, "b": models.TaskWaiting, "c": models.TaskPending},
			want:  models.InstancePaused,
		},
		{
			name:  "ready means running",
			tasks: map[string]models.TaskStatus{"a": models.TaskReady, "b": models.TaskPending},
			want:  models.InstanceRunning,
		},
		{
			name:  "executing beats waiting",
			tasks: map[string]models.TaskStatus{"a": models.TaskExecuting, "b": models.TaskWaiting},
			want:  models.InstanceRunning,
		},
		{
			name:  "retrying keeps the instance running",
			tasks: map[string]models.TaskStatus{"a": models.TaskRetrying, "b": models.TaskPending},
			want:  models.InstanceRunning,
		},
		{
			name:  "all pending",
			tasks: map[string]models.TaskStatus{"a": models.TaskPending, "b": models.TaskPending},
			want:  models.InstancePending,
		},
		{
			name:  "cancelled tasks mark the instance cancelled",
			tasks: map[string]models.TaskStatus{"a": models.TaskCompleted, "b": models.TaskCancelled},
			want:  models.InstanceCancelled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveInstanceStatus(states(tc.tasks))
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDeriveInstanceStatus_Empty(t *testing.T) {
	if got := DeriveInstanceStatus(nil); got != models.InstancePending {
		t.Errorf("Expected pending for empty table, got %s", got)
	}
}
