package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tidewater-io/cascade/internal/state"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/models"
)

var (
	// ErrNotWaiting is returned when input is delivered to a task that
	// is not suspended. This makes delivery idempotent: a duplicate call
	// after the task moved on is rejected, not re-applied.
	ErrNotWaiting = errors.New("task is not waiting for input")

	// ErrUnknownTask is returned when the task id is not in the workflow
	ErrUnknownTask = errors.New("unknown task")
)

// DeliverInput writes an external payload to the suspended task's input
// key and wakes the instance. The post-delivery state is durable before
// the call returns. Delivery holds the instance's claim, so it blocks
// while an advance is in flight instead of racing its save.
func (e *Engine) DeliverInput(ctx context.Context, instanceID, taskID string, payload map[string]any) error {
	return e.withInstanceClaim(instanceID, func() error {
		instance, err := e.store.LoadInstance(ctx, instanceID)
		if err != nil {
			return err
		}

		ts := instance.TaskStates[taskID]
		if ts == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
		}
		if ts.Status != models.TaskWaiting {
			return fmt.Errorf("%w: task %s is %s", ErrNotWaiting, taskID, ts.Status)
		}

		instance.Context[models.InputKey(taskID)] = payload
		if err := e.transition(instance, taskID, models.TaskReady); err != nil {
			return err
		}
		ts.NextWakeAt = nil
		instance.Status = state.DeriveInstanceStatus(instance.TaskStates)

		if err := e.store.SaveInstance(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist delivered input: %w", err)
		}

		if err := e.enqueue(instanceID); err != nil {
			// The input is durable; the sweeper will pick the instance up.
			log.Printf("Queue full after input delivery to %s; deferring to sweep", instanceID)
		}
		return nil
	})
}

// DeliverDecision delivers an approval decision. Same mechanism as
// DeliverInput with the conventional decision document shape.
func (e *Engine) DeliverDecision(ctx context.Context, instanceID, taskID string, decision Decision) error {
	if decision.Decision == "" {
		return fmt.Errorf("decision must not be empty")
	}
	payload := map[string]any{
		"decision":   decision.Decision,
		"decided_by": decision.DecidedBy,
	}
	if decision.Comments != "" {
		payload["comments"] = decision.Comments
	}
	if decision.RejectionReason != "" {
		payload["rejection_reason"] = decision.RejectionReason
	}
	return e.DeliverInput(ctx, instanceID, taskID, payload)
}

// Decision is the conventional approval decision document
type Decision struct {
	Decision        string `json:"decision"`
	DecidedBy       string `json:"decided_by"`
	Comments        string `json:"comments,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// CancelInstance flags the instance for cancellation. The next dispatch
// observes the flag, marks all non-terminal tasks cancelled, and settles
// the instance. Tasks currently executing run to their natural result,
// which is then discarded.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	return e.withInstanceClaim(instanceID, func() error {
		instance, err := e.store.LoadInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status.IsTerminal() {
			return fmt.Errorf("instance %s is already %s", instanceID, instance.Status)
		}

		instance.CancelRequested = true
		if err := e.store.SaveInstance(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist cancellation flag: %w", err)
		}

		if err := e.enqueue(instanceID); err != nil {
			log.Printf("Queue full after cancel of %s; deferring to sweep", instanceID)
		}
		return nil
	})
}

// sweep wakes instances whose waiting or retrying tasks are due: timed
// wakes whose delay elapsed, and waiting tasks that exceeded their
// timeout (failed, or auto-approved for approval operators configured
// that way). It also re-queues instances with a pending cancellation.
func (e *Engine) sweep(ctx context.Context) error {
	now := time.Now().UTC()

	for _, status := range []models.InstanceStatus{models.InstancePaused, models.InstanceRunning, models.InstancePending} {
		s := status
		instances, err := e.store.ListInstances(ctx, storage.InstanceFilter{Status: &s})
		if err != nil {
			return fmt.Errorf("failed to list %s instances: %w", status, err)
		}
		for _, instance := range instances {
			if err := e.sweepInstance(ctx, instance.ID, now); err != nil {
				log.Printf("Sweep of instance %s failed: %v", instance.ID, err)
			}
		}
	}
	return nil
}

// sweepInstance applies due wakes under the instance's claim. A claim
// held by an in-flight advance makes this tick a no-op; the timers are
// re-checked on the next one. The instance is re-loaded after the claim
// is taken, so the listed copy being stale does not matter.
func (e *Engine) sweepInstance(ctx context.Context, instanceID string, now time.Time) error {
	if !e.claim(instanceID) {
		return nil
	}
	wake := false
	err := func() error {
		instance, err := e.store.LoadInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status.IsTerminal() {
			return nil
		}
		if instance.CancelRequested {
			wake = true
			return nil
		}

		wf, err := e.bag.Get(instance.WorkflowID)
		if err != nil {
			return err
		}

		changed := false
		for taskID, ts := range instance.TaskStates {
			switch ts.Status {
			case models.TaskRetrying:
				if ts.NextWakeAt != nil && !ts.NextWakeAt.After(now) {
					if err := e.transition(instance, taskID, models.TaskReady); err != nil {
						return err
					}
					ts.NextWakeAt = nil
					changed = true
					wake = true
				}

			case models.TaskWaiting:
				spec := wf.Tasks[taskID]
				if spec != nil && spec.Timeout > 0 && ts.WaitingSince != nil &&
					now.Sub(*ts.WaitingSince) > spec.Timeout {
					if err := e.timeoutWaitingTask(instance, taskID, spec); err != nil {
						return err
					}
					changed = true
					wake = true
					continue
				}
				if ts.NextWakeAt != nil && !ts.NextWakeAt.After(now) {
					if err := e.transition(instance, taskID, models.TaskReady); err != nil {
						return err
					}
					ts.NextWakeAt = nil
					changed = true
					wake = true
				}
			}
		}

		if !changed {
			return nil
		}
		instance.Status = state.DeriveInstanceStatus(instance.TaskStates)
		if err := e.store.SaveInstance(ctx, instance); err != nil {
			return fmt.Errorf("failed to persist swept instance: %w", err)
		}
		return nil
	}()

	if e.release(instanceID) || wake {
		if qErr := e.enqueue(instanceID); qErr != nil {
			log.Printf("Queue full during sweep; instance %s deferred", instanceID)
		}
	}
	return err
}

// timeoutWaitingTask converts a timed-out waiting task to failed, or to
// completed when the operator is an approval configured to auto-approve.
func (e *Engine) timeoutWaitingTask(instance *models.Instance, taskID string, spec *models.OperatorSpec) error {
	ts := instance.TaskStates[taskID]

	if spec.Type == "approval" && spec.ConfigBool("auto_approve_on_timeout") {
		if err := e.transition(instance, taskID, models.TaskCompleted); err != nil {
			return err
		}
		output := map[string]any{
			taskID + "_decision":   "approved",
			taskID + "_decided_by": "auto_timeout",
		}
		ts.Output = output
		instance.Context.Merge(output)
		now := time.Now().UTC()
		ts.CompletedAt = &now
		ts.WaitingFor = ""
		log.Printf("Task %s of instance %s auto-approved on timeout", taskID, instance.ID)
		return nil
	}

	if err := e.transition(instance, taskID, models.TaskFailed); err != nil {
		return err
	}
	ts.ErrorMessage = "timeout"
	log.Printf("Task %s of instance %s timed out after waiting since %s", taskID, instance.ID, ts.WaitingSince)
	return nil
}
