package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/internal/operator"
	"github.com/tidewater-io/cascade/internal/state"
	"github.com/tidewater-io/cascade/pkg/models"
)

// advanceInstance loads an instance and drives it as far as it can go
// without external input. Only one goroutine advances a given instance
// at a time; a wake-up arriving mid-advance schedules one re-run.
func (e *Engine) advanceInstance(ctx context.Context, instanceID string) {
	if !e.claim(instanceID) {
		return
	}
	defer func() {
		if e.release(instanceID) {
			if err := e.enqueue(instanceID); err != nil {
				log.Printf("Failed to re-queue instance %s: %v", instanceID, err)
			}
		}
	}()

	instance, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		log.Printf("Failed to load instance %s: %v", instanceID, err)
		return
	}
	if instance.Status.IsTerminal() {
		return
	}

	wf, err := e.bag.Get(instance.WorkflowID)
	if err != nil {
		log.Printf("Instance %s references unknown workflow %s", instanceID, instance.WorkflowID)
		return
	}

	if err := e.advance(ctx, wf, instance); err != nil {
		log.Printf("Failed to advance instance %s: %v", instanceID, err)
	}
}

// claim marks the instance in flight; returns false if another holder
// owns it (the instance re-runs once that holder finishes)
func (e *Engine) claim(instanceID string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	if e.inFlight[instanceID] {
		e.rerun[instanceID] = true
		return false
	}
	e.inFlight[instanceID] = true
	return true
}

// claimWait blocks until the instance can be claimed
func (e *Engine) claimWait(instanceID string) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	for e.inFlight[instanceID] {
		e.inFlightFree.Wait()
	}
	e.inFlight[instanceID] = true
}

// release clears the in-flight mark and wakes blocked claimers; returns
// true if a re-run was requested while the claim was held
func (e *Engine) release(instanceID string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	delete(e.inFlight, instanceID)
	e.inFlightFree.Broadcast()
	if e.rerun[instanceID] {
		delete(e.rerun, instanceID)
		return true
	}
	return false
}

// withInstanceClaim runs fn holding the instance's claim, blocking
// until any in-flight advance finishes. An advance in flight holds its
// own copy of the instance and saves it when it settles; a concurrent
// load-modify-save outside the claim would be silently overwritten.
func (e *Engine) withInstanceClaim(instanceID string, fn func() error) error {
	e.claimWait(instanceID)
	defer func() {
		if e.release(instanceID) {
			if err := e.enqueue(instanceID); err != nil {
				log.Printf("Failed to re-queue instance %s: %v", instanceID, err)
			}
		}
	}()
	return fn()
}

// advance runs the instance's ready tasks to quiescence. Tasks within
// the instance run serially, in topological order, so context merges are
// deterministic. Every state change is persisted before the events it
// caused are dispatched.
func (e *Engine) advance(ctx context.Context, wf *models.Workflow, instance *models.Instance) error {
	order, err := dag.TopologicalOrder(wf)
	if err != nil {
		return fmt.Errorf("workflow %s is not a DAG: %w", wf.ID, err)
	}

	if instance.StartedAt == nil {
		now := time.Now().UTC()
		instance.StartedAt = &now
	}

	for {
		if instance.CancelRequested {
			return e.applyCancellation(ctx, instance)
		}

		ready := e.readyTasks(wf, instance, order)
		if len(ready) == 0 {
			return e.settle(ctx, wf, instance, nil)
		}

		for _, taskID := range ready {
			if instance.CancelRequested {
				return e.applyCancellation(ctx, instance)
			}
			events, err := e.executeTask(ctx, wf, instance, taskID)
			if err != nil {
				return err
			}
			if err := e.settle(ctx, wf, instance, events); err != nil {
				return err
			}
			if instance.Status.IsTerminal() {
				return nil
			}
		}
	}
}

// readyTasks returns, in topological order, the tasks that can execute
// now: tasks already marked ready by intake or the sweeper, and pending
// tasks whose upstream dependencies are all satisfied.
func (e *Engine) readyTasks(wf *models.Workflow, instance *models.Instance, order []string) []string {
	var ready []string
	for _, taskID := range order {
		ts := instance.TaskStates[taskID]
		if ts == nil {
			continue
		}
		switch ts.Status {
		case models.TaskReady:
			ready = append(ready, taskID)
		case models.TaskPending:
			if e.upstreamsSatisfied(wf, instance, taskID) {
				ready = append(ready, taskID)
			}
		}
	}
	return ready
}

func (e *Engine) upstreamsSatisfied(wf *models.Workflow, instance *models.Instance, taskID string) bool {
	for _, upstreamID := range wf.Tasks[taskID].UpstreamIDs {
		upstream := instance.TaskStates[upstreamID]
		if upstream == nil || !upstream.Status.Satisfied() {
			return false
		}
	}
	return true
}

// executeTask runs one attempt of one task and applies its result to the
// instance. The returned events are dispatched by the caller after the
// post-transition state is durable.
func (e *Engine) executeTask(ctx context.Context, wf *models.Workflow, instance *models.Instance, taskID string) ([]*models.Event, error) {
	spec := wf.Tasks[taskID]
	ts := instance.TaskStates[taskID]

	if ts.Status == models.TaskPending {
		if err := e.transition(instance, taskID, models.TaskReady); err != nil {
			return nil, err
		}
	}
	if err := e.transition(instance, taskID, models.TaskExecuting); err != nil {
		return nil, err
	}
	ts.AttemptCount++
	if ts.StartedAt == nil {
		now := time.Now().UTC()
		ts.StartedAt = &now
	}

	op, err := e.operators.Build(spec)
	if err != nil {
		e.failTask(instance, taskID, fmt.Sprintf("failed to build operator: %v", err))
		return nil, nil
	}

	tc := operator.NewTaskContext(instance, spec, ts.AttemptCount, e.entities, nil)

	execCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	result := e.runTrapped(execCtx, op, tc)
	e.metrics.TaskExecuted(wf.ID, string(result.Kind))

	// A result arriving after cancellation was requested is discarded;
	// the cancellation pass marks the task cancelled.
	if instance.CancelRequested {
		if err := e.transition(instance, taskID, models.TaskCancelled); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := e.applyResult(wf, instance, taskID, spec, result); err != nil {
		return nil, err
	}
	return tc.PendingEvents(), nil
}

// runTrapped executes the operator, converting a panic into a terminal
// task failure. Operator code must not take the engine down.
func (e *Engine) runTrapped(ctx context.Context, op operator.Operator, tc *operator.TaskContext) (result *operator.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Operator panic in task %s of instance %s: %v", tc.TaskID, tc.InstanceID, r)
			result = operator.Failed(fmt.Errorf("operator panic: %v", r))
		}
	}()
	return op.Execute(ctx, tc)
}

func (e *Engine) applyResult(wf *models.Workflow, instance *models.Instance, taskID string, spec *models.OperatorSpec, result *operator.Result) error {
	ts := instance.TaskStates[taskID]

	switch result.Kind {
	case operator.KindContinue:
		if err := e.transition(instance, taskID, models.TaskCompleted); err != nil {
			return err
		}
		// Output is written exactly once, on this transition.
		ts.Output = result.Output
		if result.Output != nil {
			instance.Context.Merge(result.Output)
		}
		now := time.Now().UTC()
		ts.CompletedAt = &now
		ts.WaitingFor = ""
		ts.NextWakeAt = nil

	case operator.KindWaiting:
		if err := e.transition(instance, taskID, models.TaskWaiting); err != nil {
			return err
		}
		// State the operator needs across the suspension is merged
		// before parking.
		if result.Output != nil {
			instance.Context.Merge(result.Output)
		}
		// Consumed input must not re-trigger the operator on the next
		// dispatch.
		delete(instance.Context, models.InputKey(taskID))
		ts.WaitingFor = result.WaitingFor
		ts.AssignedTo = result.AssignedTo
		if ts.WaitingSince == nil {
			now := time.Now().UTC()
			ts.WaitingSince = &now
		}
		if result.RetryDelay > 0 {
			wake := time.Now().UTC().Add(result.RetryDelay)
			ts.NextWakeAt = &wake
		} else {
			ts.NextWakeAt = nil
		}

	case operator.KindRetry:
		maxAttempts := spec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = e.config.DefaultMaxAttempts
		}
		if ts.AttemptCount >= maxAttempts {
			message := fmt.Sprintf("max_attempts exceeded (%d)", maxAttempts)
			if result.Err != nil {
				message = fmt.Sprintf("max_attempts exceeded (%d): %v", maxAttempts, result.Err)
			}
			e.failTask(instance, taskID, message)
			return nil
		}
		if err := e.transition(instance, taskID, models.TaskRetrying); err != nil {
			return err
		}
		if result.Err != nil {
			ts.ErrorMessage = result.Err.Error()
		}
		delay := result.RetryDelay
		if delay <= 0 {
			delay = e.backoff.NextDelay(ts.AttemptCount)
		}
		wake := time.Now().UTC().Add(delay)
		ts.NextWakeAt = &wake

	case operator.KindSkip:
		if err := e.transition(instance, taskID, models.TaskSkipped); err != nil {
			return err
		}
		ts.ErrorMessage = result.Reason
		// The whole downstream subtree is skipped with it.
		for _, downstreamID := range dag.DownstreamClosure(wf, taskID) {
			downstream := instance.TaskStates[downstreamID]
			if downstream != nil && !downstream.Status.IsTerminal() {
				if err := e.transition(instance, downstreamID, models.TaskSkipped); err != nil {
					return err
				}
				downstream.ErrorMessage = fmt.Sprintf("skipped: upstream %s skipped", taskID)
			}
		}

	case operator.KindFailed:
		message := "task failed"
		if result.Err != nil {
			message = result.Err.Error()
		}
		e.failTask(instance, taskID, message)

	default:
		e.failTask(instance, taskID, fmt.Sprintf("operator returned unknown result kind %q", result.Kind))
	}
	return nil
}

func (e *Engine) failTask(instance *models.Instance, taskID, message string) {
	if err := e.transition(instance, taskID, models.TaskFailed); err != nil {
		log.Printf("Failed to mark task %s failed: %v", taskID, err)
		return
	}
	instance.TaskStates[taskID].ErrorMessage = message
}

// transition validates and applies one task status change, and publishes
// it to the transition channel
func (e *Engine) transition(instance *models.Instance, taskID string, to models.TaskStatus) error {
	ts := instance.TaskStates[taskID]
	from := ts.Status
	if err := e.machine.ValidateTransition(from, to); err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	if from == to {
		return nil
	}
	ts.Status = to

	if err := e.publisher.Publish(state.TransitionEvent{
		InstanceID:     instance.ID,
		WorkflowID:     instance.WorkflowID,
		TaskID:         taskID,
		OldStatus:      from,
		NewStatus:      to,
		InstanceStatus: state.DeriveInstanceStatus(instance.TaskStates),
		OccurredAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("Failed to publish transition for task %s: %v", taskID, err)
	}
	return nil
}

// settle recomputes the derived status, persists the instance, and only
// then dispatches the events the last task produced plus any terminal
// engine events.
func (e *Engine) settle(ctx context.Context, wf *models.Workflow, instance *models.Instance, taskEvents []*models.Event) error {
	previous := instance.Status
	instance.Status = state.DeriveInstanceStatus(instance.TaskStates)

	if instance.Status.IsTerminal() && instance.CompletedAt == nil {
		now := time.Now().UTC()
		instance.CompletedAt = &now
	}

	if err := e.store.SaveInstance(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist instance %s: %w", instance.ID, err)
	}

	for _, event := range taskEvents {
		e.EmitEvent(event)
	}

	if previous != instance.Status {
		switch instance.Status {
		case models.InstanceCompleted:
			e.EmitEvent(e.terminalEvent(models.EventWorkflowCompleted, wf, instance))
		case models.InstanceFailed:
			e.EmitEvent(e.terminalEvent(models.EventWorkflowFailed, wf, instance))
		}
	}
	return nil
}

// terminalEvent builds the completion/failure event. The payload carries
// the instance's externally visible context so hooks can seed listener
// instances from it.
func (e *Engine) terminalEvent(eventType string, wf *models.Workflow, instance *models.Instance) *models.Event {
	payload := map[string]any(instance.Context.ChildContext())
	payload["instance_id"] = instance.ID
	payload["workflow_id"] = instance.WorkflowID
	if instance.OwnerUserID != "" {
		payload["owner"] = instance.OwnerUserID
	}
	return &models.Event{
		Type:             eventType,
		SourceWorkflowID: wf.ID,
		SourceInstanceID: instance.ID,
		Payload:          payload,
		Timestamp:        time.Now().UTC(),
	}
}

// applyCancellation marks every non-terminal task cancelled and settles
// the instance
func (e *Engine) applyCancellation(ctx context.Context, instance *models.Instance) error {
	for taskID, ts := range instance.TaskStates {
		if !ts.Status.IsTerminal() {
			if err := e.transition(instance, taskID, models.TaskCancelled); err != nil {
				return err
			}
		}
	}

	instance.Status = state.DeriveInstanceStatus(instance.TaskStates)
	if instance.CompletedAt == nil {
		now := time.Now().UTC()
		instance.CompletedAt = &now
	}
	if err := e.store.SaveInstance(ctx, instance); err != nil {
		return fmt.Errorf("failed to persist cancelled instance %s: %w", instance.ID, err)
	}
	log.Printf("Instance %s cancelled", instance.ID)
	return nil
}
