package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/internal/hooks"
	"github.com/tidewater-io/cascade/internal/operator"
	"github.com/tidewater-io/cascade/internal/retry"
	"github.com/tidewater-io/cascade/internal/state"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/models"
)

// opFunc adapts a closure into an operator for scripted test behavior
type opFunc func(ctx context.Context, tc *operator.TaskContext) *operator.Result

func (f opFunc) Execute(ctx context.Context, tc *operator.TaskContext) *operator.Result {
	return f(ctx, tc)
}

type testHarness struct {
	engine *Engine
	store  *storage.MemoryStore
	ops    *operator.Registry
}

func newHarness(t *testing.T, workflows ...*models.Workflow) *testHarness {
	t.Helper()

	bag := dag.NewBag()
	for _, wf := range workflows {
		if err := bag.Register(wf); err != nil {
			t.Fatalf("failed to register workflow %s: %v", wf.ID, err)
		}
	}

	store := storage.NewMemoryStore()
	ops := operator.DefaultRegistry()
	e, err := New(Options{
		Bag:       bag,
		Operators: ops,
		Store:     store,
		Entities:  store,
		Backoff:   &retry.NoDelay{},
		Config: &Config{
			WorkerCount:        1,
			QueueSize:          64,
			HookDepthLimit:     hooks.DefaultDepthLimit,
			DefaultMaxAttempts: 3,
			SweepSchedule:      "@every 1s",
			ShutdownTimeout:    time.Second,
		},
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return &testHarness{engine: e, store: store, ops: ops}
}

// drain advances queued instances synchronously until the queue is empty
func (h *testHarness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 200; i++ {
		select {
		case id := <-h.engine.queue:
			h.engine.advanceInstance(context.Background(), id)
		default:
			return
		}
	}
	t.Fatal("queue did not drain within 200 dispatches")
}

func (h *testHarness) mustLoad(t *testing.T, id string) *models.Instance {
	t.Helper()
	instance, err := h.store.LoadInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadInstance(%s) failed: %v", id, err)
	}
	// Status must always equal its derivation from the task table.
	if derived := state.DeriveInstanceStatus(instance.TaskStates); derived != instance.Status {
		t.Fatalf("status %s diverged from derivation %s", instance.Status, derived)
	}
	return instance
}

func (h *testHarness) register(t *testing.T, opType string, fn opFunc) {
	t.Helper()
	err := h.ops.Register(opType, func(spec *models.OperatorSpec) (operator.Operator, error) {
		return fn, nil
	})
	if err != nil {
		t.Fatalf("failed to register operator %s: %v", opType, err)
	}
}

// emits builds a closure operator completing with the given output
func emits(output map[string]any) opFunc {
	return func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		return operator.Continue(output)
	}
}

func linearApprovalWorkflow(t *testing.T) *models.Workflow {
	t.Helper()
	wf, err := dag.NewBuilder("onboarding").
		Task("collect", "human_input", map[string]any{
			"required_fields": []any{"name", "email"},
		}).
		Task("validate", "validate_form", nil).
		Task("approve", "approval", map[string]any{"assigned_to": "manager"}).
		Task("finalize", "finalize_record", nil).
		Chain("collect", "validate", "approve", "finalize").
		Build()
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}
	return wf
}

func registerLinearOps(t *testing.T, h *testHarness) {
	h.register(t, "validate_form", emits(map[string]any{"validation_valid": true}))
	h.register(t, "finalize_record", emits(map[string]any{"finalize_done": true}))
}

func TestLinearHumanInputScenario(t *testing.T) {
	h := newHarness(t, linearApprovalWorkflow(t))
	registerLinearOps(t, h)
	ctx := context.Background()

	instance, err := h.engine.CreateInstance(ctx, "onboarding", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)

	// No input yet: parked on the first human task.
	loaded := h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstancePaused {
		t.Fatalf("expected paused, got %s", loaded.Status)
	}
	collect := loaded.TaskStates["collect"]
	if collect.Status != models.TaskWaiting || collect.WaitingFor != models.WaitingForUserInput {
		t.Fatalf("expected collect waiting for user_input, got %s/%s", collect.Status, collect.WaitingFor)
	}

	// Form submission advances through validate to the approval gate.
	if err := h.engine.DeliverInput(ctx, instance.ID, "collect", map[string]any{
		"name": "A", "email": "a@x",
	}); err != nil {
		t.Fatalf("DeliverInput failed: %v", err)
	}
	h.drain(t)

	loaded = h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstancePaused {
		t.Fatalf("expected paused at approval, got %s", loaded.Status)
	}
	if !loaded.Context.GetBool("validation_valid") {
		t.Error("expected validate output merged into context")
	}
	approve := loaded.TaskStates["approve"]
	if approve.Status != models.TaskWaiting || approve.WaitingFor != models.WaitingForApproval {
		t.Fatalf("expected approve waiting for approval, got %s/%s", approve.Status, approve.WaitingFor)
	}

	// Approval decision completes the instance.
	if err := h.engine.DeliverDecision(ctx, instance.ID, "approve", Decision{
		Decision: "approved", DecidedBy: "u1",
	}); err != nil {
		t.Fatalf("DeliverDecision failed: %v", err)
	}
	h.drain(t)

	loaded = h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstanceCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}
	if !loaded.Context.GetBool("finalize_done") {
		t.Error("expected finalize output in context")
	}
	if loaded.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestRejectionFailsInstance(t *testing.T) {
	h := newHarness(t, linearApprovalWorkflow(t))
	registerLinearOps(t, h)
	ctx := context.Background()

	var failures []*models.Event
	h.engine.Bus().Subscribe("test-observer", func(e *models.Event) {
		if e.Type == models.EventWorkflowFailed {
			failures = append(failures, e)
		}
	})

	instance, err := h.engine.CreateInstance(ctx, "onboarding", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)
	if err := h.engine.DeliverInput(ctx, instance.ID, "collect", map[string]any{
		"name": "A", "email": "a@x",
	}); err != nil {
		t.Fatalf("DeliverInput failed: %v", err)
	}
	h.drain(t)

	if err := h.engine.DeliverDecision(ctx, instance.ID, "approve", Decision{
		Decision: "rejected", DecidedBy: "u1", RejectionReason: "incomplete",
	}); err != nil {
		t.Fatalf("DeliverDecision failed: %v", err)
	}
	h.drain(t)

	loaded := h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstanceFailed {
		t.Fatalf("expected failed, got %s", loaded.Status)
	}
	if loaded.TaskStates["finalize"].Status != models.TaskPending {
		t.Errorf("finalize must never run after rejection, got %s", loaded.TaskStates["finalize"].Status)
	}
	if loaded.TaskStates["approve"].ErrorMessage == "" {
		t.Error("expected rejection reason on the task")
	}
	if len(failures) != 1 {
		t.Errorf("expected one WORKFLOW_FAILED event, got %d", len(failures))
	}
}

func TestFanOutFanIn(t *testing.T) {
	wf, err := dag.NewBuilder("fan").
		Task("a", "mark_a", nil).
		Task("b", "mark_b", nil).
		Task("c", "mark_c", nil).
		Task("d", "mark_d", nil).
		Task("e", "join_e", nil).
		FanOut("a", "b", "c", "d").
		FanIn("e", "b", "c", "d").
		Build()
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}

	h := newHarness(t, wf)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.register(t, "mark_"+id, emits(map[string]any{id + "_done": true}))
	}
	h.register(t, "join_e", func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		for _, key := range []string{"b_done", "c_done", "d_done"} {
			if !tc.Context.GetBool(key) {
				return operator.Failed(fmt.Errorf("join ran before %s", key))
			}
		}
		return operator.Continue(map[string]any{"e_done": true})
	})

	instance, err := h.engine.CreateInstance(context.Background(), "fan", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)

	loaded := h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstanceCompleted {
		t.Fatalf("expected completed, got %s (e: %s)", loaded.Status, loaded.TaskStates["e"].ErrorMessage)
	}
	if !loaded.Context.GetBool("e_done") {
		t.Error("expected join output merged")
	}
}

func TestRemotePollSurvivesSuspension(t *testing.T) {
	wf, err := dag.NewBuilder("ingest").
		Task("ocr", "test_poll", map[string]any{"poll_interval": "5s"}).
		Build()
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}

	h := newHarness(t, wf)
	runner := &scriptedRunner{runID: "run-7", statuses: []string{"running", "succeeded"}}
	h.register(t, "test_poll", func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		op := operator.NewRemotePollWithRunner(tc.Spec, runner)
		return op.Execute(ctx, tc)
	})
	ctx := context.Background()

	instance, err := h.engine.CreateInstance(ctx, "ingest", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)

	// Trigger persisted: run id and timestamps survive in the state slot.
	loaded := h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstancePaused {
		t.Fatalf("expected paused, got %s", loaded.Status)
	}
	ts := loaded.TaskStates["ocr"]
	if ts.NextWakeAt == nil {
		t.Fatal("expected timed wake scheduled")
	}
	slot, ok := loaded.Context.GetMap(models.StateKey("ocr"))
	if !ok || slot["remote_run_id"] != "run-7" {
		t.Fatalf("expected persisted run id, got %v", slot)
	}
	if runner.triggered != 1 {
		t.Fatalf("expected one trigger, got %d", runner.triggered)
	}

	// First wake: still running, re-suspends without re-triggering.
	h.forceWake(t, instance.ID, "ocr")
	loaded = h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstancePaused {
		t.Fatalf("expected paused after first poll, got %s", loaded.Status)
	}
	if runner.triggered != 1 {
		t.Errorf("wake must not re-trigger, got %d triggers", runner.triggered)
	}

	// Second wake: remote run finished.
	h.forceWake(t, instance.ID, "ocr")
	loaded = h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstanceCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}
	if loaded.Context.GetString("ocr_remote_run_id") != "run-7" {
		t.Error("expected run id in final output")
	}
}

// forceWake backdates a task's next wake and runs one sweep cycle
func (h *testHarness) forceWake(t *testing.T, instanceID, taskID string) {
	t.Helper()
	ctx := context.Background()

	instance, err := h.store.LoadInstance(ctx, instanceID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	past := time.Now().UTC().Add(-time.Second)
	instance.TaskStates[taskID].NextWakeAt = &past
	if err := h.store.SaveInstance(ctx, instance); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}

	if err := h.engine.sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	h.drain(t)
}

type scriptedRunner struct {
	runID      string
	statuses   []string
	statusCall int
	triggered  int
}

func (r *scriptedRunner) Trigger(ctx context.Context, params map[string]any) (string, error) {
	r.triggered++
	return r.runID, nil
}

func (r *scriptedRunner) Status(ctx context.Context, runID string) (*operator.RemoteRun, error) {
	status := r.statuses[r.statusCall]
	if r.statusCall < len(r.statuses)-1 {
		r.statusCall++
	}
	if status == "succeeded" {
		return &operator.RemoteRun{Status: status, Output: map[string]any{"pages": 3}}, nil
	}
	return &operator.RemoteRun{Status: status}, nil
}

func TestHookChainCreatesListenerInstance(t *testing.T) {
	producer, err := dag.NewBuilder("producer").
		EmitsEvents().
		Task("create", "entity_create", map[string]any{
			"entity_type": "property",
			"fields":      map[string]any{"address": "seed_address"},
		}).
		Build()
	if err != nil {
		t.Fatalf("failed to build producer: %v", err)
	}
	listener, err := dag.NewBuilder("listener").
		ListensToEvents().
		Task("index", "index_entity", nil).
		Build()
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}

	h := newHarness(t, producer, listener)
	h.register(t, "index_entity", func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		if tc.Context.GetString("source_entity_id") == "" {
			return operator.Failed(fmt.Errorf("mapped entity id missing from initial context"))
		}
		return operator.Continue(map[string]any{"indexed": true})
	})

	if err := h.engine.Hooks().Register(&models.Hook{
		ID:                 "index-on-create",
		ListenerWorkflowID: "listener",
		EventPattern:       `ENTITY_CREATED\..*`,
		ContextMapping:     map[string]string{"entity_id": "source_entity_id"},
	}); err != nil {
		t.Fatalf("hook registration failed: %v", err)
	}

	ctx := context.Background()
	root, err := h.engine.CreateInstance(ctx, "producer", "user-1", "", models.Context{"seed_address": "12 Main St"})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)

	if h.mustLoad(t, root.ID).Status != models.InstanceCompleted {
		t.Fatal("expected producer to complete")
	}

	children, err := h.store.ListInstances(ctx, storage.InstanceFilter{WorkflowID: "listener"})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("expected exactly one listener instance, got %d", len(children))
	}
	child := children[0]
	if child.ParentInstanceID != root.ID {
		t.Errorf("expected parent link to %s, got %s", root.ID, child.ParentInstanceID)
	}
	if child.TriggeringEvent == nil || child.TriggeringEvent.Type != "ENTITY_CREATED.property" {
		t.Errorf("expected triggering event recorded, got %v", child.TriggeringEvent)
	}
	if child.HookDepth != 1 {
		t.Errorf("expected hook depth 1, got %d", child.HookDepth)
	}
	if child.Status != models.InstanceCompleted {
		t.Errorf("expected listener to complete, got %s", child.Status)
	}
}

func TestInputDeliverySurvivesConcurrentAdvance(t *testing.T) {
	// Two branches: setup >> gate runs long while the standalone wait
	// task sits suspended. Input delivered mid-advance must not be
	// undone when the advance saves its own copy of the instance.
	wf, err := dag.NewBuilder("race").
		Task("setup", "noop", nil).
		Task("gate", "slow_gate", nil).
		Task("wait", "human_input", map[string]any{
			"required_fields": []any{"full_name"},
		}).
		Chain("setup", "gate").
		Build()
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}

	h := newHarness(t, wf)
	gateEntered := make(chan struct{})
	gateProceed := make(chan struct{})
	var proceedOnce sync.Once
	releaseGate := func() { proceedOnce.Do(func() { close(gateProceed) }) }
	t.Cleanup(releaseGate)
	h.register(t, "slow_gate", func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		close(gateEntered)
		<-gateProceed
		return operator.Continue(map[string]any{"gate_done": true})
	})

	ctx := context.Background()
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { h.engine.Stop(context.Background()) })

	instance, err := h.engine.CreateInstance(ctx, "race", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	select {
	case <-gateEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("gate task never started executing")
	}

	// The advance is now mid-gate with wait already suspended and
	// persisted. Deliver while the advance holds its own copy.
	delivered := make(chan error, 1)
	go func() {
		delivered <- h.engine.DeliverInput(ctx, instance.ID, "wait", map[string]any{
			"full_name": "A",
		})
	}()
	time.Sleep(50 * time.Millisecond)
	releaseGate()

	select {
	case err := <-delivered:
		if err != nil {
			t.Fatalf("DeliverInput failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("input delivery never returned")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		loaded := h.mustLoad(t, instance.ID)
		if loaded.Status.IsTerminal() {
			if loaded.Status != models.InstanceCompleted {
				t.Fatalf("expected completed, got %s", loaded.Status)
			}
			if loaded.TaskStates["wait"].Status != models.TaskCompleted {
				t.Fatalf("expected wait completed, got %s", loaded.TaskStates["wait"].Status)
			}
			if !loaded.Context.GetBool("wait_validated") {
				t.Error("expected delivered input accepted by the wait task")
			}
			if !loaded.Context.GetBool("gate_done") {
				t.Error("expected gate output retained alongside the delivery")
			}
			return
		}
		if time.Now().After(deadline) {
			ws := loaded.TaskStates["wait"]
			_, hasInput := loaded.Context[models.InputKey("wait")]
			t.Fatalf("instance never settled: status=%s wait=%s input_present=%v",
				loaded.Status, ws.Status, hasInput)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetryEscalatesAtAttemptCap(t *testing.T) {
	wf, err := dag.NewBuilder("flaky").
		Task("call", "always_retry", nil).
		TaskMaxAttempts("call", 3).
		Build()
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}

	h := newHarness(t, wf)
	attempts := 0
	h.register(t, "always_retry", func(ctx context.Context, tc *operator.TaskContext) *operator.Result {
		attempts++
		return operator.Retry(errors.New("upstream flaked"), 0)
	})
	ctx := context.Background()

	instance, err := h.engine.CreateInstance(ctx, "flaky", "user-1", "", nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	h.drain(t)

	// Attempts 1 and 2 end in retrying; each wake re-runs the task.
	for i := 0; i < 2; i++ {
		loaded := h.mustLoad(t, instance.ID)
		if loaded.Status.IsTerminal() {
			break
		}
		h.forceWake(t, instance.ID, "call")
	}

	loaded := h.mustLoad(t, instance.ID)
	if loaded.Status != models.InstanceFailed {
		t.Fatalf("expected failed after attempt cap, got %s", loaded.Status)
	}
	ts := loaded.TaskStates["call"]
	if ts.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", ts.AttemptCount)
	}
	if attempts != 3 {
		t.Errorf("expected operator run 3 times, got %d", attempts)
	}
	if !strings.Contains(ts.ErrorMessage, "max_attempts exceeded") {
		t.Errorf("expected max_attempts exceeded in error, got %q", ts.ErrorMessage)
	}
}
