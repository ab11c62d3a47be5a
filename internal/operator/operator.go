package operator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/models"
)

// Operator executes one task attempt against the instance context and
// reports what should happen next through the Result it returns.
// Execute must not write to the instance context directly; all output
// flows back through the Result so the engine controls the single merge.
type Operator interface {
	Execute(ctx context.Context, tc *TaskContext) *Result
}

// ResultKind discriminates the execution outcomes an operator can report
type ResultKind string

const (
	// KindContinue means the task finished and its output should be merged
	KindContinue ResultKind = "continue"

	// KindWaiting suspends the task until external input arrives
	KindWaiting ResultKind = "waiting"

	// KindRetry schedules another attempt after a delay
	KindRetry ResultKind = "retry"

	// KindSkip marks the task and its downstream subtree as skipped
	KindSkip ResultKind = "skipped"

	// KindFailed marks the task failed without further attempts
	KindFailed ResultKind = "failed"
)

// Result is the outcome of one operator execution
type Result struct {
	Kind       ResultKind
	Output     map[string]any
	WaitingFor string
	AssignedTo string
	RetryDelay time.Duration
	Reason     string
	Err        error
}

// Continue reports successful completion with the given output
func Continue(output map[string]any) *Result {
	return &Result{Kind: KindContinue, Output: output}
}

// Waiting suspends the task until input of the given kind arrives.
// Output is merged into the context before suspension, which is how
// polling operators persist per-attempt state across the suspension.
func Waiting(output map[string]any, waitingFor string) *Result {
	return &Result{Kind: KindWaiting, Output: output, WaitingFor: waitingFor}
}

// WithAssignee records the user or team the suspended task is waiting on
func (r *Result) WithAssignee(assignedTo string) *Result {
	r.AssignedTo = assignedTo
	return r
}

// WithWakeAfter asks the engine for a timed wake after the given delay,
// without waiting for external input
func (r *Result) WithWakeAfter(delay time.Duration) *Result {
	r.RetryDelay = delay
	return r
}

// Retry requests another attempt; a zero delay defers to the engine's
// backoff strategy
func Retry(err error, delay time.Duration) *Result {
	return &Result{Kind: KindRetry, Err: err, RetryDelay: delay}
}

// Skip marks the task skipped for the given reason
func Skip(reason string) *Result {
	return &Result{Kind: KindSkip, Reason: reason}
}

// Failed reports a permanent failure
func Failed(err error) *Result {
	return &Result{Kind: KindFailed, Err: err}
}

// TaskContext is the read view and side-channel an operator executes
// against. Context reads see the instance context as of dispatch time;
// EmitEvent buffers events that the engine publishes only after the
// post-execution state is durable.
type TaskContext struct {
	InstanceID  string
	WorkflowID  string
	TaskID      string
	OwnerUserID string
	Attempt     int

	Spec     *models.OperatorSpec
	Context  models.Context
	Entities storage.EntityStore

	logger *logrus.Entry
	events []*models.Event
}

// NewTaskContext builds the execution view for one task attempt
func NewTaskContext(instance *models.Instance, spec *models.OperatorSpec, attempt int, entities storage.EntityStore, logger *logrus.Logger) *TaskContext {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TaskContext{
		InstanceID:  instance.ID,
		WorkflowID:  instance.WorkflowID,
		TaskID:      spec.TaskID,
		OwnerUserID: instance.OwnerUserID,
		Attempt:     attempt,
		Spec:        spec,
		Context:     instance.Context.Clone(),
		Entities:    entities,
		logger: logger.WithFields(logrus.Fields{
			"instance_id": instance.ID,
			"workflow_id": instance.WorkflowID,
			"task_id":     spec.TaskID,
		}),
	}
}

// Input returns the delivered input document for this task, if any
func (tc *TaskContext) Input() (map[string]any, bool) {
	return tc.Context.GetMap(models.InputKey(tc.TaskID))
}

// StateSlot returns this task's private state document persisted across
// suspensions, if any
func (tc *TaskContext) StateSlot() (map[string]any, bool) {
	return tc.Context.GetMap(models.StateKey(tc.TaskID))
}

// LogInfo records an informational execution log line
func (tc *TaskContext) LogInfo(format string, args ...any) {
	tc.logger.Infof(format, args...)
}

// LogWarning records a warning execution log line
func (tc *TaskContext) LogWarning(format string, args ...any) {
	tc.logger.Warnf(format, args...)
}

// LogError records an error execution log line
func (tc *TaskContext) LogError(format string, args ...any) {
	tc.logger.Errorf(format, args...)
}

// EmitEvent buffers an event for publication after the attempt's state
// transition is durable
func (tc *TaskContext) EmitEvent(eventType string, payload map[string]any) {
	tc.events = append(tc.events, &models.Event{
		Type:             eventType,
		SourceWorkflowID: tc.WorkflowID,
		SourceInstanceID: tc.InstanceID,
		Payload:          payload,
		Timestamp:        time.Now().UTC(),
	})
}

// PendingEvents returns the events buffered during this attempt
func (tc *TaskContext) PendingEvents() []*models.Event {
	return tc.events
}
