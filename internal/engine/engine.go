package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/internal/eventbus"
	"github.com/tidewater-io/cascade/internal/hooks"
	"github.com/tidewater-io/cascade/internal/operator"
	"github.com/tidewater-io/cascade/internal/retry"
	"github.com/tidewater-io/cascade/internal/state"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/models"
)

var (
	// ErrBusy is returned when the ready queue is full
	ErrBusy = errors.New("engine is at capacity")

	// ErrUnknownWorkflow is returned when the workflow id is not in the bag
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrNotRunning is returned for operations requiring a started engine
	ErrNotRunning = errors.New("engine is not running")
)

// Config holds engine configuration
type Config struct {
	WorkerCount        int
	QueueSize          int
	HookDepthLimit     int
	DefaultMaxAttempts int
	SweepSchedule      string
	ShutdownTimeout    time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:        5,
		QueueSize:          100,
		HookDepthLimit:     hooks.DefaultDepthLimit,
		DefaultMaxAttempts: 3,
		SweepSchedule:      "@every 1s",
		ShutdownTimeout:    30 * time.Second,
	}
}

// Engine schedules workflow instances across a worker pool. Independent
// instances advance in parallel; within one instance, task execution is
// serialized by the single advance loop that owns it.
type Engine struct {
	bag       *dag.Bag
	operators *operator.Registry
	hooks     *hooks.Registry
	bus       *eventbus.Bus
	store     storage.Store
	entities  storage.EntityStore
	machine   *state.Machine
	publisher state.Publisher
	backoff   retry.Strategy
	config    *Config
	metrics   *Metrics

	queue   chan string
	cron    *cron.Cron
	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	stop    chan struct{}

	// inFlight serializes every instance mutation: workers advancing,
	// intake writes, cancellation, and sweep wakes all hold the claim
	// before load-modify-save. rerun records wake-ups that arrived
	// while the claim was held.
	inFlight     map[string]bool
	rerun        map[string]bool
	inFlightMu   sync.Mutex
	inFlightFree *sync.Cond
}

// Options are the collaborators an engine is assembled from. Store and
// Bag are required; the rest default to in-process implementations.
type Options struct {
	Bag       *dag.Bag
	Operators *operator.Registry
	Hooks     *hooks.Registry
	Bus       *eventbus.Bus
	Store     storage.Store
	Entities  storage.EntityStore
	Publisher state.Publisher
	Backoff   retry.Strategy
	Config    *Config
	Metrics   *Metrics
}

// New assembles an engine from its collaborators
func New(opts Options) (*Engine, error) {
	if opts.Bag == nil {
		return nil, fmt.Errorf("engine requires a workflow bag")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	if opts.Operators == nil {
		opts.Operators = operator.DefaultRegistry()
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewRegistry()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.NewBus()
	}
	if opts.Publisher == nil {
		opts.Publisher = &state.NoOpPublisher{}
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.DefaultExponentialBackoff()
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}

	e := &Engine{
		bag:       opts.Bag,
		operators: opts.Operators,
		hooks:     opts.Hooks,
		bus:       opts.Bus,
		store:     opts.Store,
		entities:  opts.Entities,
		machine:   state.NewMachine(),
		publisher: opts.Publisher,
		backoff:   opts.Backoff,
		config:    opts.Config,
		metrics:   opts.Metrics,
		queue:     make(chan string, opts.Config.QueueSize),
		stop:      make(chan struct{}),
		inFlight:  make(map[string]bool),
		rerun:     make(map[string]bool),
	}
	e.inFlightFree = sync.NewCond(&e.inFlightMu)
	e.bus.Subscribe("hook-dispatch", e.dispatchToHooks)
	return e, nil
}

// Bus returns the engine's event bus
func (e *Engine) Bus() *eventbus.Bus {
	return e.bus
}

// Hooks returns the engine's hook registry
func (e *Engine) Hooks() *hooks.Registry {
	return e.hooks
}

// Start launches the worker pool and the wake sweeper
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}
	e.running = true

	for i := 0; i < e.config.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	e.cron = cron.New()
	_, err := e.cron.AddFunc(e.config.SweepSchedule, func() {
		if err := e.sweep(ctx); err != nil {
			log.Printf("Wake sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", e.config.SweepSchedule, err)
	}
	e.cron.Start()

	log.Printf("Engine started with %d workers", e.config.WorkerCount)
	return nil
}

// Stop drains the workers and stops the sweeper
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	if e.cron != nil {
		cronCtx := e.cron.Stop()
		<-cronCtx.Done()
	}
	close(e.stop)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All engine workers stopped")
	case <-time.After(e.config.ShutdownTimeout):
		log.Println("Engine shutdown timeout reached")
	}
	return nil
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		case instanceID := <-e.queue:
			e.advanceInstance(ctx, instanceID)
		}
	}
}

// CreateInstance instantiates a workflow from the bag and queues it.
// Returns ErrBusy when the ready queue cannot absorb the new instance.
func (e *Engine) CreateInstance(ctx context.Context, workflowID, ownerUserID, tenant string, initial models.Context) (*models.Instance, error) {
	wf, err := e.bag.Get(workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}

	instance := e.newInstance(wf, ownerUserID, tenant, initial)
	if err := e.store.SaveInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to persist new instance: %w", err)
	}

	if err := e.enqueue(instance.ID); err != nil {
		return nil, err
	}
	e.metrics.InstanceCreated(workflowID)
	return instance, nil
}

func (e *Engine) newInstance(wf *models.Workflow, ownerUserID, tenant string, initial models.Context) *models.Instance {
	ctx := models.Context{}
	if initial != nil {
		ctx = initial.Clone()
	}

	taskStates := make(map[string]*models.TaskState, len(wf.Tasks))
	for taskID := range wf.Tasks {
		taskStates[taskID] = &models.TaskState{Status: models.TaskPending}
	}

	return &models.Instance{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		OwnerUserID: ownerUserID,
		Tenant:      tenant,
		Status:      models.InstancePending,
		Context:     ctx,
		TaskStates:  taskStates,
		CreatedAt:   time.Now().UTC(),
	}
}

func (e *Engine) enqueue(instanceID string) error {
	select {
	case e.queue <- instanceID:
		e.metrics.QueueDepth(len(e.queue))
		return nil
	default:
		return ErrBusy
	}
}

// GetInstance loads an instance from the store
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*models.Instance, error) {
	return e.store.LoadInstance(ctx, instanceID)
}

// ListInstances lists instances matching the filter
func (e *Engine) ListInstances(ctx context.Context, filter storage.InstanceFilter) ([]*models.Instance, error) {
	return e.store.ListInstances(ctx, filter)
}

// EmitEvent publishes an event onto the engine's bus
func (e *Engine) EmitEvent(event *models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.metrics.EventDispatched(event.Type)
	e.bus.Publish(event)
}

// dispatchToHooks creates listener instances for every hook matching the
// event. Expansion is bounded: an event from an instance already at the
// depth limit creates no listeners.
func (e *Engine) dispatchToHooks(event *models.Event) {
	matches := e.hooks.Matches(event)
	if len(matches) == 0 {
		return
	}

	ctx := context.Background()
	sourceDepth := 0
	if event.SourceInstanceID != "" {
		if source, err := e.store.LoadInstance(ctx, event.SourceInstanceID); err == nil {
			sourceDepth = source.HookDepth
		}
	}
	if sourceDepth >= e.config.HookDepthLimit {
		log.Printf("Hook depth limit %d reached for event %s from instance %s; listeners not created",
			e.config.HookDepthLimit, event.Type, event.SourceInstanceID)
		e.metrics.HookDepthExceeded()
		return
	}

	for _, match := range matches {
		wf, err := e.bag.Get(match.Hook.ListenerWorkflowID)
		if err != nil {
			log.Printf("Hook %s references unknown workflow %s", match.Hook.ID, match.Hook.ListenerWorkflowID)
			continue
		}

		owner, _ := event.Payload["owner"].(string)
		child := e.newInstance(wf, owner, "", match.InitialContext)
		child.ParentInstanceID = event.SourceInstanceID
		child.TriggeringEvent = event
		child.HookDepth = sourceDepth + 1

		if err := e.store.SaveInstance(ctx, child); err != nil {
			log.Printf("Failed to persist hook instance for %s: %v", match.Hook.ID, err)
			continue
		}
		if err := e.enqueue(child.ID); err != nil {
			log.Printf("Failed to queue hook instance %s: %v", child.ID, err)
			continue
		}
		e.metrics.InstanceCreated(wf.ID)
		log.Printf("Hook %s created instance %s of %s (depth %d)",
			match.Hook.ID, child.ID, wf.ID, child.HookDepth)
	}
}
