package dag

import (
	"fmt"
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Builder assembles a workflow definition programmatically. It is an
// explicit value: operators are added with Task and wired with Chain /
// FanOut / FanIn before Build. There is no hidden current-workflow scope.
type Builder struct {
	wf     *models.Workflow
	errors []error
}

// NewBuilder creates a builder for a workflow with the given id
func NewBuilder(id string) *Builder {
	return &Builder{
		wf: &models.Workflow{
			ID:        id,
			Type:      models.WorkflowTypeProcess,
			Tasks:     make(map[string]*models.OperatorSpec),
			Tags:      []string{},
			CreatedAt: time.Now().UTC(),
		},
	}
}

// Description sets the workflow description
func (b *Builder) Description(desc string) *Builder {
	b.wf.Description = desc
	return b
}

// Type sets the workflow type
func (b *Builder) Type(t models.WorkflowType) *Builder {
	b.wf.Type = t
	return b
}

// Tags sets the workflow tags
func (b *Builder) Tags(tags ...string) *Builder {
	b.wf.Tags = tags
	return b
}

// EmitsEvents marks the workflow as an event emitter
func (b *Builder) EmitsEvents() *Builder {
	b.wf.EmitsEvents = true
	return b
}

// ListensToEvents marks the workflow as hook-triggered
func (b *Builder) ListensToEvents() *Builder {
	b.wf.ListensToEvents = true
	return b
}

// EntityOutputs declares the entity labels instances may produce
func (b *Builder) EntityOutputs(labels ...string) *Builder {
	b.wf.EntityOutputs = labels
	return b
}

// Task adds an operator to the workflow
func (b *Builder) Task(taskID, operatorType string, config map[string]any) *Builder {
	if _, exists := b.wf.Tasks[taskID]; exists {
		b.errors = append(b.errors, fmt.Errorf("duplicate task id: %s", taskID))
		return b
	}
	b.wf.Tasks[taskID] = &models.OperatorSpec{
		TaskID: taskID,
		Type:   operatorType,
		Config: config,
	}
	return b
}

// TaskTimeout sets a wall-clock timeout on a previously added task
func (b *Builder) TaskTimeout(taskID string, timeout time.Duration) *Builder {
	spec, exists := b.wf.Tasks[taskID]
	if !exists {
		b.errors = append(b.errors, fmt.Errorf("timeout on unknown task: %s", taskID))
		return b
	}
	spec.Timeout = timeout
	return b
}

// TaskMaxAttempts sets the retry cap on a previously added task
func (b *Builder) TaskMaxAttempts(taskID string, max int) *Builder {
	spec, exists := b.wf.Tasks[taskID]
	if !exists {
		b.errors = append(b.errors, fmt.Errorf("max attempts on unknown task: %s", taskID))
		return b
	}
	spec.MaxAttempts = max
	return b
}

// Chain wires a linear dependency path: Chain("a", "b", "c") means
// a -> b -> c.
func (b *Builder) Chain(taskIDs ...string) *Builder {
	for i := 0; i < len(taskIDs)-1; i++ {
		b.edge(taskIDs[i], taskIDs[i+1])
	}
	return b
}

// FanOut wires one upstream to many downstreams: a -> [b, c, d]
func (b *Builder) FanOut(upstream string, downstreams ...string) *Builder {
	for _, d := range downstreams {
		b.edge(upstream, d)
	}
	return b
}

// FanIn wires many upstreams to one downstream: [a, b] -> c
func (b *Builder) FanIn(downstream string, upstreams ...string) *Builder {
	for _, u := range upstreams {
		b.edge(u, downstream)
	}
	return b
}

func (b *Builder) edge(from, to string) {
	src, ok := b.wf.Tasks[from]
	if !ok {
		b.errors = append(b.errors, fmt.Errorf("edge from unknown task: %s", from))
		return
	}
	dst, ok := b.wf.Tasks[to]
	if !ok {
		b.errors = append(b.errors, fmt.Errorf("edge to unknown task: %s", to))
		return
	}
	for _, existing := range src.DownstreamIDs {
		if existing == to {
			return // idempotent edge declaration
		}
	}
	src.DownstreamIDs = append(src.DownstreamIDs, to)
	dst.UpstreamIDs = append(dst.UpstreamIDs, from)
}

// Build validates and returns the workflow definition
func (b *Builder) Build() (*models.Workflow, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("workflow %s has build errors: %v", b.wf.ID, b.errors[0])
	}
	if err := Validate(b.wf); err != nil {
		return nil, err
	}
	return b.wf, nil
}
