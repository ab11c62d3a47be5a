package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Bag is the process-wide registry of workflow definitions. Definitions
// are registered once at startup (or hot-loaded from definition files)
// and are immutable afterwards.
type Bag struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewBag creates an empty workflow registry
func NewBag() *Bag {
	return &Bag{
		workflows: make(map[string]*models.Workflow),
	}
}

// Register validates a workflow and adds it to the bag. Re-registration
// of an existing id is a configuration error.
func (b *Bag) Register(wf *models.Workflow) error {
	if err := Validate(wf); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow already registered: %s", wf.ID)
	}
	b.workflows[wf.ID] = wf
	return nil
}

// Get returns a workflow definition by id
func (b *Bag) Get(id string) (*models.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	wf, exists := b.workflows[id]
	if !exists {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	return wf, nil
}

// List returns all registered workflows sorted by id
func (b *Bag) List() []*models.Workflow {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(b.workflows))
	for _, wf := range b.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered workflows
func (b *Bag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.workflows)
}
