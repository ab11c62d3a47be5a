package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

// MemoryStore is an in-memory Store and EntityStore for tests and
// development. Documents are deep-copied through JSON-free cloning on
// both save and load so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*models.Instance
	workflows map[string]*models.Workflow
	entities  map[string]*models.Entity
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*models.Instance),
		workflows: make(map[string]*models.Workflow),
		entities:  make(map[string]*models.Entity),
	}
}

// SaveInstance stores a deep copy of the instance
func (s *MemoryStore) SaveInstance(ctx context.Context, instance *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = copyInstance(instance)
	return nil
}

// LoadInstance returns a deep copy of the stored instance
func (s *MemoryStore) LoadInstance(ctx context.Context, id string) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, exists := s.instances[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyInstance(instance), nil
}

// ListInstances lists stored instances matching the filter, newest first
func (s *MemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Instance
	for _, instance := range s.instances {
		if filter.WorkflowID != "" && instance.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.OwnerUserID != "" && instance.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.Status != nil && instance.Status != *filter.Status {
			continue
		}
		if filter.After != nil && !instance.CreatedAt.After(*filter.After) {
			continue
		}
		if filter.Before != nil && !instance.CreatedAt.Before(*filter.Before) {
			continue
		}
		result = append(result, copyInstance(instance))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// SaveWorkflowRegistration records a workflow definition
func (s *MemoryStore) SaveWorkflowRegistration(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

// ListWorkflowRegistrations returns recorded workflow definitions sorted by id
func (s *MemoryStore) ListWorkflowRegistrations(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateEntity stores a new entity
func (s *MemoryStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[entity.ID]; exists {
		return ErrAlreadyExists
	}
	s.entities[entity.ID] = copyEntity(entity)
	return nil
}

// UpdateEntity replaces an entity's data
func (s *MemoryStore) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.entities[entity.ID]
	if !exists {
		return ErrNotFound
	}
	updated := copyEntity(entity)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.entities[entity.ID] = updated
	return nil
}

// GetEntity loads an entity by id
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, exists := s.entities[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyEntity(entity), nil
}

// ListEntities lists entities by type and optional owner
func (s *MemoryStore) ListEntities(ctx context.Context, entityType, ownerUserID string) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, entity := range s.entities {
		if entityType != "" && entity.Type != entityType {
			continue
		}
		if ownerUserID != "" && entity.OwnerUserID != ownerUserID {
			continue
		}
		out = append(out, copyEntity(entity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func copyInstance(instance *models.Instance) *models.Instance {
	out := *instance
	out.Context = instance.Context.Clone()

	out.TaskStates = make(map[string]*models.TaskState, len(instance.TaskStates))
	for id, ts := range instance.TaskStates {
		c := *ts
		if ts.Output != nil {
			c.Output = map[string]any(models.Context(ts.Output).Clone())
		}
		if ts.Metadata != nil {
			c.Metadata = map[string]any(models.Context(ts.Metadata).Clone())
		}
		out.TaskStates[id] = &c
	}

	if instance.TriggeringEvent != nil {
		event := *instance.TriggeringEvent
		if event.Payload != nil {
			event.Payload = map[string]any(models.Context(event.Payload).Clone())
		}
		out.TriggeringEvent = &event
	}
	return &out
}

func copyEntity(entity *models.Entity) *models.Entity {
	out := *entity
	if entity.Data != nil {
		out.Data = map[string]any(models.Context(entity.Data).Clone())
	}
	return &out
}
