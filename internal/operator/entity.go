package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidewater-io/cascade/pkg/models"
)

// EntityCreate writes a new entity document assembled from context keys
// and emits ENTITY_CREATED.<type>.
//
// Config:
//
//	entity_type: type label for the document, required
//	data_from: context dot-path holding the document body
//	fields: map of document field -> context dot-path
type EntityCreate struct {
	spec *models.OperatorSpec
}

// NewEntityCreate creates an entity create operator from its spec
func NewEntityCreate(spec *models.OperatorSpec) (*EntityCreate, error) {
	if spec.ConfigString("entity_type") == "" {
		return nil, fmt.Errorf("entity_create task %s: entity_type is required", spec.TaskID)
	}
	return &EntityCreate{spec: spec}, nil
}

// Execute assembles and persists the entity document
func (o *EntityCreate) Execute(ctx context.Context, tc *TaskContext) *Result {
	if tc.Entities == nil {
		return Failed(fmt.Errorf("no entity store configured"))
	}
	entityType := o.spec.ConfigString("entity_type")

	data, err := assembleEntityData(o.spec, tc)
	if err != nil {
		return Failed(err)
	}

	entity := &models.Entity{
		ID:          uuid.New().String(),
		Type:        entityType,
		OwnerUserID: tc.OwnerUserID,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := tc.Entities.CreateEntity(ctx, entity); err != nil {
		return Retry(fmt.Errorf("failed to create entity: %w", err), 0)
	}

	tc.LogInfo("created %s entity %s", entityType, entity.ID)
	tc.EmitEvent(models.EventEntityCreated+"."+entityType, map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entityType,
		"owner":       tc.OwnerUserID,
	})

	return Continue(map[string]any{
		tc.TaskID + "_entity_id":   entity.ID,
		tc.TaskID + "_entity_type": entityType,
	})
}

// EntityUpdate replaces fields on an existing entity document and emits
// ENTITY_UPDATED.<type>.
//
// Config:
//
//	entity_type: type label, required
//	entity_id_from: context dot-path holding the entity id, required
//	data_from: context dot-path holding the replacement body
//	fields: map of document field -> context dot-path
type EntityUpdate struct {
	spec *models.OperatorSpec
}

// NewEntityUpdate creates an entity update operator from its spec
func NewEntityUpdate(spec *models.OperatorSpec) (*EntityUpdate, error) {
	if spec.ConfigString("entity_type") == "" {
		return nil, fmt.Errorf("entity_update task %s: entity_type is required", spec.TaskID)
	}
	if spec.ConfigString("entity_id_from") == "" {
		return nil, fmt.Errorf("entity_update task %s: entity_id_from is required", spec.TaskID)
	}
	return &EntityUpdate{spec: spec}, nil
}

// Execute loads, patches, and persists the entity document
func (o *EntityUpdate) Execute(ctx context.Context, tc *TaskContext) *Result {
	if tc.Entities == nil {
		return Failed(fmt.Errorf("no entity store configured"))
	}
	entityType := o.spec.ConfigString("entity_type")

	entityID := tc.Context.GetString(o.spec.ConfigString("entity_id_from"))
	if entityID == "" {
		return Failed(fmt.Errorf("entity id not found at %q", o.spec.ConfigString("entity_id_from")))
	}

	entity, err := tc.Entities.GetEntity(ctx, entityID)
	if err != nil {
		return Retry(fmt.Errorf("failed to load entity %s: %w", entityID, err), 0)
	}

	patch, err := assembleEntityData(o.spec, tc)
	if err != nil {
		return Failed(err)
	}
	if entity.Data == nil {
		entity.Data = map[string]any{}
	}
	for key, value := range patch {
		entity.Data[key] = value
	}

	if err := tc.Entities.UpdateEntity(ctx, entity); err != nil {
		return Retry(fmt.Errorf("failed to update entity %s: %w", entityID, err), 0)
	}

	tc.LogInfo("updated %s entity %s", entityType, entityID)
	tc.EmitEvent(models.EventEntityUpdated+"."+entityType, map[string]any{
		"entity_id":   entityID,
		"entity_type": entityType,
		"owner":       tc.OwnerUserID,
	})

	return Continue(map[string]any{
		tc.TaskID + "_entity_id": entityID,
		tc.TaskID + "_updated":   true,
	})
}

func assembleEntityData(spec *models.OperatorSpec, tc *TaskContext) (map[string]any, error) {
	data := map[string]any{}

	if path := spec.ConfigString("data_from"); path != "" {
		body, ok := tc.Context.GetMap(path)
		if !ok {
			return nil, fmt.Errorf("data_from path %q not found in context", path)
		}
		for key, value := range body {
			data[key] = value
		}
	}

	if fields, ok := spec.Config["fields"].(map[string]any); ok {
		for field, source := range fields {
			path, ok := source.(string)
			if !ok {
				return nil, fmt.Errorf("fields source for %q must be a string", field)
			}
			value, found := tc.Context.Get(path)
			if !found {
				return nil, fmt.Errorf("field source path %q not found in context", path)
			}
			data[field] = value
		}
	}
	return data, nil
}
