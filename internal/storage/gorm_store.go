package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidewater-io/cascade/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store and EntityStore against PostgreSQL
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a PostgreSQL-backed store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// SaveInstance upserts the full instance document. The write is durable
// when the call returns; gorm's upsert serializes per primary key, which
// gives the per-instance write ordering the engine relies on.
func (s *GormStore) SaveInstance(ctx context.Context, instance *models.Instance) error {
	model, err := FromInstance(instance)
	if err != nil {
		return fmt.Errorf("failed to convert instance to model: %w", err)
	}
	model.UpdatedAt = time.Now().UTC()

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// LoadInstance loads an instance by id
func (s *GormStore) LoadInstance(ctx context.Context, id string) (*models.Instance, error) {
	instanceID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid instance id: %w", err)
	}

	var model InstanceModel
	if err := s.db.WithContext(ctx).Where("id = ?", instanceID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	return model.ToInstance()
}

// ListInstances lists instances matching the filter, newest first
func (s *GormStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, error) {
	query := s.db.WithContext(ctx).Model(&InstanceModel{})

	if filter.WorkflowID != "" {
		query = query.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.OwnerUserID != "" {
		query = query.Where("owner_user_id = ?", filter.OwnerUserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.After != nil {
		query = query.Where("created_at > ?", *filter.After)
	}
	if filter.Before != nil {
		query = query.Where("created_at < ?", *filter.Before)
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []InstanceModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*models.Instance, 0, len(rows))
	for i := range rows {
		instance, err := rows[i].ToInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// SaveWorkflowRegistration records a workflow definition for listing
func (s *GormStore) SaveWorkflowRegistration(ctx context.Context, wf *models.Workflow) error {
	model := &WorkflowModel{
		ID:              wf.ID,
		Description:     wf.Description,
		Type:            string(wf.Type),
		Tags:            StringArray(wf.Tags),
		EmitsEvents:     wf.EmitsEvents,
		ListensToEvents: wf.ListensToEvents,
		TaskCount:       len(wf.Tasks),
		RegisteredAt:    time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to save workflow registration: %w", err)
	}
	return nil
}

// ListWorkflowRegistrations returns all recorded workflow registrations
func (s *GormStore) ListWorkflowRegistrations(ctx context.Context) ([]*models.Workflow, error) {
	var rows []WorkflowModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflow registrations: %w", err)
	}

	workflows := make([]*models.Workflow, len(rows))
	for i, row := range rows {
		workflows[i] = &models.Workflow{
			ID:              row.ID,
			Description:     row.Description,
			Type:            models.WorkflowType(row.Type),
			Tags:            []string(row.Tags),
			EmitsEvents:     row.EmitsEvents,
			ListensToEvents: row.ListensToEvents,
			CreatedAt:       row.RegisteredAt,
		}
	}
	return workflows, nil
}

// CreateEntity stores a new entity document
func (s *GormStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	model, err := FromEntity(entity)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// UpdateEntity replaces an entity's data document
func (s *GormStore) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	model, err := FromEntity(entity)
	if err != nil {
		return err
	}
	model.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).Model(&EntityModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"data":       model.Data,
			"updated_at": model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update entity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEntity loads an entity by id
func (s *GormStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	entityID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid entity id: %w", err)
	}

	var model EntityModel
	if err := s.db.WithContext(ctx).Where("id = ?", entityID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return model.ToEntity(), nil
}

// ListEntities lists entities by type and optional owner
func (s *GormStore) ListEntities(ctx context.Context, entityType, ownerUserID string) ([]*models.Entity, error) {
	query := s.db.WithContext(ctx).Model(&EntityModel{})
	if entityType != "" {
		query = query.Where("type = ?", entityType)
	}
	if ownerUserID != "" {
		query = query.Where("owner_user_id = ?", ownerUserID)
	}

	var rows []EntityModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	entities := make([]*models.Entity, len(rows))
	for i := range rows {
		entities[i] = rows[i].ToEntity()
	}
	return entities, nil
}
