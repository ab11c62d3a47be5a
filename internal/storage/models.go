package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidewater-io/cascade/pkg/models"
)

// JSONB is a custom type for JSONB columns
type JSONB map[string]any

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// StringArray is a custom type for string array columns stored as JSONB
type StringArray []string

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, s)
}

// InstanceModel is the database row for a workflow instance. Context and
// the full task-state table are stored as JSONB documents so a suspended
// instance round-trips losslessly.
type InstanceModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key"`
	WorkflowID       string    `gorm:"type:varchar(255);not null;index:idx_instances_workflow_id"`
	OwnerUserID      string    `gorm:"type:varchar(255);not null;index:idx_instances_owner"`
	Tenant           string    `gorm:"type:varchar(255)"`
	Status           string    `gorm:"type:varchar(50);not null;default:'pending';index:idx_instances_status"`
	Context          JSONB     `gorm:"type:jsonb;default:'{}'"`
	TaskStates       []byte    `gorm:"type:jsonb"`
	ParentInstanceID string    `gorm:"type:varchar(64);index:idx_instances_parent"`
	TriggeringEvent  []byte    `gorm:"type:jsonb"`
	HookDepth        int       `gorm:"not null;default:0"`
	CancelRequested  bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_instances_created_at"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for InstanceModel
func (InstanceModel) TableName() string {
	return "instances"
}

// WorkflowModel is the informational registration row for a workflow
type WorkflowModel struct {
	ID              string      `gorm:"type:varchar(255);primary_key"`
	Description     string      `gorm:"type:text"`
	Type            string      `gorm:"type:varchar(50);not null"`
	Tags            StringArray `gorm:"type:jsonb;default:'[]'"`
	EmitsEvents     bool        `gorm:"default:false"`
	ListensToEvents bool        `gorm:"default:false"`
	TaskCount       int         `gorm:"not null;default:0"`
	RegisteredAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for WorkflowModel
func (WorkflowModel) TableName() string {
	return "workflow_registrations"
}

// EntityModel is the database row for a durable entity document
type EntityModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	Type        string    `gorm:"type:varchar(255);not null;index:idx_entities_type"`
	OwnerUserID string    `gorm:"type:varchar(255);index:idx_entities_owner"`
	Data        JSONB     `gorm:"type:jsonb;default:'{}'"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for EntityModel
func (EntityModel) TableName() string {
	return "entities"
}

// ToInstance converts an InstanceModel to a models.Instance
func (m *InstanceModel) ToInstance() (*models.Instance, error) {
	instance := &models.Instance{
		ID:               m.ID.String(),
		WorkflowID:       m.WorkflowID,
		OwnerUserID:      m.OwnerUserID,
		Tenant:           m.Tenant,
		Status:           models.InstanceStatus(m.Status),
		Context:          models.Context(m.Context),
		ParentInstanceID: m.ParentInstanceID,
		HookDepth:        m.HookDepth,
		CancelRequested:  m.CancelRequested,
		CreatedAt:        m.CreatedAt,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}

	if len(m.TaskStates) > 0 {
		if err := json.Unmarshal(m.TaskStates, &instance.TaskStates); err != nil {
			return nil, errors.New("corrupt task_states document: " + err.Error())
		}
	}
	if instance.TaskStates == nil {
		instance.TaskStates = make(map[string]*models.TaskState)
	}
	if instance.Context == nil {
		instance.Context = models.Context{}
	}

	if len(m.TriggeringEvent) > 0 {
		var event models.Event
		if err := json.Unmarshal(m.TriggeringEvent, &event); err != nil {
			return nil, errors.New("corrupt triggering_event document: " + err.Error())
		}
		instance.TriggeringEvent = &event
	}

	return instance, nil
}

// FromInstance converts a models.Instance to an InstanceModel
func FromInstance(instance *models.Instance) (*InstanceModel, error) {
	id, err := uuid.Parse(instance.ID)
	if err != nil {
		return nil, errors.New("invalid instance id: " + instance.ID)
	}

	taskStates, err := json.Marshal(instance.TaskStates)
	if err != nil {
		return nil, err
	}

	model := &InstanceModel{
		ID:               id,
		WorkflowID:       instance.WorkflowID,
		OwnerUserID:      instance.OwnerUserID,
		Tenant:           instance.Tenant,
		Status:           string(instance.Status),
		Context:          JSONB(instance.Context),
		TaskStates:       taskStates,
		ParentInstanceID: instance.ParentInstanceID,
		HookDepth:        instance.HookDepth,
		CancelRequested:  instance.CancelRequested,
		CreatedAt:        instance.CreatedAt,
		StartedAt:        instance.StartedAt,
		CompletedAt:      instance.CompletedAt,
	}

	if instance.TriggeringEvent != nil {
		event, err := json.Marshal(instance.TriggeringEvent)
		if err != nil {
			return nil, err
		}
		model.TriggeringEvent = event
	}

	return model, nil
}

// ToEntity converts an EntityModel to a models.Entity
func (m *EntityModel) ToEntity() *models.Entity {
	return &models.Entity{
		ID:          m.ID.String(),
		Type:        m.Type,
		OwnerUserID: m.OwnerUserID,
		Data:        map[string]any(m.Data),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromEntity converts a models.Entity to an EntityModel
func FromEntity(entity *models.Entity) (*EntityModel, error) {
	id, err := uuid.Parse(entity.ID)
	if err != nil {
		return nil, errors.New("invalid entity id: " + entity.ID)
	}
	return &EntityModel{
		ID:          id,
		Type:        entity.Type,
		OwnerUserID: entity.OwnerUserID,
		Data:        JSONB(entity.Data),
		CreatedAt:   entity.CreatedAt,
		UpdatedAt:   entity.UpdatedAt,
	}, nil
}
