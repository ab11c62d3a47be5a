package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when creating a resource that already exists
	ErrAlreadyExists = errors.New("resource already exists")
)

// InstanceFilter narrows instance listings
type InstanceFilter struct {
	WorkflowID  string
	OwnerUserID string
	Status      *models.InstanceStatus
	After       *time.Time
	Before      *time.Time
	Limit       int
	Offset      int
}

// Store is the durable persistence adapter behind the engine. Every state
// transition funnels through SaveInstance; implementations must guarantee
// the post-transition state is durable before the call returns.
// Implementations serialize writes per instance id; writes for different
// instances are independent.
type Store interface {
	SaveInstance(ctx context.Context, instance *models.Instance) error
	LoadInstance(ctx context.Context, id string) (*models.Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.Instance, error)

	// Workflow registrations are informational listings of the Bag
	SaveWorkflowRegistration(ctx context.Context, wf *models.Workflow) error
	ListWorkflowRegistrations(ctx context.Context) ([]*models.Workflow, error)
}

// EntityStore holds the durable documents produced by entity operators
type EntityStore interface {
	CreateEntity(ctx context.Context, entity *models.Entity) error
	UpdateEntity(ctx context.Context, entity *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	ListEntities(ctx context.Context, entityType, ownerUserID string) ([]*models.Entity, error)
}
