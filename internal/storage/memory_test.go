package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tidewater-io/cascade/pkg/models"
)

func newTestInstance(workflowID string) *models.Instance {
	now := time.Now().UTC()
	return &models.Instance{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     models.InstancePending,
		Context:    models.Context{"order": map[string]any{"id": "ord-1"}},
		TaskStates: map[string]*models.TaskState{
			"collect": {Status: models.TaskPending},
		},
		CreatedAt: now,
	}
}

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	instance := newTestInstance("order-flow")
	if err := store.SaveInstance(ctx, instance); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}

	loaded, err := store.LoadInstance(ctx, instance.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if loaded.WorkflowID != "order-flow" {
		t.Errorf("expected workflow id order-flow, got %s", loaded.WorkflowID)
	}
	if loaded.TaskStates["collect"].Status != models.TaskPending {
		t.Errorf("task state did not round-trip")
	}
}

func TestMemoryStoreLoadNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.LoadInstance(context.Background(), uuid.New().String()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCopiesIsolateCallers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	instance := newTestInstance("order-flow")
	if err := store.SaveInstance(ctx, instance); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}

	// Mutating the caller's copy after save must not affect the store.
	instance.Context["order"] = "tampered"
	instance.TaskStates["collect"].Status = models.TaskFailed

	loaded, err := store.LoadInstance(ctx, instance.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if _, ok := loaded.Context["order"].(map[string]any); !ok {
		t.Errorf("stored context was mutated through caller reference")
	}
	if loaded.TaskStates["collect"].Status != models.TaskPending {
		t.Errorf("stored task state was mutated through caller reference")
	}

	// Mutating a loaded copy must not affect subsequent loads.
	loaded.Context["injected"] = true
	again, err := store.LoadInstance(ctx, instance.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if _, exists := again.Context["injected"]; exists {
		t.Errorf("loaded copy shares memory with store")
	}
}

func TestMemoryStoreListInstancesFiltering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newTestInstance("order-flow")
	a.OwnerUserID = "user-1"
	b := newTestInstance("order-flow")
	b.OwnerUserID = "user-2"
	b.Status = models.InstanceRunning
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c := newTestInstance("refund-flow")
	c.OwnerUserID = "user-1"
	c.CreatedAt = a.CreatedAt.Add(2 * time.Second)

	for _, inst := range []*models.Instance{a, b, c} {
		if err := store.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance failed: %v", err)
		}
	}

	byWorkflow, err := store.ListInstances(ctx, InstanceFilter{WorkflowID: "order-flow"})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(byWorkflow) != 2 {
		t.Errorf("expected 2 order-flow instances, got %d", len(byWorkflow))
	}
	if len(byWorkflow) == 2 && !byWorkflow[0].CreatedAt.After(byWorkflow[1].CreatedAt) {
		t.Errorf("expected newest-first ordering")
	}

	running := models.InstanceRunning
	byStatus, err := store.ListInstances(ctx, InstanceFilter{Status: &running})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != b.ID {
		t.Errorf("status filter returned wrong instances")
	}

	byOwner, err := store.ListInstances(ctx, InstanceFilter{OwnerUserID: "user-1", Limit: 1})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].ID != c.ID {
		t.Errorf("expected newest user-1 instance with limit 1")
	}
}

func TestMemoryStoreEntityLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entity := &models.Entity{
		ID:          uuid.New().String(),
		Type:        "property",
		OwnerUserID: "user-1",
		Data:        map[string]any{"address": "12 Main St"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreateEntity(ctx, entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if err := store.CreateEntity(ctx, entity); err != ErrAlreadyExists {
		t.Errorf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}

	entity.Data["address"] = "14 Main St"
	if err := store.UpdateEntity(ctx, entity); err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}

	got, err := store.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Data["address"] != "14 Main St" {
		t.Errorf("update not applied, got %v", got.Data["address"])
	}

	missing := &models.Entity{ID: uuid.New().String(), Type: "property"}
	if err := store.UpdateEntity(ctx, missing); err != ErrNotFound {
		t.Errorf("expected ErrNotFound updating missing entity, got %v", err)
	}

	list, err := store.ListEntities(ctx, "property", "user-1")
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 entity, got %d", len(list))
	}
}
