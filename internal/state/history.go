package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryEntry is one recorded task transition
type HistoryEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	InstanceID     string    `gorm:"type:uuid;not null;index:idx_transition_history_instance" json:"instance_id"`
	WorkflowID     string    `gorm:"type:varchar(255);not null" json:"workflow_id"`
	TaskID         string    `gorm:"type:varchar(255);not null" json:"task_id"`
	OldStatus      string    `gorm:"type:varchar(50)" json:"old_status"`
	NewStatus      string    `gorm:"type:varchar(50);not null" json:"new_status"`
	InstanceStatus string    `gorm:"type:varchar(50);not null" json:"instance_status"`
	OccurredAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_transition_history_occurred_at" json:"occurred_at"`
}

// TableName specifies the table name for HistoryEntry
func (HistoryEntry) TableName() string {
	return "transition_history"
}

// HistoryTracker records task transitions to the database
type HistoryTracker struct {
	db *gorm.DB
}

// NewHistoryTracker creates a history tracker
func NewHistoryTracker(db *gorm.DB) *HistoryTracker {
	return &HistoryTracker{db: db}
}

// Record writes one transition to the history table
func (h *HistoryTracker) Record(ctx context.Context, event TransitionEvent) error {
	entry := HistoryEntry{
		InstanceID:     event.InstanceID,
		WorkflowID:     event.WorkflowID,
		TaskID:         event.TaskID,
		OldStatus:      string(event.OldStatus),
		NewStatus:      string(event.NewStatus),
		InstanceStatus: string(event.InstanceStatus),
		OccurredAt:     event.OccurredAt,
	}
	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record transition history: %w", err)
	}
	return nil
}

// ForInstance retrieves transition history for an instance, newest first
func (h *HistoryTracker) ForInstance(ctx context.Context, instanceID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get transition history: %w", err)
	}
	return entries, nil
}

// HistoryPublisher adapts the tracker to the Publisher interface
type HistoryPublisher struct {
	tracker *HistoryTracker
}

// NewHistoryPublisher creates a publisher that records to the database
func NewHistoryPublisher(db *gorm.DB) *HistoryPublisher {
	return &HistoryPublisher{tracker: NewHistoryTracker(db)}
}

// Publish records the transition
func (p *HistoryPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.tracker.Record(ctx, event)
}
