package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidewater-io/cascade/pkg/models"
)

// TransitionChannel is the Redis pub/sub channel for task transitions
const TransitionChannel = "cascade:transitions"

// TransitionEvent describes one task-state transition within an instance.
// UIs subscribe to these for live progress; they are observability only,
// not part of the data plane.
type TransitionEvent struct {
	InstanceID     string                `json:"instance_id"`
	WorkflowID     string                `json:"workflow_id"`
	TaskID         string                `json:"task_id"`
	OldStatus      models.TaskStatus     `json:"old_status"`
	NewStatus      models.TaskStatus     `json:"new_status"`
	InstanceStatus models.InstanceStatus `json:"instance_status"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// Publisher receives task transition events
type Publisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher discards transition events
type NoOpPublisher struct{}

// Publish does nothing
func (p *NoOpPublisher) Publish(TransitionEvent) error { return nil }

// RedisPublisher publishes transitions to a Redis pub/sub channel
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis transition publisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish publishes a transition event to the Redis channel
func (p *RedisPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := p.client.Publish(ctx, TransitionChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// Subscribe listens for transition events and invokes handler for each.
// Malformed payloads and handler errors are skipped, not fatal.
func (p *RedisPublisher) Subscribe(ctx context.Context, handler func(TransitionEvent) error) error {
	pubsub := p.client.Subscribe(ctx, TransitionChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event TransitionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if err := handler(event); err != nil {
				continue
			}
		}
	}
}

// MultiPublisher fans a transition out to several publishers. One
// publisher failing does not stop the others.
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a fan-out publisher
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Publish publishes to all publishers
func (p *MultiPublisher) Publish(event TransitionEvent) error {
	for _, pub := range p.publishers {
		if err := pub.Publish(event); err != nil {
			continue
		}
	}
	return nil
}
