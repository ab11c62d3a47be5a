package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidewater-io/cascade/pkg/models"
)

const (
	// EventsStream is the JetStream stream mirroring engine events
	EventsStream = "CASCADE_EVENTS"

	// EventsSubject carries events emitted by this process
	EventsSubject = "cascade.events"

	// InjectSubject carries events injected by external systems for
	// local hook dispatch
	InjectSubject = "cascade.events.inject"
)

// NATSBridge mirrors local engine events onto a JetStream stream and
// feeds externally injected events into the local bus. It lets other
// processes observe workflow activity without sharing the database.
type NATSBridge struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	bus       *Bus
	injectSub *nats.Subscription
}

// NewNATSBridge connects to NATS and ensures the events stream exists
func NewNATSBridge(natsURL string, bus *Bus) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      EventsStream,
		Subjects:  []string{EventsSubject, InjectSubject},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("failed to create events stream: %w", err)
	}

	bridge := &NATSBridge{nc: nc, js: js, bus: bus}
	bus.Subscribe("nats-bridge", bridge.publish)
	return bridge, nil
}

// Start subscribes to externally injected events and forwards them to
// the local bus
func (b *NATSBridge) Start() error {
	sub, err := b.nc.Subscribe(InjectSubject, func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Dropping malformed injected event: %v", err)
			return
		}
		if event.Type == "" {
			log.Printf("Dropping injected event without type")
			return
		}
		b.bus.Publish(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to inject subject: %w", err)
	}
	b.injectSub = sub
	return nil
}

// Close detaches from the bus and drains the connection
func (b *NATSBridge) Close() {
	b.bus.Unsubscribe("nats-bridge")
	if b.injectSub != nil {
		b.injectSub.Unsubscribe()
	}
	b.nc.Drain()
}

func (b *NATSBridge) publish(event *models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal event %s: %v", event.Type, err)
		return
	}
	if _, err := b.js.Publish(EventsSubject, data); err != nil {
		log.Printf("Failed to publish event %s to NATS: %v", event.Type, err)
	}
}
