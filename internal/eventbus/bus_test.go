package eventbus

import (
	"testing"

	"github.com/tidewater-io/cascade/pkg/models"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe("first", func(e *models.Event) { order = append(order, "first") })
	bus.Subscribe("second", func(e *models.Event) { order = append(order, "second") })
	bus.Subscribe("third", func(e *models.Event) { order = append(order, "third") })

	bus.Publish(&models.Event{Type: "PING"})

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected delivery order %v, got %v", want, order)
		}
	}
}

func TestBusResubscribeReplacesHandler(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("h", func(e *models.Event) { calls++ })
	bus.Subscribe("h", func(e *models.Event) { calls += 10 })

	bus.Publish(&models.Event{Type: "PING"})
	if calls != 10 {
		t.Errorf("expected replacement handler only, calls=%d", calls)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("h", func(e *models.Event) { calls++ })
	bus.Unsubscribe("h")
	bus.Publish(&models.Event{Type: "PING"})

	if calls != 0 {
		t.Errorf("expected no delivery after unsubscribe, calls=%d", calls)
	}
	if len(bus.Subscribers()) != 0 {
		t.Errorf("expected no subscribers, got %v", bus.Subscribers())
	}
}
