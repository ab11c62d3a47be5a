package eventbus

import (
	"sort"
	"sync"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Handler consumes one dispatched event
type Handler func(event *models.Event)

// Bus is the in-process event bus the engine dispatches through. Events
// are transient; delivery is synchronous in registration order so the
// engine controls when hook side effects happen relative to persistence.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Subscribe registers a named handler. Re-subscribing a name replaces
// the previous handler.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[name]; !exists {
		b.order = append(b.order, name)
	}
	b.handlers[name] = handler
}

// Unsubscribe removes a named handler
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to every handler synchronously
func (b *Bus) Publish(event *models.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, name := range b.order {
		if h, exists := b.handlers[name]; exists {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribers returns the registered handler names sorted
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.order))
	copy(out, b.order)
	sort.Strings(out)
	return out
}
