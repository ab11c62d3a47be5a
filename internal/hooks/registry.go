package hooks

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"github.com/tidewater-io/cascade/pkg/models"
)

// DefaultDepthLimit bounds hook chains: an event whose source instance
// already sits at this depth creates no further listeners.
const DefaultDepthLimit = 8

// Match is one hook that fired for an event, with the initial context the
// listener instance should start from.
type Match struct {
	Hook           *models.Hook
	InitialContext models.Context
}

// Registry holds hook registrations and evaluates events against them.
// Hooks are registered at startup and immutable afterwards; patterns are
// compiled once at registration.
type Registry struct {
	mu    sync.RWMutex
	hooks []*registeredHook
	byID  map[string]*registeredHook
}

type registeredHook struct {
	hook    *models.Hook
	pattern *regexp.Regexp
}

// NewRegistry creates an empty hook registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*registeredHook)}
}

// Register validates and indexes a hook. The event pattern must be a
// valid regular expression; registration of a duplicate id fails.
func (r *Registry) Register(hook *models.Hook) error {
	if hook.ID == "" {
		return fmt.Errorf("hook id must not be empty")
	}
	if hook.ListenerWorkflowID == "" {
		return fmt.Errorf("hook %s: listener workflow id must not be empty", hook.ID)
	}
	if hook.EventPattern == "" {
		return fmt.Errorf("hook %s: event pattern must not be empty", hook.ID)
	}

	pattern, err := regexp.Compile(hook.EventPattern)
	if err != nil {
		return fmt.Errorf("hook %s: invalid event pattern: %w", hook.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[hook.ID]; exists {
		return fmt.Errorf("hook %s already registered", hook.ID)
	}
	reg := &registeredHook{hook: hook, pattern: pattern}
	r.hooks = append(r.hooks, reg)
	r.byID[hook.ID] = reg
	return nil
}

// Matches returns the hooks that fire for the event, highest priority
// first, each with the listener's initial context built from the event
// payload through the hook's context mapping.
func (r *Registry) Matches(event *models.Event) []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Match
	for _, reg := range r.hooks {
		if !reg.pattern.MatchString(event.Type) {
			continue
		}
		if src := reg.hook.SourceWorkflowID; src != "" && src != "*" && src != event.SourceWorkflowID {
			continue
		}
		if !conditionsHold(reg.hook.Conditions, event.Payload) {
			continue
		}
		matches = append(matches, &Match{
			Hook:           reg.hook,
			InitialContext: mapPayload(reg.hook.ContextMapping, event.Payload),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Hook.Priority > matches[j].Hook.Priority
	})
	return matches
}

// List returns the registered hooks sorted by id
func (r *Registry) List() []*models.Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Hook, 0, len(r.hooks))
	for _, reg := range r.hooks {
		out = append(out, reg.hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered hooks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// conditionsHold checks every condition for equality against the
// payload. Condition values decoded from config can be maps or lists,
// so comparison must not assume comparable types.
func conditionsHold(conditions map[string]any, payload map[string]any) bool {
	for key, want := range conditions {
		got, exists := payload[key]
		if !exists || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// mapPayload copies payload keys into the listener's initial context
// through the rename map. A nil mapping copies nothing; listeners then
// start from an empty context plus whatever the engine seeds.
func mapPayload(mapping map[string]string, payload map[string]any) models.Context {
	ctx := models.Context{}
	for payloadKey, contextKey := range mapping {
		if value, exists := payload[payloadKey]; exists {
			ctx[contextKey] = value
		}
	}
	return ctx
}
