package operator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Factory builds an operator from its task spec. Factories run once per
// dispatch, so construction must be cheap and side-effect free.
type Factory func(spec *models.OperatorSpec) (Operator, error)

// Registry maps operator type names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty operator registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given operator type
func (r *Registry) Register(operatorType string, factory Factory) error {
	if operatorType == "" {
		return fmt.Errorf("operator type must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for operator type %s must not be nil", operatorType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[operatorType]; exists {
		return fmt.Errorf("operator type %s already registered", operatorType)
	}
	r.factories[operatorType] = factory
	return nil
}

// Build constructs an operator for the spec's type
func (r *Registry) Build(spec *models.OperatorSpec) (Operator, error) {
	r.mu.RLock()
	factory, exists := r.factories[spec.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown operator type: %s", spec.Type)
	}
	return factory(spec)
}

// Types returns the registered operator type names sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry returns a registry with the built-in operator types
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("noop", func(spec *models.OperatorSpec) (Operator, error) {
		return &Noop{}, nil
	})
	r.Register("transform", func(spec *models.OperatorSpec) (Operator, error) {
		return NewTransform(spec), nil
	})
	r.Register("human_input", func(spec *models.OperatorSpec) (Operator, error) {
		return NewHumanInput(spec), nil
	})
	r.Register("approval", func(spec *models.OperatorSpec) (Operator, error) {
		return NewApproval(spec), nil
	})
	r.Register("http_call", func(spec *models.OperatorSpec) (Operator, error) {
		return NewHTTPCall(spec)
	})
	r.Register("remote_poll", func(spec *models.OperatorSpec) (Operator, error) {
		return NewRemotePoll(spec)
	})
	r.Register("entity_create", func(spec *models.OperatorSpec) (Operator, error) {
		return NewEntityCreate(spec)
	})
	r.Register("entity_update", func(spec *models.OperatorSpec) (Operator, error) {
		return NewEntityUpdate(spec)
	})
	return r
}
