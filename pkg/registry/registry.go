package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Binding associates a well-known name with the address and incarnation of an exported endpoint
type Binding struct {
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	ObjectID string `mapstructure:"object_id"`
}

// Registry is the naming service endpoints bind into and clients resolve from
type Registry interface {
	// Bind fails with a conflict when the name is already bound
	Bind(ctx context.Context, binding Binding) error
	// Rebind replaces any existing binding
	Rebind(ctx context.Context, binding Binding) error
	// Unbind removes a binding. A non-empty objectID only removes the binding it owns;
	// a name bound to another object is reported as not bound.
	Unbind(ctx context.Context, name string, objectID string) error
	Lookup(ctx context.Context, name string) (Binding, error)
	List(ctx context.Context) ([]Binding, error)
	Ping(ctx context.Context) error
}

var bindingsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "control_registry_bindings",
	Help: "Number of names currently bound in the registry.",
})

type memoryRegistry struct {
	bindings map[string]Binding
	logger   logging.Logger
	mutex    sync.RWMutex
}

func NewMemoryRegistry(logger logging.Logger) Registry {
	return &memoryRegistry{
		bindings: make(map[string]Binding),
		logger:   logger,
	}
}

func validateBinding(binding Binding) error {
	if binding.Name == "" {
		return errors.NewValidationError("binding name cannot be empty", nil)
	}
	if binding.Address == "" {
		return errors.NewValidationError("binding address cannot be empty", nil).WithContext(errors.ContextKeyName, binding.Name)
	}
	return nil
}

func (r *memoryRegistry) Bind(ctx context.Context, binding Binding) error {
	if err := validateBinding(binding); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.bindings[binding.Name]; exists {
		return errors.NewConflictError("name already bound", nil).WithContext(errors.ContextKeyName, binding.Name)
	}
	r.bindings[binding.Name] = binding
	bindingsGauge.Set(float64(len(r.bindings)))

	r.logger.Infof("Name bound, name: %s, address: %s, object: %s", binding.Name, binding.Address, binding.ObjectID)
	return nil
}

func (r *memoryRegistry) Rebind(ctx context.Context, binding Binding) error {
	if err := validateBinding(binding); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, existed := r.bindings[binding.Name]
	r.bindings[binding.Name] = binding
	bindingsGauge.Set(float64(len(r.bindings)))

	if existed && previous.ObjectID != binding.ObjectID {
		r.logger.Infof("Name rebound, name: %s, address: %s, object: %s, previous object: %s",
			binding.Name, binding.Address, binding.ObjectID, previous.ObjectID)
	} else {
		r.logger.Debugf("Name rebound, name: %s, address: %s, object: %s", binding.Name, binding.Address, binding.ObjectID)
	}
	return nil
}

func (r *memoryRegistry) Unbind(ctx context.Context, name string, objectID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	binding, exists := r.bindings[name]
	if !exists {
		return errors.NewNotFoundError("name not bound", nil).WithContext(errors.ContextKeyName, name)
	}
	if objectID != "" && binding.ObjectID != objectID {
		return errors.NewNotFoundError("name is bound to another object", nil).
			WithContext(errors.ContextKeyName, name).
			WithContext("object_id", binding.ObjectID)
	}
	delete(r.bindings, name)
	bindingsGauge.Set(float64(len(r.bindings)))

	r.logger.Infof("Name unbound, name: %s, object: %s", name, binding.ObjectID)
	return nil
}

func (r *memoryRegistry) Lookup(ctx context.Context, name string) (Binding, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	binding, exists := r.bindings[name]
	if !exists {
		return Binding{}, errors.NewNotFoundError("name not bound", nil).WithContext(errors.ContextKeyName, name)
	}
	return binding, nil
}

func (r *memoryRegistry) List(ctx context.Context) ([]Binding, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	bindings := make([]Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		bindings = append(bindings, binding)
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Name < bindings[j].Name
	})
	return bindings, nil
}

func (r *memoryRegistry) Ping(ctx context.Context) error {
	return ctx.Err()
}
