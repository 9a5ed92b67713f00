package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/core-tools/hsu-control/pkg/errors"
)

// Activator is the code a unit runs on start and stop
type Activator interface {
	Start(ctx context.Context, unitContext *UnitContext) error
	Stop(ctx context.Context, unitContext *UnitContext) error
}

// ActivatorFactory creates a fresh activator for every activation
type ActivatorFactory func() Activator

// ActivatorRegistry maps the activator names used in manifests to factories
type ActivatorRegistry struct {
	factories map[string]ActivatorFactory
	mutex     sync.RWMutex
}

func NewActivatorRegistry() *ActivatorRegistry {
	return &ActivatorRegistry{
		factories: make(map[string]ActivatorFactory),
	}
}

func (r *ActivatorRegistry) Register(name string, factory ActivatorFactory) error {
	if name == "" {
		return errors.NewValidationError("activator name cannot be empty", nil)
	}
	if factory == nil {
		return errors.NewValidationError("activator factory cannot be nil", nil).WithContext(errors.ContextKeyName, name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.NewConflictError("activator already registered", nil).WithContext(errors.ContextKeyName, name)
	}
	r.factories[name] = factory
	return nil
}

func (r *ActivatorRegistry) Lookup(name string) (ActivatorFactory, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	factory, ok := r.factories[name]
	return factory, ok
}

func (r *ActivatorRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceActivator registers one service on start; the framework unregisters it on stop.
type ServiceActivator struct {
	Capability string
	NewService func(unitContext *UnitContext) (interface{}, error)
}

func (a *ServiceActivator) Start(ctx context.Context, unitContext *UnitContext) error {
	service, err := a.NewService(unitContext)
	if err != nil {
		return err
	}
	_, err = unitContext.RegisterService(a.Capability, service, unitContext.Properties())
	return err
}

func (a *ServiceActivator) Stop(ctx context.Context, unitContext *UnitContext) error {
	return nil
}
