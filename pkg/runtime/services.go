package runtime

import (
	"strconv"
	"sync"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/filter"
)

// Properties every registration carries in addition to the provider's own
const (
	PropertyObjectClass = "objectClass"
	PropertyServiceID   = "service.id"
	PropertyUnitID      = "unit.id"
)

// ServiceReference describes one registered capability provider
type ServiceReference struct {
	ID         int64
	Capability string
	Unit       domain.UnitHandle
	Properties map[string]string
	Service    interface{}
}

// ServiceRegistration is returned to the registering unit
type ServiceRegistration struct {
	registry *ServiceRegistry
	id       int64
}

// Unregister removes the provider. Calling it twice is harmless.
func (r *ServiceRegistration) Unregister() {
	r.registry.remove(r.id)
}

// ServiceRegistry holds the providers registered by active units
type ServiceRegistry struct {
	entries []*ServiceReference
	nextID  int64
	mutex   sync.RWMutex
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{nextID: 1}
}

func (r *ServiceRegistry) Register(unit domain.UnitHandle, capability string, service interface{}, properties map[string]string) (*ServiceRegistration, error) {
	if capability == "" {
		return nil, errors.NewValidationError("capability cannot be empty", nil)
	}
	if service == nil {
		return nil, errors.NewValidationError("service cannot be nil", nil).WithContext(errors.ContextKeyCapability, capability)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := r.nextID
	r.nextID++

	props := make(map[string]string, len(properties)+3)
	for key, value := range properties {
		props[key] = value
	}
	props[PropertyObjectClass] = capability
	props[PropertyServiceID] = strconv.FormatInt(id, 10)
	props[PropertyUnitID] = strconv.FormatInt(int64(unit), 10)

	r.entries = append(r.entries, &ServiceReference{
		ID:         id,
		Capability: capability,
		Unit:       unit,
		Properties: props,
		Service:    service,
	})
	return &ServiceRegistration{registry: r, id: id}, nil
}

// Find returns the providers of capability that match f, in registration order.
func (r *ServiceRegistry) Find(capability string, f *filter.Filter) []*ServiceReference {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var matches []*ServiceReference
	for _, entry := range r.entries {
		if entry.Capability != capability {
			continue
		}
		if f != nil && !f.Match(entry.Properties) {
			continue
		}
		matches = append(matches, entry)
	}
	return matches
}

func (r *ServiceRegistry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

func (r *ServiceRegistry) remove(id int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, entry := range r.entries {
		if entry.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *ServiceRegistry) removeUnit(unit domain.UnitHandle) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	kept := r.entries[:0]
	removed := 0
	for _, entry := range r.entries {
		if entry.Unit == unit {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	// drop references held past the new length
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	return removed
}
