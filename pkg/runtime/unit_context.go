package runtime

import (
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/logging"
)

// UnitContext is handed to an activator; it is the unit's view of the framework
type UnitContext struct {
	framework *Framework
	unit      *unit
}

func (c *UnitContext) Handle() domain.UnitHandle {
	return c.unit.handle
}

// Properties returns a copy of the manifest properties
func (c *UnitContext) Properties() map[string]string {
	props := make(map[string]string, len(c.unit.manifest.Properties))
	for key, value := range c.unit.manifest.Properties {
		props[key] = value
	}
	return props
}

// RegisterService publishes a capability provider owned by this unit.
// The framework unregisters it when the unit stops.
func (c *UnitContext) RegisterService(capability string, service interface{}, properties map[string]string) (*ServiceRegistration, error) {
	registration, err := c.framework.services.Register(c.unit.handle, capability, service, properties)
	if err != nil {
		return nil, err
	}
	c.framework.logger.Debugf("Service registered, unit: %d, capability: %s", c.unit.handle, capability)
	return registration, nil
}

func (c *UnitContext) Services() *ServiceRegistry {
	return c.framework.services
}

func (c *UnitContext) Logger() logging.Logger {
	return logging.WithPrefix(c.framework.logger, "unit: "+c.unit.manifest.Name+" , ")
}
