package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// EchoActivatorName is the activator shipped with every endpoint server binary
const EchoActivatorName = "echo"

// EchoCapability is the capability published by the echo activator
const EchoCapability = "echo"

// EchoService answers remote calls; it is used to smoke-test a control channel.
type EchoService struct {
	prefix string
	calls  atomic.Int64
}

func (s *EchoService) Echo(message string) string {
	s.calls.Add(1)
	return s.prefix + message
}

func (s *EchoService) Upper(ctx context.Context, message string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.ToUpper(message), nil
}

func (s *EchoService) Fail(message string) error {
	s.calls.Add(1)
	return fmt.Errorf("echo failure: %s", message)
}

func (s *EchoService) Calls() int64 {
	return s.calls.Load()
}

// RegisterBuiltins adds the activators every endpoint server provides
func RegisterBuiltins(registry *ActivatorRegistry) error {
	return registry.Register(EchoActivatorName, func() Activator {
		return &ServiceActivator{
			Capability: EchoCapability,
			NewService: func(unitContext *UnitContext) (interface{}, error) {
				return &EchoService{prefix: unitContext.Properties()["prefix"]}, nil
			},
		}
	})
}
