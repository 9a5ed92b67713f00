package client

import (
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/registry"
)

const (
	DefaultLookupTimeout = 10 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// Session identifies the remote endpoint a client binds to.
// LookupTimeout accepts domain.NoWait and domain.WaitForever.
type Session struct {
	RegistryHost  string
	RegistryPort  int
	Name          string
	LookupTimeout time.Duration
}

func NewSession(registryHost string, registryPort int, name string, lookupTimeout time.Duration) Session {
	if registryHost == "" {
		registryHost = "127.0.0.1"
	}
	if registryPort == 0 {
		registryPort = registry.DefaultPort
	}
	return Session{
		RegistryHost:  registryHost,
		RegistryPort:  registryPort,
		Name:          name,
		LookupTimeout: lookupTimeout,
	}
}

func (s Session) RegistryAddress() string {
	return net.JoinHostPort(s.RegistryHost, strconv.Itoa(s.RegistryPort))
}

func (s Session) Validate() error {
	if s.Name == "" {
		return errors.NewValidationError("endpoint name cannot be empty", nil)
	}
	if s.RegistryHost == "" {
		return errors.NewValidationError("registry host cannot be empty", nil)
	}
	if s.RegistryPort <= 0 || s.RegistryPort > 65535 {
		return errors.NewValidationError("registry port must be between 1 and 65535", nil).
			WithContext("port", s.RegistryPort)
	}
	return nil
}
