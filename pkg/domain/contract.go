package domain

import (
	"context"
	"time"
)

// Contract is the operation surface of a control endpoint. The server-side endpoint,
// the gRPC client gateway and every client wrapper implement it with identical semantics.
type Contract interface {
	// Install deploys a unit. content is optional; when nil the location is resolved directly.
	Install(ctx context.Context, location string, content []byte) (UnitHandle, error)

	// Uninstall removes a unit. Endpoint-side failures are logged, not returned.
	Uninstall(ctx context.Context, handle UnitHandle) error

	Start(ctx context.Context, handle UnitHandle) error
	Stop(ctx context.Context, handle UnitHandle) error
	SetStartLevel(ctx context.Context, handle UnitHandle, level int) error

	// WaitForState blocks until the unit state is at least target.
	// timeout may be NoWait or WaitForever.
	WaitForState(ctx context.Context, handle UnitHandle, target UnitState, timeout time.Duration) error

	// RemoteCall invokes a method on exactly one provider of a capability.
	RemoteCall(ctx context.Context, request RemoteCallRequest) (interface{}, error)
}

// RemoteCallRequest selects a capability provider and the method to invoke on it
type RemoteCallRequest struct {
	Capability string
	Method     string
	ParamTypes []string
	Filter     string
	Timeout    time.Duration
	Args       []interface{}
}
