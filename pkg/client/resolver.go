package client

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/registry"

	"google.golang.org/grpc"
)

// Reference is a resolved handle to one incarnation of a control endpoint
type Reference interface {
	domain.Contract
	Close() error
}

// Resolver turns a session into a live reference. A failed Resolve is retried by the client.
type Resolver interface {
	Resolve(ctx context.Context, session Session) (Reference, error)
}

type ResolverFunc func(ctx context.Context, session Session) (Reference, error)

func (f ResolverFunc) Resolve(ctx context.Context, session Session) (Reference, error) {
	return f(ctx, session)
}

// NewRegistryResolver looks the endpoint up in the session's registry and dials the bound address.
// Every call made through the reference carries the bound object id.
func NewRegistryResolver(logger logging.Logger) Resolver {
	return &registryResolver{logger: logger}
}

type registryResolver struct {
	logger logging.Logger
}

type remoteReference struct {
	domain.Contract
	conn    *grpc.ClientConn
	binding registry.Binding
}

func (r *remoteReference) Close() error {
	return r.conn.Close()
}

func (r *registryResolver) Resolve(ctx context.Context, session Session) (Reference, error) {
	registryConn, err := registry.Dial(session.RegistryAddress(), r.logger)
	if err != nil {
		return nil, err
	}
	defer registryConn.Close()

	binding, err := registryConn.Lookup(ctx, session.Name)
	if err != nil {
		return nil, err
	}

	conn, err := control.Dial(control.ConnectionOptions{
		Address:  binding.Address,
		ObjectID: binding.ObjectID,
	}, r.logger)
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Endpoint resolved, name: %s, address: %s, object: %s", binding.Name, binding.Address, binding.ObjectID)
	return &remoteReference{
		Contract: control.NewGRPCClientGateway(conn, r.logger),
		conn:     conn,
		binding:  binding,
	}, nil
}
