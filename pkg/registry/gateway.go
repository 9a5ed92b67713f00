package registry

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"github.com/go-viper/mapstructure/v2"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewGRPCClientGateway returns a Registry backed by a remote registry server.
// Failures reaching the registry are network errors, never stale references.
func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) Registry {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	request, err := control.NewMessage(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, control.FullMethod(ServiceName, method), request, response); err != nil {
		return nil, control.FromStatusError(err, control.PeerRegistry)
	}
	return response, nil
}

func (gw *grpcClientGateway) Bind(ctx context.Context, binding Binding) error {
	_, err := gw.invoke(ctx, methodBind, bindingFields(binding))
	if err != nil {
		gw.logger.Debugf("Bind client gateway, name: %s: %v", binding.Name, err)
	}
	return err
}

func (gw *grpcClientGateway) Rebind(ctx context.Context, binding Binding) error {
	_, err := gw.invoke(ctx, methodRebind, bindingFields(binding))
	if err != nil {
		gw.logger.Debugf("Rebind client gateway, name: %s: %v", binding.Name, err)
	}
	return err
}

func (gw *grpcClientGateway) Unbind(ctx context.Context, name string, objectID string) error {
	_, err := gw.invoke(ctx, methodUnbind, map[string]interface{}{
		control.FieldName:     name,
		control.FieldObjectID: objectID,
	})
	if err != nil {
		gw.logger.Debugf("Unbind client gateway, name: %s: %v", name, err)
	}
	return err
}

func (gw *grpcClientGateway) Lookup(ctx context.Context, name string) (Binding, error) {
	response, err := gw.invoke(ctx, methodLookup, map[string]interface{}{control.FieldName: name})
	if err != nil {
		gw.logger.Debugf("Lookup client gateway, name: %s: %v", name, err)
		return Binding{}, err
	}
	return bindingFromMessage(response), nil
}

func (gw *grpcClientGateway) List(ctx context.Context) ([]Binding, error) {
	response, err := gw.invoke(ctx, methodList, map[string]interface{}{})
	if err != nil {
		gw.logger.Debugf("List client gateway: %v", err)
		return nil, err
	}
	var bindings []Binding
	if err := mapstructure.Decode(control.GetList(response, control.FieldBindings), &bindings); err != nil {
		return nil, errors.NewInternalError("failed to decode bindings", err)
	}
	return bindings, nil
}

func (gw *grpcClientGateway) Ping(ctx context.Context) error {
	_, err := gw.invoke(ctx, methodPing, map[string]interface{}{})
	return err
}
