package registry

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "hsu.control.v1.RegistryService"

const (
	methodBind   = "Bind"
	methodRebind = "Rebind"
	methodUnbind = "Unbind"
	methodLookup = "Lookup"
	methodList   = "List"
	methodPing   = "Ping"
)

type registryServiceServer interface {
	bind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	rebind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	unbind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	lookup(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	list(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ping(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

func registryMethod(name string, call func(registryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return control.NewMethodDesc(ServiceName, name, func(srv interface{}, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
		return call(srv.(registryServiceServer), ctx, request)
	})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*registryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		registryMethod(methodBind, registryServiceServer.bind),
		registryMethod(methodRebind, registryServiceServer.rebind),
		registryMethod(methodUnbind, registryServiceServer.unbind),
		registryMethod(methodLookup, registryServiceServer.lookup),
		registryMethod(methodList, registryServiceServer.list),
		registryMethod(methodPing, registryServiceServer.ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/control/v1/registry.proto",
}

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler Registry, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&serviceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler Registry
	logger  logging.Logger
}

func bindingFromMessage(message *structpb.Struct) Binding {
	return Binding{
		Name:     control.GetString(message, control.FieldName),
		Address:  control.GetString(message, control.FieldAddress),
		ObjectID: control.GetString(message, control.FieldObjectID),
	}
}

func bindingFields(binding Binding) map[string]interface{} {
	return map[string]interface{}{
		control.FieldName:     binding.Name,
		control.FieldAddress:  binding.Address,
		control.FieldObjectID: binding.ObjectID,
	}
}

func (h *grpcServerHandler) bind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if err := h.handler.Bind(ctx, bindingFromMessage(request)); err != nil {
		h.logger.Errorf("Bind server handler: %v", err)
		return nil, control.ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) rebind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if err := h.handler.Rebind(ctx, bindingFromMessage(request)); err != nil {
		h.logger.Errorf("Rebind server handler: %v", err)
		return nil, control.ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) unbind(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	name := control.GetString(request, control.FieldName)
	if err := h.handler.Unbind(ctx, name, control.GetString(request, control.FieldObjectID)); err != nil {
		h.logger.Warnf("Unbind server handler, name: %s: %v", name, err)
		return nil, control.ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) lookup(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	binding, err := h.handler.Lookup(ctx, control.GetString(request, control.FieldName))
	if err != nil {
		h.logger.Debugf("Lookup server handler: %v", err)
		return nil, control.ToStatusError(err)
	}
	response, err := control.NewMessage(bindingFields(binding))
	if err != nil {
		return nil, control.ToStatusError(err)
	}
	return response, nil
}

func (h *grpcServerHandler) list(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	bindings, err := h.handler.List(ctx)
	if err != nil {
		h.logger.Errorf("List server handler: %v", err)
		return nil, control.ToStatusError(err)
	}
	items := make([]interface{}, 0, len(bindings))
	for _, binding := range bindings {
		items = append(items, bindingFields(binding))
	}
	response, err := control.NewMessage(map[string]interface{}{control.FieldBindings: items})
	if err != nil {
		return nil, control.ToStatusError(errors.NewInternalError("failed to encode bindings", err))
	}
	return response, nil
}

func (h *grpcServerHandler) ping(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if err := h.handler.Ping(ctx); err != nil {
		return nil, control.ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}
