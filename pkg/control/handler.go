package control

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&ControlServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) install(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	var content []byte
	if GetBool(request, FieldHasContent) {
		var err error
		content, err = GetBytes(request, FieldContent)
		if err != nil {
			return nil, ToStatusError(err)
		}
	}
	handle, err := h.handler.Install(ctx, GetString(request, FieldLocation), content)
	if err != nil {
		h.logger.Errorf("Install server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("Install server handler done, handle: %d", handle)
	return h.respond(map[string]interface{}{FieldHandle: int64(handle)})
}

func (h *grpcServerHandler) uninstall(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	handle, err := GetInt64(request, FieldHandle)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := h.handler.Uninstall(ctx, domain.UnitHandle(handle)); err != nil {
		h.logger.Errorf("Uninstall server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("Uninstall server handler done, handle: %d", handle)
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) start(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	handle, err := GetInt64(request, FieldHandle)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := h.handler.Start(ctx, domain.UnitHandle(handle)); err != nil {
		h.logger.Errorf("Start server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("Start server handler done, handle: %d", handle)
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) stop(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	handle, err := GetInt64(request, FieldHandle)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := h.handler.Stop(ctx, domain.UnitHandle(handle)); err != nil {
		h.logger.Errorf("Stop server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("Stop server handler done, handle: %d", handle)
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) setStartLevel(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	handle, err := GetInt64(request, FieldHandle)
	if err != nil {
		return nil, ToStatusError(err)
	}
	level, err := GetInt64(request, FieldLevel)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := h.handler.SetStartLevel(ctx, domain.UnitHandle(handle), int(level)); err != nil {
		h.logger.Errorf("SetStartLevel server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("SetStartLevel server handler done, handle: %d, level: %d", handle, level)
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) waitForState(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	handle, err := GetInt64(request, FieldHandle)
	if err != nil {
		return nil, ToStatusError(err)
	}
	state, err := GetInt64(request, FieldState)
	if err != nil {
		return nil, ToStatusError(err)
	}
	timeout, err := GetInt64(request, FieldTimeout)
	if err != nil {
		return nil, ToStatusError(err)
	}
	err = h.handler.WaitForState(ctx, domain.UnitHandle(handle), domain.UnitState(state), domain.TimeoutFromMillis(timeout))
	if err != nil {
		h.logger.Debugf("WaitForState server handler: %v", err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("WaitForState server handler done, handle: %d, state: %d", handle, state)
	return &structpb.Struct{}, nil
}

func (h *grpcServerHandler) remoteCall(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	timeout, err := GetInt64(request, FieldTimeout)
	if err != nil {
		return nil, ToStatusError(err)
	}
	callRequest := domain.RemoteCallRequest{
		Capability: GetString(request, FieldCapability),
		Method:     GetString(request, FieldMethod),
		ParamTypes: GetStrings(request, FieldParamTypes),
		Filter:     GetString(request, FieldFilter),
		Timeout:    domain.TimeoutFromMillis(timeout),
		Args:       GetList(request, FieldArgs),
	}
	result, err := h.handler.RemoteCall(ctx, callRequest)
	if err != nil {
		h.logger.Errorf("RemoteCall server handler, capability: %s, method: %s: %v", callRequest.Capability, callRequest.Method, err)
		return nil, ToStatusError(err)
	}
	h.logger.Debugf("RemoteCall server handler done, capability: %s, method: %s", callRequest.Capability, callRequest.Method)
	return h.respond(map[string]interface{}{FieldResult: result})
}

func (h *grpcServerHandler) respond(fields map[string]interface{}) (*structpb.Struct, error) {
	response, err := NewMessage(fields)
	if err != nil {
		return nil, ToStatusError(errors.NewInternalError("failed to encode response", err))
	}
	return response, nil
}
