package control

import (
	"context"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewGRPCClientGateway returns a Contract that forwards every operation to a remote control endpoint.
// Unreachable endpoints surface as stale reference failures.
func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
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
	request, err := NewMessage(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, FullMethod(ControlServiceName, method), request, response); err != nil {
		return nil, FromStatusError(err, PeerEndpoint)
	}
	return response, nil
}

func (gw *grpcClientGateway) Install(ctx context.Context, location string, content []byte) (domain.UnitHandle, error) {
	fields := map[string]interface{}{
		FieldLocation:   location,
		FieldHasContent: content != nil,
	}
	if content != nil {
		fields[FieldContent] = content
	}
	response, err := gw.invoke(ctx, MethodInstall, fields)
	if err != nil {
		gw.logger.Errorf("Install client gateway: %v", err)
		return 0, err
	}
	handle, err := GetInt64(response, FieldHandle)
	if err != nil {
		return 0, err
	}
	gw.logger.Debugf("Install client gateway done, handle: %d", handle)
	return domain.UnitHandle(handle), nil
}

func (gw *grpcClientGateway) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	_, err := gw.invoke(ctx, MethodUninstall, map[string]interface{}{FieldHandle: int64(handle)})
	if err != nil {
		gw.logger.Errorf("Uninstall client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("Uninstall client gateway done, handle: %d", handle)
	return nil
}

func (gw *grpcClientGateway) Start(ctx context.Context, handle domain.UnitHandle) error {
	_, err := gw.invoke(ctx, MethodStart, map[string]interface{}{FieldHandle: int64(handle)})
	if err != nil {
		gw.logger.Errorf("Start client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("Start client gateway done, handle: %d", handle)
	return nil
}

func (gw *grpcClientGateway) Stop(ctx context.Context, handle domain.UnitHandle) error {
	_, err := gw.invoke(ctx, MethodStop, map[string]interface{}{FieldHandle: int64(handle)})
	if err != nil {
		gw.logger.Errorf("Stop client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("Stop client gateway done, handle: %d", handle)
	return nil
}

func (gw *grpcClientGateway) SetStartLevel(ctx context.Context, handle domain.UnitHandle, level int) error {
	_, err := gw.invoke(ctx, MethodSetStartLevel, map[string]interface{}{
		FieldHandle: int64(handle),
		FieldLevel:  level,
	})
	if err != nil {
		gw.logger.Errorf("SetStartLevel client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("SetStartLevel client gateway done, handle: %d, level: %d", handle, level)
	return nil
}

func (gw *grpcClientGateway) WaitForState(ctx context.Context, handle domain.UnitHandle, target domain.UnitState, timeout time.Duration) error {
	_, err := gw.invoke(ctx, MethodWaitForState, map[string]interface{}{
		FieldHandle:  int64(handle),
		FieldState:   int(target),
		FieldTimeout: domain.TimeoutToMillis(timeout),
	})
	if err != nil {
		gw.logger.Debugf("WaitForState client gateway: %v", err)
		return err
	}
	gw.logger.Debugf("WaitForState client gateway done, handle: %d, state: %s", handle, target)
	return nil
}

func (gw *grpcClientGateway) RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (interface{}, error) {
	args := request.Args
	if args == nil {
		args = []interface{}{}
	}
	fields := map[string]interface{}{
		FieldCapability: request.Capability,
		FieldMethod:     request.Method,
		FieldFilter:     request.Filter,
		FieldTimeout:    domain.TimeoutToMillis(request.Timeout),
		FieldArgs:       args,
	}
	if request.ParamTypes != nil {
		fields[FieldParamTypes] = request.ParamTypes
	}
	response, err := gw.invoke(ctx, MethodRemoteCall, fields)
	if err != nil {
		gw.logger.Errorf("RemoteCall client gateway, capability: %s, method: %s: %v", request.Capability, request.Method, err)
		return nil, err
	}
	gw.logger.Debugf("RemoteCall client gateway done, capability: %s, method: %s", request.Capability, request.Method)
	return GetValue(response, FieldResult), nil
}
