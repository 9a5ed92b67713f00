package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ControlServiceName = "hsu.control.v1.ControlService"

const (
	MethodInstall       = "Install"
	MethodUninstall     = "Uninstall"
	MethodStart         = "Start"
	MethodStop          = "Stop"
	MethodSetStartLevel = "SetStartLevel"
	MethodWaitForState  = "WaitForState"
	MethodRemoteCall    = "RemoteCall"
)

type controlServiceServer interface {
	install(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	uninstall(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	start(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	stop(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	setStartLevel(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	waitForState(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	remoteCall(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

func controlMethod(name string, call func(controlServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return NewMethodDesc(ControlServiceName, name, func(srv interface{}, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
		return call(srv.(controlServiceServer), ctx, request)
	})
}

// ControlServiceDesc describes the control endpoint service
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*controlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		controlMethod(MethodInstall, controlServiceServer.install),
		controlMethod(MethodUninstall, controlServiceServer.uninstall),
		controlMethod(MethodStart, controlServiceServer.start),
		controlMethod(MethodStop, controlServiceServer.stop),
		controlMethod(MethodSetStartLevel, controlServiceServer.setStartLevel),
		controlMethod(MethodWaitForState, controlServiceServer.waitForState),
		controlMethod(MethodRemoteCall, controlServiceServer.remoteCall),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/control/v1/control.proto",
}

// IsControlMethod reports whether fullMethod belongs to the control service
func IsControlMethod(fullMethod string) bool {
	return len(fullMethod) > len(ControlServiceName)+1 && fullMethod[1:len(ControlServiceName)+1] == ControlServiceName
}
