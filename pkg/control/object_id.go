package control

import (
	"context"

	"github.com/core-tools/hsu-control/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ObjectIDMetadataKey carries the exported object id a client reference was resolved to
const ObjectIDMetadataKey = "x-hsu-object-id"

// ObjectIDProvider returns the object id currently exported by a server, or "" when none is
type ObjectIDProvider func() string

// ObjectIDServerInterceptor rejects calls addressed to an object id that is no longer exported.
// Calls that carry no object id are let through.
func ObjectIDServerInterceptor(current ObjectIDProvider, guarded func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if guarded != nil && !guarded(info.FullMethod) {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		values := md.Get(ObjectIDMetadataKey)
		if len(values) == 0 || values[0] == "" {
			return handler(ctx, req)
		}
		if exported := current(); values[0] != exported {
			return nil, ToStatusError(errors.NewStaleReferenceError("object is no longer exported", nil).
				WithContext("object_id", values[0]))
		}
		return handler(ctx, req)
	}
}

// ObjectIDClientInterceptor stamps every outgoing call with objectID
func ObjectIDClientInterceptor(objectID string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if objectID != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, ObjectIDMetadataKey, objectID)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
