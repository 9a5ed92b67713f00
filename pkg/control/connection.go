package control

import (
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

type ConnectionOptions struct {
	Address string
	// ObjectID, when set, is attached to every call so the server can detect stale references
	ObjectID string
	// RetryAttempts > 1 retries Unavailable failures transparently
	RetryAttempts uint
	RetryBackoff  time.Duration
}

// Dial creates a lazily connecting client connection
func Dial(options ConnectionOptions, logger logging.Logger) (*grpc.ClientConn, error) {
	if options.Address == "" {
		return nil, errors.NewValidationError("address is required", nil)
	}

	interceptors := []grpc.UnaryClientInterceptor{}
	if options.RetryAttempts > 1 {
		backoff := options.RetryBackoff
		if backoff <= 0 {
			backoff = 100 * time.Millisecond
		}
		interceptors = append(interceptors, grpc_retry.UnaryClientInterceptor(
			grpc_retry.WithMax(options.RetryAttempts),
			grpc_retry.WithCodes(codes.Unavailable),
			grpc_retry.WithBackoff(grpc_retry.BackoffLinear(backoff)),
		))
	}
	if options.ObjectID != "" {
		interceptors = append(interceptors, ObjectIDClientInterceptor(options.ObjectID))
	}

	conn, err := grpc.NewClient(options.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(interceptors...),
	)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create client connection", err).WithContext("address", options.Address)
	}

	logger.Debugf("Client connection created, address: %s, object: %s", options.Address, options.ObjectID)
	return conn, nil
}
