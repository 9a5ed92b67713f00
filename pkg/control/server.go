package control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"google.golang.org/grpc"
)

type ServerOptions struct {
	Host string
	// Port 0 picks an ephemeral port
	Port                int
	UnaryInterceptors   []grpc.UnaryServerInterceptor
	GracefulStopTimeout time.Duration
}

type Server interface {
	GRPC() *grpc.Server
	Address() string
	Start()
	Stop(ctx context.Context)
}

type server struct {
	options    ServerOptions
	grpcServer *grpc.Server
	listener   net.Listener
	logger     logging.Logger
	startOnce  sync.Once
	stopOnce   sync.Once
	done       chan struct{}
}

// NewServer binds the listener immediately so that Address is known before Start
func NewServer(options ServerOptions, logger logging.Logger) (Server, error) {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.GracefulStopTimeout == 0 {
		options.GracefulStopTimeout = 5 * time.Second
	}

	address := net.JoinHostPort(options.Host, fmt.Sprintf("%d", options.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("address", address)
	}

	interceptors := append([]grpc.UnaryServerInterceptor{loggingServerInterceptor(logger)}, options.UnaryInterceptors...)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))

	logger.Infof("gRPC server listening, address: %s", listener.Addr().String())

	return &server{
		options:    options,
		grpcServer: grpcServer,
		listener:   listener,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

func (s *server) GRPC() *grpc.Server {
	return s.grpcServer
}

func (s *server) Address() string {
	return s.listener.Addr().String()
}

func (s *server) Start() {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.done)
			if err := s.grpcServer.Serve(s.listener); err != nil {
				s.logger.Errorf("gRPC server stopped with error: %v", err)
			}
		}()
	})
}

// Stop drains in-flight calls, forcing the stop once ctx or the graceful timeout expires
func (s *server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()

		timer := time.NewTimer(s.options.GracefulStopTimeout)
		defer timer.Stop()

		select {
		case <-stopped:
		case <-timer.C:
			s.logger.Warnf("Graceful stop timed out, forcing stop")
			s.grpcServer.Stop()
		case <-ctx.Done():
			s.logger.Warnf("Stop cancelled, forcing stop")
			s.grpcServer.Stop()
		}

		// Serve never ran, so nothing closes the listener for us
		s.startOnce.Do(func() {
			s.listener.Close()
			close(s.done)
		})
		<-s.done
		s.logger.Infof("gRPC server stopped, address: %s", s.listener.Addr().String())
	})
}

func loggingServerInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debugf("Call failed, method: %s, elapsed: %v, error: %v", info.FullMethod, time.Since(start), err)
		} else {
			logger.Debugf("Call done, method: %s, elapsed: %v", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}
