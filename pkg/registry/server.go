package registry

import (
	"context"
	"time"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/logging"

	"google.golang.org/grpc"
)

// DefaultPort is where endpoints and clients expect the registry when no port is configured
const DefaultPort = 1099

type ServerOptions struct {
	Host string
	Port int
}

// Server exposes an in-memory registry over gRPC
type Server struct {
	server   control.Server
	registry Registry
	logger   logging.Logger
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	server, err := control.NewServer(control.ServerOptions{
		Host: options.Host,
		Port: options.Port,
	}, logger)
	if err != nil {
		return nil, err
	}

	registry := NewMemoryRegistry(logger)
	RegisterGRPCServerHandler(server.GRPC(), registry, logger)

	return &Server{
		server:   server,
		registry: registry,
		logger:   logger,
	}, nil
}

func (s *Server) Address() string {
	return s.server.Address()
}

// Registry returns the local registry served by s
func (s *Server) Registry() Registry {
	return s.registry
}

func (s *Server) Start() {
	s.logger.Infof("Registry serving, address: %s", s.server.Address())
	s.server.Start()
}

func (s *Server) Stop(ctx context.Context) {
	s.server.Stop(ctx)
}

// Connection is a registry client together with the connection it owns
type Connection struct {
	Registry
	conn *grpc.ClientConn
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

// Dial connects to a registry server. Unavailable failures are retried a few times
// on the connection before they surface.
func Dial(address string, logger logging.Logger) (*Connection, error) {
	conn, err := control.Dial(control.ConnectionOptions{
		Address:       address,
		RetryAttempts: 3,
		RetryBackoff:  50 * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Connection{
		Registry: NewGRPCClientGateway(conn, logger),
		conn:     conn,
	}, nil
}
