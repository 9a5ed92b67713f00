package endpoint

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/registry"
	"github.com/core-tools/hsu-control/pkg/runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
)

// Server wires a runtime, its control endpoint and the registrar that publishes it
type Server struct {
	config         *Config
	logger         logging.Logger
	framework      *runtime.Framework
	endpoint       *Endpoint
	registrar      *Registrar
	registryServer *registry.Server
	metricsServer  *http.Server
}

// NewServer builds a server from configuration. A nil activator registry gets the built-in activators.
func NewServer(config *Config, activators *runtime.ActivatorRegistry, logger logging.Logger) (*Server, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	if activators == nil {
		activators = runtime.NewActivatorRegistry()
		if err := runtime.RegisterBuiltins(activators); err != nil {
			return nil, errors.NewInternalError("failed to register built-in activators", err)
		}
	}

	framework := runtime.NewFramework(runtime.FrameworkOptions{
		Activators:        activators,
		InitialStartLevel: config.Runtime.StartLevel,
		DisableStartLevel: config.Runtime.DisableStartLevel,
	}, logging.WithPrefix(logger, "runtime , "))

	endpoint := NewEndpoint(framework, Options{PollInterval: config.Endpoint.PollInterval}, logger)

	server := &Server{
		config:    config,
		logger:    logger,
		framework: framework,
		endpoint:  endpoint,
	}

	registryAddress := net.JoinHostPort(config.Registry.Host, strconv.Itoa(config.Registry.Port))
	if config.Registry.Embedded {
		registryServer, err := registry.NewServer(registry.ServerOptions{
			Host: config.Registry.Host,
			Port: config.Registry.Port,
		}, logging.WithPrefix(logger, "registry , "))
		if err != nil {
			return nil, errors.NewInternalError("failed to create embedded registry", err)
		}
		server.registryServer = registryServer
		registryAddress = registryServer.Address()
	}

	server.registrar = NewRegistrar(endpoint, RegistrarOptions{
		Name:            config.Endpoint.Name,
		RegistryAddress: registryAddress,
		Host:            config.Endpoint.Host,
		Port:            config.Endpoint.Port,
		RetryInterval:   config.Registration.RetryInterval,
		MaxAttempts:     config.Registration.MaxAttempts,
	}, logging.WithPrefix(logger, "registrar , "))

	return server, nil
}

func (s *Server) Framework() *runtime.Framework {
	return s.framework
}

func (s *Server) Endpoint() *Endpoint {
	return s.endpoint
}

func (s *Server) Registrar() *Registrar {
	return s.registrar
}

// Start brings up the embedded registry and metrics listener when configured,
// launches registration and installs the configured units.
func (s *Server) Start(ctx context.Context) error {
	if s.registryServer != nil {
		s.registryServer.Start()
	}

	if s.config.Metrics.Address != "" {
		if err := s.startMetrics(); err != nil {
			return err
		}
	}

	s.registrar.Start(ctx)

	for _, unit := range s.config.Runtime.Units {
		handle, err := s.endpoint.Install(ctx, unit.Location, nil)
		if err != nil {
			// continue with the remaining units rather than failing the server
			s.logger.Errorf("Failed to install configured unit, location: %s, error: %v", unit.Location, err)
			continue
		}
		if unit.Start {
			if err := s.endpoint.Start(ctx, handle); err != nil {
				s.logger.Errorf("Failed to start configured unit, handle: %d, error: %v", handle, err)
			}
		}
	}

	s.logger.Infof("Endpoint server started, name: %s, units: %d", s.config.Endpoint.Name, len(s.config.Runtime.Units))
	return nil
}

func (s *Server) startMetrics() error {
	listener, err := net.Listen("tcp", s.config.Metrics.Address)
	if err != nil {
		return errors.NewNetworkError("failed to listen for metrics", err).WithContext("address", s.config.Metrics.Address)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	s.logger.Infof("Serving metrics, address: %s", listener.Addr().String())
	return nil
}

// Stop unregisters the endpoint, stops every unit and releases listeners
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infof("Endpoint server stopping...")

	var result error
	result = multierr.Append(result, s.registrar.Stop(ctx))
	result = multierr.Append(result, s.framework.Shutdown(ctx))
	if s.registryServer != nil {
		s.registryServer.Stop(ctx)
	}
	if s.metricsServer != nil {
		result = multierr.Append(result, s.metricsServer.Shutdown(ctx))
	}

	if result != nil {
		s.logger.Warnf("Endpoint server stopped with errors: %v", result)
	} else {
		s.logger.Infof("Endpoint server stopped")
	}
	return result
}

// Run starts the server and blocks until ctx is done, then stops it within the
// configured force shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.Endpoint.ForceShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}
