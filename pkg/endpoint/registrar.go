package endpoint

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-control/pkg/control"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/registry"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
)

const (
	DefaultRetryInterval  = 500 * time.Millisecond
	DefaultMaxAttempts    = 14
	defaultAttemptTimeout = 2 * time.Second
)

type RegistrarOptions struct {
	// Name the endpoint is bound under
	Name            string
	RegistryAddress string
	// Host and Port the endpoint is exported on; port 0 picks an ephemeral port
	Host          string
	Port          int
	RetryInterval time.Duration
	MaxAttempts   uint
}

// Registrar exports an endpoint and binds it into the registry from a background task,
// tolerating a registry that comes up later than the endpoint.
type Registrar struct {
	options  RegistrarOptions
	contract domain.Contract
	logger   logging.Logger

	mutex      sync.Mutex
	conn       *registry.Connection
	server     control.Server
	objectID   string
	cancel     context.CancelFunc
	done       chan struct{}
	lastErr    error
	registered atomic.Bool
}

func NewRegistrar(contract domain.Contract, options RegistrarOptions, logger logging.Logger) *Registrar {
	if options.RetryInterval <= 0 {
		options.RetryInterval = DefaultRetryInterval
	}
	if options.MaxAttempts == 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	return &Registrar{
		options:  options,
		contract: contract,
		logger:   logger,
	}
}

// Start launches the registration task. Calling Start again while it runs is a no-op.
func (r *Registrar) Start(ctx context.Context) {
	r.mutex.Lock()
	if r.done != nil {
		r.mutex.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mutex.Unlock()

	r.logger.Infof("Registrar starting, name: %s, registry: %s", r.options.Name, r.options.RegistryAddress)

	go func() {
		defer close(done)
		r.run(runCtx)
	}()
}

// Done is closed once the registration task has finished, successfully or not
func (r *Registrar) Done() <-chan struct{} {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.done
}

func (r *Registrar) Registered() bool {
	return r.registered.Load()
}

// Err returns the failure that ended an unsuccessful registration task
func (r *Registrar) Err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastErr
}

// Address returns where the endpoint is exported, "" when it is not
func (r *Registrar) Address() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.server == nil {
		return ""
	}
	return r.server.Address()
}

// ObjectID returns the id of the current export, "" when the endpoint is not exported
func (r *Registrar) ObjectID() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.objectID
}

func (r *Registrar) run(ctx context.Context) {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := r.attempt(ctx)
		if err == nil {
			registrarAttempts.WithLabelValues("success").Inc()
			return struct{}{}, nil
		}
		registrarAttempts.WithLabelValues("failure").Inc()
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		r.logger.Warnf("Registration attempt failed, name: %s, attempt: %d/%d, error: %v",
			r.options.Name, attempt, r.options.MaxAttempts, err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.options.RetryInterval)),
		backoff.WithMaxTries(r.options.MaxAttempts),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if stderrors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		r.mutex.Lock()
		r.lastErr = err
		r.mutex.Unlock()

		if ctx.Err() != nil {
			r.logger.Infof("Registration cancelled, name: %s", r.options.Name)
			return
		}
		registrarAttempts.WithLabelValues("exhausted").Inc()
		r.logger.Errorf("Endpoint remains unregistered, name: %s, attempts: %d, error: %v", r.options.Name, attempt, err)
		return
	}

	r.registered.Store(true)
	r.logger.Infof("Endpoint registered, name: %s, address: %s, object: %s, attempts: %d",
		r.options.Name, r.Address(), r.ObjectID(), attempt)
}

// attempt locates the registry, exports the endpoint once and binds it
func (r *Registrar) attempt(ctx context.Context) error {
	conn, err := r.registryConnection()
	if err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, defaultAttemptTimeout)
	defer cancel()

	if err := conn.Ping(attemptCtx); err != nil {
		// the next attempt locates the registry from scratch
		r.dropConnection(conn)
		return errors.NewNetworkError("registry not reachable", err).WithContext("registry", r.options.RegistryAddress)
	}

	address, objectID, err := r.export()
	if err != nil {
		return err
	}

	return conn.Rebind(attemptCtx, registry.Binding{
		Name:     r.options.Name,
		Address:  address,
		ObjectID: objectID,
	})
}

func (r *Registrar) registryConnection() (*registry.Connection, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := registry.Dial(r.options.RegistryAddress, r.logger)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *Registrar) dropConnection(conn *registry.Connection) {
	r.mutex.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mutex.Unlock()
	conn.Close()
}

func (r *Registrar) currentObjectID() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.objectID
}

func (r *Registrar) export() (string, string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.server != nil {
		return r.server.Address(), r.objectID, nil
	}

	server, err := control.NewServer(control.ServerOptions{
		Host: r.options.Host,
		Port: r.options.Port,
		UnaryInterceptors: []grpc.UnaryServerInterceptor{
			control.ObjectIDServerInterceptor(r.currentObjectID, control.IsControlMethod),
		},
	}, r.logger)
	if err != nil {
		return "", "", err
	}
	control.RegisterGRPCServerHandler(server.GRPC(), r.contract, r.logger)

	r.server = server
	r.objectID = uuid.NewString()
	server.Start()
	r.logger.Infof("Endpoint exported, address: %s, object: %s", server.Address(), r.objectID)
	return server.Address(), r.objectID, nil
}

// Stop cancels and joins the registration task, then unbinds and unexports the endpoint.
// Not bound and not exported conditions are expected here and ignored.
func (r *Registrar) Stop(ctx context.Context) error {
	r.mutex.Lock()
	cancel, done := r.cancel, r.done
	r.mutex.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return errors.NewCancelledError("registrar stop interrupted", ctx.Err())
		}
	}

	var result error
	result = multierr.Append(result, r.unbind(ctx))
	result = multierr.Append(result, r.unexport(ctx))

	r.mutex.Lock()
	conn := r.conn
	r.conn = nil
	r.mutex.Unlock()
	if conn != nil {
		result = multierr.Append(result, conn.Close())
	}

	r.registered.Store(false)
	r.logger.Infof("Registrar stopped, name: %s", r.options.Name)
	return result
}

func (r *Registrar) unbind(ctx context.Context) error {
	r.mutex.Lock()
	conn, objectID := r.conn, r.objectID
	r.mutex.Unlock()

	if conn == nil || objectID == "" {
		return nil
	}
	err := conn.Unbind(ctx, r.options.Name, objectID)
	if err == nil {
		r.logger.Infof("Endpoint unbound, name: %s", r.options.Name)
		return nil
	}
	if errors.IsNotFoundError(err) {
		r.logger.Debugf("Endpoint was not bound, name: %s", r.options.Name)
		return nil
	}
	r.logger.Warnf("Failed to unbind endpoint, name: %s, error: %v", r.options.Name, err)
	return err
}

func (r *Registrar) unexport(ctx context.Context) error {
	r.mutex.Lock()
	server := r.server
	r.server = nil
	r.objectID = ""
	r.mutex.Unlock()

	if server == nil {
		return nil
	}
	server.Stop(ctx)
	return nil
}
