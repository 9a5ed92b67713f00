package client

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"
)

// ControlClient is the caller-facing control surface: the endpoint operations plus
// cleanup of everything installed through the client.
type ControlClient interface {
	domain.Contract

	// Cleanup uninstalls every unit installed through this client, newest first
	Cleanup(ctx context.Context) error

	// Close releases the cached endpoint reference
	Close() error
}

type Option func(*Client)

func WithResolver(resolver Resolver) Option {
	return func(c *Client) {
		c.resolver = resolver
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// Client resolves its endpoint lazily on first use and caches the reference
// until a call reports it stale.
type Client struct {
	session      Session
	resolver     Resolver
	pollInterval time.Duration
	logger       logging.Logger

	// mutex serializes resolution so concurrent first calls share one lookup
	mutex     sync.Mutex
	reference Reference

	stackMutex sync.Mutex
	installed  []domain.UnitHandle
}

var _ ControlClient = (*Client)(nil)

func New(session Session, logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		session:      session,
		pollInterval: DefaultPollInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = NewRegistryResolver(logging.WithPrefix(logger, "resolver , "))
	}
	return c
}

func (c *Client) Session() Session {
	return c.session
}

// resolve returns the cached reference or looks the endpoint up until the session's
// lookup timeout elapses.
func (c *Client) resolve(ctx context.Context) (Reference, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.reference != nil {
		return c.reference, nil
	}

	timeout := c.session.LookupTimeout
	started := time.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithDeadline(ctx, started.Add(timeout))
		}
		reference, err := c.resolver.Resolve(attemptCtx, c.session)
		cancel()

		if err == nil {
			c.reference = reference
			c.logger.Infof("Endpoint reference obtained, name: %s, attempts: %d, elapsed: %v",
				c.session.Name, attempt, time.Since(started))
			return reference, nil
		}
		lastErr = err
		c.logger.Debugf("Endpoint lookup failed, name: %s, attempt: %d, error: %v", c.session.Name, attempt, err)

		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("endpoint lookup interrupted", ctx.Err()).
				WithContext(errors.ContextKeyName, c.session.Name)
		}

		wait := c.pollInterval
		if timeout >= 0 {
			remaining := timeout - time.Since(started)
			if remaining <= 0 {
				return nil, c.unavailable(lastErr, attempt)
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.NewCancelledError("endpoint lookup interrupted", ctx.Err()).
				WithContext(errors.ContextKeyName, c.session.Name)
		}
	}
}

func (c *Client) unavailable(lastErr error, attempts int) error {
	c.logger.Errorf("Endpoint not available, name: %s, registry: %s, attempts: %d, error: %v",
		c.session.Name, c.session.RegistryAddress(), attempts, lastErr)
	return errors.NewEndpointUnavailableError("endpoint not available within lookup timeout", lastErr).
		WithContext(errors.ContextKeyName, c.session.Name).
		WithContext(errors.ContextKeyAttempts, attempts)
}

// invalidate drops reference if it is still the cached one
func (c *Client) invalidate(reference Reference) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.reference != reference {
		return
	}
	c.reference = nil
	if err := reference.Close(); err != nil {
		c.logger.Debugf("Failed to close stale reference: %v", err)
	}
	c.logger.Infof("Endpoint reference invalidated, name: %s", c.session.Name)
}

func call[T any](c *Client, ctx context.Context, operation string, fn func(domain.Contract) (T, error)) (T, error) {
	var zero T
	reference, err := c.resolve(ctx)
	if err != nil {
		return zero, err
	}

	result, err := fn(reference)
	if err != nil {
		if errors.IsStaleReferenceError(err) {
			c.invalidate(reference)
		}
		c.logger.Debugf("Control operation failed, operation: %s, error: %v", operation, err)
		return zero, err
	}
	return result, nil
}

func (c *Client) Install(ctx context.Context, location string, content []byte) (domain.UnitHandle, error) {
	handle, err := call(c, ctx, "install", func(contract domain.Contract) (domain.UnitHandle, error) {
		return contract.Install(ctx, location, content)
	})
	if err != nil {
		return 0, err
	}

	c.stackMutex.Lock()
	c.installed = append(c.installed, handle)
	c.stackMutex.Unlock()

	c.logger.Infof("Unit installed, location: %s, handle: %d", location, handle)
	return handle, nil
}

func (c *Client) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	_, err := call(c, ctx, "uninstall", func(contract domain.Contract) (struct{}, error) {
		return struct{}{}, contract.Uninstall(ctx, handle)
	})
	return err
}

func (c *Client) Start(ctx context.Context, handle domain.UnitHandle) error {
	_, err := call(c, ctx, "start", func(contract domain.Contract) (struct{}, error) {
		return struct{}{}, contract.Start(ctx, handle)
	})
	return err
}

func (c *Client) Stop(ctx context.Context, handle domain.UnitHandle) error {
	_, err := call(c, ctx, "stop", func(contract domain.Contract) (struct{}, error) {
		return struct{}{}, contract.Stop(ctx, handle)
	})
	return err
}

func (c *Client) SetStartLevel(ctx context.Context, handle domain.UnitHandle, level int) error {
	_, err := call(c, ctx, "set_start_level", func(contract domain.Contract) (struct{}, error) {
		return struct{}{}, contract.SetStartLevel(ctx, handle, level)
	})
	return err
}

func (c *Client) WaitForState(ctx context.Context, handle domain.UnitHandle, target domain.UnitState, timeout time.Duration) error {
	_, err := call(c, ctx, "wait_for_state", func(contract domain.Contract) (struct{}, error) {
		return struct{}{}, contract.WaitForState(ctx, handle, target, timeout)
	})
	return err
}

func (c *Client) RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (interface{}, error) {
	return call(c, ctx, "remote_call", func(contract domain.Contract) (interface{}, error) {
		return contract.RemoteCall(ctx, request)
	})
}

// Installed returns the handles awaiting cleanup, oldest first
func (c *Client) Installed() []domain.UnitHandle {
	c.stackMutex.Lock()
	defer c.stackMutex.Unlock()
	return append([]domain.UnitHandle(nil), c.installed...)
}

// Cleanup drains the install stack in reverse install order. Every handle gets an
// uninstall attempt, repeated once on a fresh reference after a stale failure.
// Only a failure of the last one is returned.
func (c *Client) Cleanup(ctx context.Context) error {
	c.stackMutex.Lock()
	handles := c.installed
	c.installed = nil
	c.stackMutex.Unlock()

	if len(handles) == 0 {
		return nil
	}
	c.logger.Infof("Cleaning up installed units, count: %d", len(handles))

	var lastErr error
	for i := len(handles) - 1; i >= 0; i-- {
		lastErr = c.Uninstall(ctx, handles[i])
		if errors.IsStaleReferenceError(lastErr) {
			// the stale reference was dropped; one more attempt goes to a fresh one
			lastErr = c.Uninstall(ctx, handles[i])
		}
		if lastErr != nil {
			c.logger.Warnf("Failed to uninstall unit during cleanup, handle: %d, error: %v", handles[i], lastErr)
		}
	}
	if lastErr != nil {
		return errors.NewInternalError("cleanup did not complete", lastErr).
			WithContext(errors.ContextKeyHandle, int64(handles[0]))
	}
	return nil
}

func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.reference == nil {
		return nil
	}
	err := c.reference.Close()
	c.reference = nil
	return err
}
