package retry

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/core-tools/hsu-control/pkg/client"
	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = time.Second
)

// Policy bounds the retries of one client. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts uint
	Delay       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// Client retries calls that fail with a stale reference. Every other failure,
// including application failures reported by the endpoint, is returned after one attempt.
type Client struct {
	inner  client.ControlClient
	policy Policy
	logger logging.Logger
}

var _ client.ControlClient = (*Client)(nil)

func New(inner client.ControlClient, policy Policy, logger logging.Logger) *Client {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Delay < 0 {
		policy.Delay = DefaultDelay
	}
	return &Client{
		inner:  inner,
		policy: policy,
		logger: logger,
	}
}

func (c *Client) Policy() Policy {
	return c.policy
}

func invoke[T any](c *Client, ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	attempts := 0
	var lastErr error

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !errors.IsStaleReferenceError(err) {
			return result, backoff.Permanent(err)
		}
		lastErr = err
		c.logger.Warnf("Stale endpoint reference, operation: %s, attempt: %d/%d, error: %v",
			operation, attempts, c.policy.MaxAttempts, err)
		return result, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.policy.Delay)),
		backoff.WithMaxTries(c.policy.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	var permanent *backoff.PermanentError
	if stderrors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err == nil {
		if attempts > 1 {
			c.logger.Infof("Operation recovered from stale reference, operation: %s, attempts: %d", operation, attempts)
		}
		return result, nil
	}

	if lastErr != nil && !errors.IsStaleReferenceError(err) && ctx.Err() != nil {
		return result, errors.NewCancelledError("retry interrupted", ctx.Err()).
			WithContext(errors.ContextKeyAttempts, attempts)
	}
	if errors.IsStaleReferenceError(err) {
		c.logger.Errorf("Retry attempts exhausted, operation: %s, attempts: %d, error: %v", operation, attempts, err)
		return result, errors.NewStaleReferenceError("endpoint reference still stale after retries", err).
			WithContext(errors.ContextKeyAttempts, attempts)
	}
	return result, err
}

func (c *Client) Install(ctx context.Context, location string, content []byte) (domain.UnitHandle, error) {
	return invoke(c, ctx, "install", func() (domain.UnitHandle, error) {
		return c.inner.Install(ctx, location, content)
	})
}

func (c *Client) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	_, err := invoke(c, ctx, "uninstall", func() (struct{}, error) {
		return struct{}{}, c.inner.Uninstall(ctx, handle)
	})
	return err
}

func (c *Client) Start(ctx context.Context, handle domain.UnitHandle) error {
	_, err := invoke(c, ctx, "start", func() (struct{}, error) {
		return struct{}{}, c.inner.Start(ctx, handle)
	})
	return err
}

func (c *Client) Stop(ctx context.Context, handle domain.UnitHandle) error {
	_, err := invoke(c, ctx, "stop", func() (struct{}, error) {
		return struct{}{}, c.inner.Stop(ctx, handle)
	})
	return err
}

func (c *Client) SetStartLevel(ctx context.Context, handle domain.UnitHandle, level int) error {
	_, err := invoke(c, ctx, "set_start_level", func() (struct{}, error) {
		return struct{}{}, c.inner.SetStartLevel(ctx, handle, level)
	})
	return err
}

func (c *Client) WaitForState(ctx context.Context, handle domain.UnitHandle, target domain.UnitState, timeout time.Duration) error {
	_, err := invoke(c, ctx, "wait_for_state", func() (struct{}, error) {
		return struct{}{}, c.inner.WaitForState(ctx, handle, target, timeout)
	})
	return err
}

func (c *Client) RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (interface{}, error) {
	return invoke(c, ctx, "remote_call", func() (interface{}, error) {
		return c.inner.RemoteCall(ctx, request)
	})
}

// Cleanup is not retried: the drain empties the install stack on its first pass.
func (c *Client) Cleanup(ctx context.Context) error {
	return c.inner.Cleanup(ctx)
}

func (c *Client) Close() error {
	return c.inner.Close()
}
