package endpoint

import (
	"context"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/filter"
	"github.com/core-tools/hsu-control/pkg/logging"
	"github.com/core-tools/hsu-control/pkg/runtime"
)

// DefaultPollInterval is the granularity of state waits and service lookups
const DefaultPollInterval = 50 * time.Millisecond

type Options struct {
	PollInterval time.Duration
}

// Endpoint executes control operations against the local runtime
type Endpoint struct {
	framework *runtime.Framework
	options   Options
	logger    logging.Logger
}

func NewEndpoint(framework *runtime.Framework, options Options, logger logging.Logger) *Endpoint {
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	return &Endpoint{
		framework: framework,
		options:   options,
		logger:    logger,
	}
}

var _ domain.Contract = (*Endpoint)(nil)

func (e *Endpoint) Install(ctx context.Context, location string, content []byte) (handle domain.UnitHandle, err error) {
	start := time.Now()
	defer func() { observe("install", start, err) }()

	e.logger.Infof("Installing unit, location: %s, content: %d bytes", location, len(content))

	handle, err = e.framework.Install(ctx, location, content)
	if err != nil {
		e.logger.Errorf("Failed to install unit, location: %s, error: %v", location, err)
		if !errors.IsDeploymentError(err) {
			err = errors.NewDeploymentError("failed to install unit", err).WithContext("location", location)
		}
		return 0, err
	}

	e.logger.Infof("Unit installed, location: %s, handle: %d", location, handle)
	return handle, nil
}

// Uninstall never fails; problems are logged so that cleanup can proceed
func (e *Endpoint) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	start := time.Now()
	err := e.framework.Uninstall(ctx, handle)
	observe("uninstall", start, err)
	if err != nil {
		e.logger.Warnf("Failed to uninstall unit, handle: %d, error: %v", handle, err)
		return nil
	}
	e.logger.Infof("Unit uninstalled, handle: %d", handle)
	return nil
}

func (e *Endpoint) Start(ctx context.Context, handle domain.UnitHandle) (err error) {
	start := time.Now()
	defer func() { observe("start", start, err) }()

	info, err := e.framework.Unit(handle)
	if err != nil {
		return errors.NewActivationError("unit not installed", int(domain.UnitStateUninstalled), err).
			WithContext(errors.ContextKeyHandle, int64(handle))
	}
	if info.State == domain.UnitStateActive {
		e.logger.Debugf("Unit already active, handle: %d", handle)
		return nil
	}
	if info.Fragment {
		e.logger.Debugf("Unit is a fragment, not starting, handle: %d", handle)
		return nil
	}

	startErr := e.framework.Start(ctx, handle)
	if errors.IsCancelledError(startErr) {
		return startErr
	}

	state, _ := e.framework.State(handle)
	if state != domain.UnitStateActive {
		e.logger.Errorf("Unit did not become active, handle: %d, state: %s, error: %v", handle, state, startErr)
		return errors.NewActivationError("unit did not become active", int(state), startErr).
			WithContext(errors.ContextKeyHandle, int64(handle))
	}

	e.logger.Infof("Unit started, handle: %d", handle)
	return nil
}

func (e *Endpoint) Stop(ctx context.Context, handle domain.UnitHandle) (err error) {
	start := time.Now()
	defer func() { observe("stop", start, err) }()

	if _, err := e.framework.Unit(handle); err != nil {
		return errors.NewActivationError("unit not installed", int(domain.UnitStateUninstalled), err).
			WithContext(errors.ContextKeyHandle, int64(handle))
	}

	if stopErr := e.framework.Stop(ctx, handle); stopErr != nil {
		e.logger.Errorf("Failed to stop unit, handle: %d, error: %v", handle, stopErr)
		if errors.IsActivationError(stopErr) {
			return stopErr
		}
		state, _ := e.framework.State(handle)
		return errors.NewActivationError("failed to stop unit", int(state), stopErr).
			WithContext(errors.ContextKeyHandle, int64(handle))
	}

	e.logger.Infof("Unit stopped, handle: %d", handle)
	return nil
}

func (e *Endpoint) SetStartLevel(ctx context.Context, handle domain.UnitHandle, level int) (err error) {
	start := time.Now()
	defer func() { observe("set_start_level", start, err) }()

	manager, err := e.startLevelManager()
	if err != nil {
		return err
	}
	if err := manager.SetUnitStartLevel(ctx, int64(handle), level); err != nil {
		e.logger.Errorf("Failed to set start level, handle: %d, level: %d, error: %v", handle, level, err)
		return err
	}

	e.logger.Infof("Start level set, handle: %d, level: %d", handle, level)
	return nil
}

func (e *Endpoint) startLevelManager() (runtime.StartLevelManager, error) {
	for _, reference := range e.framework.Services().Find(runtime.StartLevelCapability, nil) {
		if manager, ok := reference.Service.(runtime.StartLevelManager); ok {
			return manager, nil
		}
	}
	return nil, errors.NewCapabilityUnavailableError("start level management is not available", nil).
		WithContext(errors.ContextKeyCapability, runtime.StartLevelCapability)
}

// WaitForState polls until the unit reaches at least target. NoWait checks exactly once.
func (e *Endpoint) WaitForState(ctx context.Context, handle domain.UnitHandle, target domain.UnitState, timeout time.Duration) (err error) {
	start := time.Now()
	defer func() { observe("wait_for_state", start, err) }()

	// an unknown handle reads as uninstalled and simply never reaches the target
	state, _ := e.framework.State(handle)
	if state >= target {
		return nil
	}
	if timeout == domain.NoWait {
		return e.stateTimeout(handle, target, state)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.NewCancelledError("state wait interrupted", ctx.Err()).
				WithContext(errors.ContextKeyHandle, int64(handle)).
				WithContext(errors.ContextKeyState, int(state))
		case <-deadline:
			state, _ = e.framework.State(handle)
			if state >= target {
				return nil
			}
			return e.stateTimeout(handle, target, state)
		case <-ticker.C:
			state, _ = e.framework.State(handle)
			if state >= target {
				return nil
			}
		}
	}
}

func (e *Endpoint) stateTimeout(handle domain.UnitHandle, target, state domain.UnitState) error {
	e.logger.Debugf("Unit did not reach state, handle: %d, target: %s, last: %s", handle, target, state)
	return errors.NewStateTimeoutError("unit did not reach the expected state", int(state)).
		WithContext(errors.ContextKeyHandle, int64(handle)).
		WithContext("target", int(target))
}

func (e *Endpoint) RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (result interface{}, err error) {
	start := time.Now()
	defer func() { observe("remote_call", start, err) }()

	selection, err := filter.Parse(request.Filter)
	if err != nil {
		return nil, errors.NewValidationError("invalid selection filter", err).
			WithContext(errors.ContextKeyFilter, request.Filter)
	}

	reference, err := e.findService(ctx, request.Capability, selection, request.Timeout)
	if err != nil {
		return nil, err
	}

	e.logger.Debugf("Invoking service, capability: %s, service: %d, method: %s", request.Capability, reference.ID, request.Method)
	return invokeMethod(ctx, reference.Service, request.Method, request.ParamTypes, request.Args)
}

// findService waits up to timeout for a matching provider to appear. The first match wins.
func (e *Endpoint) findService(ctx context.Context, capability string, selection *filter.Filter, timeout time.Duration) (*runtime.ServiceReference, error) {
	find := func() *runtime.ServiceReference {
		if matches := e.framework.Services().Find(capability, selection); len(matches) > 0 {
			return matches[0]
		}
		return nil
	}
	noSuchService := func() error {
		return errors.NewNoSuchServiceError("no provider matches", nil).
			WithContext(errors.ContextKeyCapability, capability).
			WithContext(errors.ContextKeyFilter, selection.String())
	}

	if reference := find(); reference != nil {
		return reference, nil
	}
	if timeout == domain.NoWait {
		return nil, noSuchService()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelledError("service lookup interrupted", ctx.Err()).
				WithContext(errors.ContextKeyCapability, capability)
		case <-deadline:
			if reference := find(); reference != nil {
				return reference, nil
			}
			return nil, noSuchService()
		case <-ticker.C:
			if reference := find(); reference != nil {
				return reference, nil
			}
		}
	}
}
