package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"
	"github.com/core-tools/hsu-control/pkg/logging"
)

const systemUnitName = "system"

type FrameworkOptions struct {
	Activators        *ActivatorRegistry
	InitialStartLevel int  // defaults to 1
	DisableStartLevel bool // do not publish the startlevel capability
	// ReadLocation resolves a location when Install is called without content.
	// Defaults to ReadLocation.
	ReadLocation func(location string) ([]byte, error)
}

// UnitInfo is a point-in-time snapshot of an installed unit
type UnitInfo struct {
	Handle     domain.UnitHandle
	Location   string
	Name       string
	Version    string
	Fragment   bool
	State      domain.UnitState
	StartLevel int
}

type unit struct {
	handle   domain.UnitHandle
	location string
	manifest *Manifest

	// lifecycle serializes transitions; mutex guards the fields below and is
	// never held across activator calls so State stays readable mid-transition.
	lifecycle  sync.Mutex
	mutex      sync.RWMutex
	state      domain.UnitState
	startLevel int
	activator  Activator
	context    *UnitContext
}

func (u *unit) getState() domain.UnitState {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.state
}

func (u *unit) setState(state domain.UnitState) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.state = state
}

func (u *unit) getStartLevel() int {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.startLevel
}

// Framework is the local modular runtime: it owns units, their lifecycle and the service registry
type Framework struct {
	options  FrameworkOptions
	logger   logging.Logger
	services *ServiceRegistry

	units      map[domain.UnitHandle]*unit
	nextHandle domain.UnitHandle
	startLevel int
	mutex      sync.RWMutex

	// background activations (autostart, start level changes)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFramework(options FrameworkOptions, logger logging.Logger) *Framework {
	if options.Activators == nil {
		options.Activators = NewActivatorRegistry()
	}
	if options.InitialStartLevel <= 0 {
		options.InitialStartLevel = 1
	}
	if options.ReadLocation == nil {
		options.ReadLocation = ReadLocation
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Framework{
		options:    options,
		logger:     logger,
		services:   NewServiceRegistry(),
		units:      make(map[domain.UnitHandle]*unit),
		nextHandle: domain.SystemUnitHandle + 1,
		startLevel: options.InitialStartLevel,
		ctx:        ctx,
		cancel:     cancel,
	}

	system := &unit{
		handle:     domain.SystemUnitHandle,
		location:   systemUnitName,
		manifest:   &Manifest{Name: systemUnitName, Version: defaultUnitVersion},
		state:      domain.UnitStateActive,
		startLevel: 0,
	}
	system.context = &UnitContext{framework: f, unit: system}
	f.units[system.handle] = system

	if !options.DisableStartLevel {
		if _, err := f.services.Register(system.handle, StartLevelCapability, &startLevelService{framework: f}, nil); err != nil {
			logger.Errorf("Failed to publish start level capability: %v", err)
		}
	}

	logger.Infof("Framework created, start_level: %d, activators: %v", f.startLevel, options.Activators.Names())
	return f
}

func (f *Framework) Services() *ServiceRegistry {
	return f.services
}

func (f *Framework) unit(handle domain.UnitHandle) (*unit, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	u, ok := f.units[handle]
	if !ok {
		return nil, errors.NewNotFoundError("unit not installed", nil).WithContext(errors.ContextKeyHandle, int64(handle))
	}
	return u, nil
}

// Install deploys a unit from content, or from location when content is nil.
// Installing an already installed location returns the existing handle.
func (f *Framework) Install(ctx context.Context, location string, content []byte) (domain.UnitHandle, error) {
	if content == nil {
		data, err := f.options.ReadLocation(location)
		if err != nil {
			return 0, errors.NewDeploymentError("cannot resolve unit location", err).WithContext("location", location)
		}
		content = data
	}

	manifest, err := ParseManifest(content)
	if err != nil {
		return 0, errors.NewDeploymentError("malformed unit", err).WithContext("location", location)
	}

	f.mutex.Lock()
	for _, existing := range f.units {
		if existing.handle != domain.SystemUnitHandle && existing.location == location {
			f.mutex.Unlock()
			f.logger.Infof("Unit location already installed, location: %s, handle: %d", location, existing.handle)
			return existing.handle, nil
		}
		if existing.manifest.Identity() == manifest.Identity() {
			f.mutex.Unlock()
			return 0, errors.NewDeploymentError("conflicting unit identity", nil).
				WithContext("identity", manifest.Identity()).
				WithContext("location", location).
				WithContext(errors.ContextKeyHandle, int64(existing.handle))
		}
	}

	startLevel := manifest.StartLevel
	if startLevel == 0 {
		startLevel = 1
	}
	u := &unit{
		handle:     f.nextHandle,
		location:   location,
		manifest:   manifest,
		state:      domain.UnitStateInstalled,
		startLevel: startLevel,
	}
	f.nextHandle++
	f.units[u.handle] = u
	f.mutex.Unlock()

	if f.resolve(u) {
		u.setState(domain.UnitStateResolved)
	}

	f.logger.Infof("Unit installed, handle: %d, identity: %s, state: %s", u.handle, manifest.Identity(), u.getState())

	if manifest.Autostart && startLevel <= f.StartLevel() {
		f.startAsync(u.handle, "autostart")
	}
	return u.handle, nil
}

// resolve reports whether every requirement of the unit is available
func (f *Framework) resolve(u *unit) bool {
	if u.manifest.Activator == "" {
		return true
	}
	_, ok := f.options.Activators.Lookup(u.manifest.Activator)
	if !ok {
		f.logger.Warnf("Unit cannot be resolved, handle: %d, missing activator: %s", u.handle, u.manifest.Activator)
	}
	return ok
}

func (f *Framework) startAsync(handle domain.UnitHandle, reason string) {
	if f.ctx.Err() != nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.Start(f.ctx, handle); err != nil {
			f.logger.Warnf("Background start failed, handle: %d, reason: %s, error: %v", handle, reason, err)
		}
	}()
}

// Start activates a unit. A unit whose start level is above the framework's stays resolved.
func (f *Framework) Start(ctx context.Context, handle domain.UnitHandle) error {
	u, err := f.unit(handle)
	if err != nil {
		return err
	}

	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	state := u.getState()
	switch state {
	case domain.UnitStateActive:
		return nil
	case domain.UnitStateUninstalled:
		return errors.NewActivationError("unit is uninstalled", int(state), nil).WithContext(errors.ContextKeyHandle, int64(handle))
	}
	if u.manifest.Fragment {
		return errors.NewActivationError("fragment units cannot be started", int(state), nil).WithContext(errors.ContextKeyHandle, int64(handle))
	}

	if state == domain.UnitStateInstalled {
		if !f.resolve(u) {
			return errors.NewActivationError("unit cannot be resolved", int(state), nil).
				WithContext(errors.ContextKeyHandle, int64(handle)).
				WithContext("activator", u.manifest.Activator)
		}
		u.setState(domain.UnitStateResolved)
	}

	if u.getStartLevel() > f.StartLevel() {
		f.logger.Infof("Unit start deferred by start level, handle: %d, unit_level: %d, framework_level: %d",
			handle, u.getStartLevel(), f.StartLevel())
		return nil
	}

	u.setState(domain.UnitStateStarting)
	f.logger.Debugf("Starting unit, handle: %d, identity: %s", handle, u.manifest.Identity())

	if delay := u.manifest.ActivationDelay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			u.setState(domain.UnitStateResolved)
			return errors.NewCancelledError("unit activation interrupted", ctx.Err()).WithContext(errors.ContextKeyHandle, int64(handle))
		}
	}

	unitContext := &UnitContext{framework: f, unit: u}
	var activator Activator
	if u.manifest.Activator != "" {
		factory, _ := f.options.Activators.Lookup(u.manifest.Activator)
		activator = factory()
		if err := activator.Start(ctx, unitContext); err != nil {
			f.services.removeUnit(handle)
			u.setState(domain.UnitStateResolved)
			return errors.NewActivationError("activator failed to start", int(domain.UnitStateResolved), err).
				WithContext(errors.ContextKeyHandle, int64(handle))
		}
	}

	u.mutex.Lock()
	u.activator = activator
	u.context = unitContext
	u.state = domain.UnitStateActive
	u.mutex.Unlock()

	f.logger.Infof("Unit started, handle: %d, identity: %s", handle, u.manifest.Identity())
	return nil
}

// Stop deactivates a unit. Stopping a unit that is not active does nothing.
func (f *Framework) Stop(ctx context.Context, handle domain.UnitHandle) error {
	if handle == domain.SystemUnitHandle {
		return errors.NewValidationError("system unit cannot be stopped", nil)
	}
	u, err := f.unit(handle)
	if err != nil {
		return err
	}

	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()
	return f.stopLocked(ctx, u)
}

func (f *Framework) stopLocked(ctx context.Context, u *unit) error {
	if u.getState() != domain.UnitStateActive {
		return nil
	}

	u.setState(domain.UnitStateStopping)

	u.mutex.RLock()
	activator, unitContext := u.activator, u.context
	u.mutex.RUnlock()

	var stopErr error
	if activator != nil {
		stopErr = activator.Stop(ctx, unitContext)
	}
	removed := f.services.removeUnit(u.handle)

	u.mutex.Lock()
	u.activator = nil
	u.context = nil
	u.state = domain.UnitStateResolved
	u.mutex.Unlock()

	if stopErr != nil {
		return errors.NewActivationError("activator failed to stop", int(domain.UnitStateResolved), stopErr).
			WithContext(errors.ContextKeyHandle, int64(u.handle))
	}
	f.logger.Infof("Unit stopped, handle: %d, services_removed: %d", u.handle, removed)
	return nil
}

// Uninstall stops the unit if needed and removes it. Its handle is never reused.
func (f *Framework) Uninstall(ctx context.Context, handle domain.UnitHandle) error {
	if handle == domain.SystemUnitHandle {
		return errors.NewValidationError("system unit cannot be uninstalled", nil)
	}
	u, err := f.unit(handle)
	if err != nil {
		return err
	}

	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	stopErr := f.stopLocked(ctx, u)
	f.services.removeUnit(handle)
	u.setState(domain.UnitStateUninstalled)

	f.mutex.Lock()
	delete(f.units, handle)
	f.mutex.Unlock()

	f.logger.Infof("Unit uninstalled, handle: %d, identity: %s", handle, u.manifest.Identity())
	return stopErr
}

func (f *Framework) State(handle domain.UnitHandle) (domain.UnitState, error) {
	u, err := f.unit(handle)
	if err != nil {
		return domain.UnitStateUninstalled, err
	}
	return u.getState(), nil
}

func (f *Framework) Unit(handle domain.UnitHandle) (UnitInfo, error) {
	u, err := f.unit(handle)
	if err != nil {
		return UnitInfo{}, err
	}
	return u.info(), nil
}

func (f *Framework) Units() []UnitInfo {
	f.mutex.RLock()
	infos := make([]UnitInfo, 0, len(f.units))
	for _, u := range f.units {
		infos = append(infos, u.info())
	}
	f.mutex.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Handle < infos[j].Handle })
	return infos
}

func (u *unit) info() UnitInfo {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return UnitInfo{
		Handle:     u.handle,
		Location:   u.location,
		Name:       u.manifest.Name,
		Version:    u.manifest.Version,
		Fragment:   u.manifest.Fragment,
		State:      u.state,
		StartLevel: u.startLevel,
	}
}

func (f *Framework) StartLevel() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.startLevel
}

// SetUnitStartLevel moves a unit to another start level. An active unit above the
// framework level is stopped; an autostart unit that falls within it is started.
func (f *Framework) SetUnitStartLevel(ctx context.Context, handle domain.UnitHandle, level int) error {
	if level < 1 {
		return errors.NewValidationError(fmt.Sprintf("start level must be positive, got %d", level), nil)
	}
	if handle == domain.SystemUnitHandle {
		return errors.NewValidationError("system unit start level cannot be changed", nil)
	}
	u, err := f.unit(handle)
	if err != nil {
		return err
	}

	u.mutex.Lock()
	previous := u.startLevel
	u.startLevel = level
	u.mutex.Unlock()

	f.logger.Infof("Unit start level changed, handle: %d, level: %d->%d", handle, previous, level)

	frameworkLevel := f.StartLevel()
	state := u.getState()
	switch {
	case level > frameworkLevel && state == domain.UnitStateActive:
		return f.Stop(ctx, handle)
	case level <= frameworkLevel && u.manifest.Autostart && state == domain.UnitStateResolved:
		f.startAsync(handle, "start level")
	}
	return nil
}

func (f *Framework) UnitStartLevel(handle domain.UnitHandle) (int, error) {
	u, err := f.unit(handle)
	if err != nil {
		return 0, err
	}
	return u.getStartLevel(), nil
}

// Shutdown cancels background activations and stops every unit, newest first.
func (f *Framework) Shutdown(ctx context.Context) error {
	f.cancel()
	f.wg.Wait()

	units := f.Units()
	collection := errors.NewErrorCollection()
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Handle == domain.SystemUnitHandle {
			continue
		}
		collection.Add(f.Stop(ctx, units[i].Handle))
	}
	f.logger.Infof("Framework shut down, units: %d, errors: %d", len(units)-1, len(collection.Errors))
	return collection.ToError()
}
