// Package proxy turns calls on a capability into remote calls against a control endpoint.
//
// A ServiceLocator is bound to one capability, selection filter and lookup timeout.
// Typed access is written as a small adapter implementing the capability's Go interface:
//
//	type greeterProxy struct{ locator *proxy.ServiceLocator }
//
//	func (g greeterProxy) Greet(ctx context.Context, name string) (string, error) {
//		return proxy.Call[string](ctx, g.locator, "Greet", name)
//	}
package proxy

import (
	"context"
	"reflect"
	"time"

	"github.com/core-tools/hsu-control/pkg/domain"
	"github.com/core-tools/hsu-control/pkg/errors"

	"github.com/go-viper/mapstructure/v2"
)

// Caller issues remote calls; every ControlClient is one
type Caller interface {
	RemoteCall(ctx context.Context, request domain.RemoteCallRequest) (interface{}, error)
}

type ServiceLocator struct {
	caller     Caller
	capability string
	filter     string
	timeout    time.Duration
}

func New(caller Caller, capability string, filter string, timeout time.Duration) *ServiceLocator {
	return &ServiceLocator{
		caller:     caller,
		capability: capability,
		filter:     filter,
		timeout:    timeout,
	}
}

func (l *ServiceLocator) Capability() string {
	return l.capability
}

func (l *ServiceLocator) Filter() string {
	return l.filter
}

// Invoke makes exactly one remote call. A failure raised by the remote method itself
// is returned as that method's own error.
func (l *ServiceLocator) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return l.InvokeWithTypes(ctx, method, nil, args...)
}

// InvokeWithTypes is Invoke with the expected parameter type names of the method
func (l *ServiceLocator) InvokeWithTypes(ctx context.Context, method string, paramTypes []string, args ...interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	result, err := l.caller.RemoteCall(ctx, domain.RemoteCallRequest{
		Capability: l.capability,
		Method:     method,
		ParamTypes: paramTypes,
		Filter:     l.filter,
		Timeout:    l.timeout,
		Args:       args,
	})
	if err != nil {
		return nil, errors.UnwrapInvocationTarget(err)
	}
	return result, nil
}

// Call invokes method and decodes its result into T
func Call[T any](ctx context.Context, locator *ServiceLocator, method string, args ...interface{}) (T, error) {
	var zero T
	result, err := locator.Invoke(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	return decodeResult[T](method, result)
}

func decodeResult[T any](method string, result interface{}) (T, error) {
	var decoded T
	if result == nil {
		return decoded, nil
	}
	if typed, ok := result.(T); ok {
		return typed, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           &decoded,
	})
	if err != nil {
		return decoded, errors.NewInternalError("failed to create result decoder", err)
	}
	if err := decoder.Decode(result); err != nil {
		return decoded, errors.NewValidationError("cannot decode remote result", err).
			WithContext(errors.ContextKeyMethod, method).
			WithContext("result_type", reflect.TypeOf(result).String())
	}
	return decoded, nil
}
