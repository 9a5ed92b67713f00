package endpoint

import (
	"context"
	"fmt"
	"reflect"

	"github.com/core-tools/hsu-control/pkg/errors"

	"github.com/go-viper/mapstructure/v2"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// invokeMethod calls method on service with args decoded into the method's parameter types.
// A leading context.Context parameter is supplied from ctx. An error returned by the
// method is reported as an invocation target failure.
func invokeMethod(ctx context.Context, service interface{}, name string, paramTypes []string, args []interface{}) (result interface{}, err error) {
	method := reflect.ValueOf(service).MethodByName(name)
	if !method.IsValid() {
		return nil, errors.NewValidationError("service has no such method", nil).
			WithContext(errors.ContextKeyMethod, name).
			WithContext("service_type", fmt.Sprintf("%T", service))
	}

	methodType := method.Type()
	if methodType.IsVariadic() {
		return nil, errors.NewValidationError("variadic methods cannot be invoked remotely", nil).
			WithContext(errors.ContextKeyMethod, name)
	}
	if methodType.NumOut() > 2 {
		return nil, errors.NewValidationError("methods returning more than a value and an error cannot be invoked remotely", nil).
			WithContext(errors.ContextKeyMethod, name)
	}

	offset := 0
	if methodType.NumIn() > 0 && methodType.In(0) == contextType {
		offset = 1
	}
	arity := methodType.NumIn() - offset
	if len(args) != arity {
		return nil, errors.NewValidationError(fmt.Sprintf("method expects %d arguments, got %d", arity, len(args)), nil).
			WithContext(errors.ContextKeyMethod, name)
	}
	if len(paramTypes) > 0 {
		if err := checkParamTypes(methodType, offset, paramTypes); err != nil {
			return nil, errors.NewValidationError("parameter types do not match", err).
				WithContext(errors.ContextKeyMethod, name)
		}
	}

	in := make([]reflect.Value, methodType.NumIn())
	if offset == 1 {
		in[0] = reflect.ValueOf(ctx)
	}
	for i, arg := range args {
		value, err := decodeArgument(arg, methodType.In(i+offset))
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("cannot decode argument %d", i), err).
				WithContext(errors.ContextKeyMethod, name)
		}
		in[i+offset] = value
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.NewInvocationTargetError(name, fmt.Errorf("panic: %v", r))
		}
	}()

	return collectResults(name, method.Call(in))
}

func checkParamTypes(methodType reflect.Type, offset int, paramTypes []string) error {
	if len(paramTypes) != methodType.NumIn()-offset {
		return fmt.Errorf("expected %d parameter types, got %d", methodType.NumIn()-offset, len(paramTypes))
	}
	for i, want := range paramTypes {
		actual := methodType.In(i + offset)
		if want != actual.String() && want != actual.Name() {
			return fmt.Errorf("parameter %d is %s, not %s", i, actual, want)
		}
	}
	return nil
}

func decodeArgument(arg interface{}, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	if value := reflect.ValueOf(arg); value.Type().AssignableTo(target) {
		return value, nil
	}

	decoded := reflect.New(target)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           decoded.Interface(),
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := decoder.Decode(arg); err != nil {
		return reflect.Value{}, err
	}
	return decoded.Elem(), nil
}

func collectResults(name string, out []reflect.Value) (interface{}, error) {
	var result interface{}
	for _, value := range out {
		if value.Type() == errorType {
			if !value.IsNil() {
				return nil, errors.NewInvocationTargetError(name, value.Interface().(error))
			}
			continue
		}
		result = value.Interface()
	}
	return result, nil
}
