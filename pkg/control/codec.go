package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/core-tools/hsu-control/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message fields shared by the control and registry services
const (
	FieldLocation   = "location"
	FieldContent    = "content"
	FieldHasContent = "has_content"
	FieldHandle     = "handle"
	FieldLevel      = "level"
	FieldState      = "state"
	FieldTimeout    = "timeout_millis"
	FieldCapability = "capability"
	FieldMethod     = "method"
	FieldParamTypes = "param_types"
	FieldFilter     = "filter"
	FieldArgs       = "args"
	FieldResult     = "result"
	FieldName       = "name"
	FieldAddress    = "address"
	FieldObjectID   = "object_id"
	FieldBindings   = "bindings"
)

// UnaryMethod is the server side of one RPC whose request and response are both structs
type UnaryMethod func(srv interface{}, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

// NewMethodDesc adapts a UnaryMethod to grpc's handler signature
func NewMethodDesc(serviceName, methodName string, method UnaryMethod) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + methodName
	return grpc.MethodDesc{
		MethodName: methodName,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := new(structpb.Struct)
			if err := dec(request); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return method(srv, ctx, request)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return method(srv, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

// FullMethod returns the gRPC method path for a service method
func FullMethod(serviceName, methodName string) string {
	return "/" + serviceName + "/" + methodName
}

// NewMessage builds a struct message from plain Go values.
// Values that structpb cannot represent directly are normalized through JSON.
func NewMessage(fields map[string]interface{}) (*structpb.Struct, error) {
	message := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for key, value := range fields {
		pbValue, err := NewValue(value)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("cannot encode field %s", key), err)
		}
		message.Fields[key] = pbValue
	}
	return message, nil
}

// NewValue converts a Go value to a protobuf Value
func NewValue(value interface{}) (*structpb.Value, error) {
	switch v := value.(type) {
	case []byte:
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(v)), nil
	case []string:
		list := make([]interface{}, len(v))
		for i, s := range v {
			list[i] = s
		}
		return structpb.NewValue(list)
	}
	if pbValue, err := structpb.NewValue(value); err == nil {
		return pbValue, nil
	}
	normalized, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	return structpb.NewValue(normalized)
}

// Normalize turns arbitrary values (structs, typed slices and maps) into the
// JSON-shaped values a protobuf Value can hold.
func Normalize(value interface{}) (interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func GetString(message *structpb.Struct, key string) string {
	if value, ok := message.GetFields()[key]; ok {
		return value.GetStringValue()
	}
	return ""
}

func GetInt64(message *structpb.Struct, key string) (int64, error) {
	value, ok := message.GetFields()[key]
	if !ok {
		return 0, errors.NewValidationError("missing field "+key, nil)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.NewValidationError("field "+key+" is not a number", nil)
	}
	return int64(number.NumberValue), nil
}

func GetBool(message *structpb.Struct, key string) bool {
	if value, ok := message.GetFields()[key]; ok {
		return value.GetBoolValue()
	}
	return false
}

func GetBytes(message *structpb.Struct, key string) ([]byte, error) {
	encoded := GetString(message, key)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewValidationError("field "+key+" is not valid base64", err)
	}
	return data, nil
}

func GetStrings(message *structpb.Struct, key string) []string {
	value, ok := message.GetFields()[key]
	if !ok {
		return nil
	}
	var out []string
	for _, item := range value.GetListValue().GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

// GetList returns a list field as plain Go values
func GetList(message *structpb.Struct, key string) []interface{} {
	value, ok := message.GetFields()[key]
	if !ok {
		return nil
	}
	return value.GetListValue().AsSlice()
}

// GetValue returns a field as a plain Go value, nil when absent
func GetValue(message *structpb.Struct, key string) interface{} {
	value, ok := message.GetFields()[key]
	if !ok {
		return nil
	}
	return value.AsInterface()
}
