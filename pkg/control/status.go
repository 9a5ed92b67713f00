package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-control/pkg/errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo details produced by this package
const ErrorDomain = "hsu.control"

const (
	metaMessage       = "message"
	metaCause         = "cause"
	metaTargetType    = "target_type"
	metaTargetMessage = "target_message"
	metaTargetState   = "target_state"
	metaTargetDomain  = "target_domain"
	metaContextPrefix = "ctx."
)

// Peer selects how transport-level failures without details are classified
type Peer int

const (
	// PeerEndpoint is a resolved reference to a control endpoint; losing it makes the reference stale
	PeerEndpoint Peer = iota
	// PeerRegistry is the naming service; its failures never make a reference stale
	PeerRegistry
)

// RemoteError is a non-domain failure raised by a remote service method
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

var codeByType = map[errors.ErrorType]codes.Code{
	errors.ErrorTypeValidation:            codes.InvalidArgument,
	errors.ErrorTypeNotFound:              codes.NotFound,
	errors.ErrorTypeConflict:              codes.AlreadyExists,
	errors.ErrorTypeIO:                    codes.Internal,
	errors.ErrorTypeNetwork:               codes.Unavailable,
	errors.ErrorTypeInternal:              codes.Internal,
	errors.ErrorTypeCancelled:             codes.Canceled,
	errors.ErrorTypeDeployment:            codes.FailedPrecondition,
	errors.ErrorTypeActivation:            codes.FailedPrecondition,
	errors.ErrorTypeCapabilityUnavailable: codes.NotFound,
	errors.ErrorTypeNoSuchService:         codes.NotFound,
	errors.ErrorTypeInvocationTarget:      codes.Aborted,
	errors.ErrorTypeTimeout:               codes.DeadlineExceeded,
	errors.ErrorTypeEndpointUnavailable:   codes.Unavailable,
	errors.ErrorTypeStaleReference:        codes.NotFound,
}

// ToStatusError encodes an error for the wire. Domain errors keep their type,
// message and context in an ErrorInfo detail.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) {
		if _, ok := status.FromError(err); ok {
			return err
		}
		switch {
		case stderrors.Is(err, context.Canceled):
			domainErr = errors.NewCancelledError("operation cancelled", err)
		case stderrors.Is(err, context.DeadlineExceeded):
			domainErr = errors.NewTimeoutError("operation deadline exceeded", err)
		default:
			domainErr = errors.NewInternalError("unexpected failure", err)
		}
	}

	code, ok := codeByType[domainErr.Type]
	if !ok {
		code = codes.Unknown
	}
	st := status.New(code, domainErr.Error())

	info := &errdetails.ErrorInfo{
		Reason:   string(domainErr.Type),
		Domain:   ErrorDomain,
		Metadata: map[string]string{metaMessage: domainErr.Message},
	}
	for key, value := range domainErr.Context {
		info.Metadata[metaContextPrefix+key] = fmt.Sprint(value)
	}
	if domainErr.Cause != nil {
		info.Metadata[metaCause] = domainErr.Cause.Error()
	}
	if domainErr.Type == errors.ErrorTypeInvocationTarget && domainErr.Cause != nil {
		encodeTarget(info.Metadata, domainErr.Cause)
	}

	detailed, detailErr := st.WithDetails(info)
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func encodeTarget(metadata map[string]string, target error) {
	var targetErr *errors.DomainError
	if stderrors.As(target, &targetErr) {
		metadata[metaTargetDomain] = "true"
		metadata[metaTargetType] = string(targetErr.Type)
		metadata[metaTargetMessage] = targetErr.Message
		if state, ok := errors.StateOf(targetErr); ok {
			metadata[metaTargetState] = strconv.Itoa(state)
		}
		return
	}
	var remoteErr *RemoteError
	if stderrors.As(target, &remoteErr) {
		metadata[metaTargetType] = remoteErr.Type
		metadata[metaTargetMessage] = remoteErr.Message
		return
	}
	metadata[metaTargetType] = fmt.Sprintf("%T", target)
	metadata[metaTargetMessage] = target.Error()
}

// FromStatusError decodes a failure returned by a gRPC call back into a DomainError
func FromStatusError(err error, peer Peer) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("transport failure", err)
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return decodeErrorInfo(info)
		}
	}

	switch st.Code() {
	case codes.Unavailable:
		if peer == PeerEndpoint {
			return errors.NewStaleReferenceError("endpoint unreachable", err)
		}
		return errors.NewNetworkError("registry unreachable", err)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("call deadline exceeded", err)
	case codes.Canceled:
		return errors.NewCancelledError("call cancelled", err)
	default:
		return errors.NewNetworkError("remote call failed", err)
	}
}

func decodeErrorInfo(info *errdetails.ErrorInfo) error {
	metadata := info.GetMetadata()
	errorType := errors.ErrorType(info.GetReason())

	var cause error
	if errorType == errors.ErrorTypeInvocationTarget && metadata[metaTargetType] != "" {
		cause = decodeTarget(metadata)
	} else if message, ok := metadata[metaCause]; ok {
		cause = &RemoteError{Type: "remote", Message: message}
	}

	domainErr := errors.NewDomainError(errorType, metadata[metaMessage], cause)
	for key, value := range metadata {
		if !strings.HasPrefix(key, metaContextPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, metaContextPrefix)
		domainErr.WithContext(name, decodeContextValue(name, value))
	}
	return domainErr
}

func decodeTarget(metadata map[string]string) error {
	if metadata[metaTargetDomain] != "true" {
		return &RemoteError{Type: metadata[metaTargetType], Message: metadata[metaTargetMessage]}
	}
	target := errors.NewDomainError(errors.ErrorType(metadata[metaTargetType]), metadata[metaTargetMessage], nil)
	if state, err := strconv.Atoi(metadata[metaTargetState]); err == nil {
		target.WithContext(errors.ContextKeyState, state)
	}
	return target
}

func decodeContextValue(key, value string) interface{} {
	switch key {
	case errors.ContextKeyState, errors.ContextKeyAttempts:
		if number, err := strconv.Atoi(value); err == nil {
			return number
		}
	case errors.ContextKeyHandle:
		if number, err := strconv.ParseInt(value, 10, 64); err == nil {
			return number
		}
	}
	return value
}
