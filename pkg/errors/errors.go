package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Application-level failures reported by the control endpoint. Never retried.
	ErrorTypeDeployment            ErrorType = "deployment"
	ErrorTypeActivation            ErrorType = "activation"
	ErrorTypeCapabilityUnavailable ErrorType = "capability_unavailable"
	ErrorTypeNoSuchService         ErrorType = "no_such_service"
	ErrorTypeInvocationTarget      ErrorType = "invocation_target"

	// Liveness failures.
	ErrorTypeTimeout             ErrorType = "timeout"
	ErrorTypeEndpointUnavailable ErrorType = "endpoint_unavailable"

	// The only retryable kind: the resolved remote reference no longer points at a live endpoint.
	ErrorTypeStaleReference ErrorType = "stale_reference"
)

// Context keys shared by producers and consumers of DomainError.Context
const (
	ContextKeyHandle     = "handle"
	ContextKeyState      = "state"
	ContextKeyCapability = "capability"
	ContextKeyFilter     = "filter"
	ContextKeyMethod     = "method"
	ContextKeyName       = "name"
	ContextKeyAttempts   = "attempts"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Endpoint failures

func NewDeploymentError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDeployment, message, cause)
}

// NewActivationError reports a unit that did not reach the expected lifecycle state.
// state is the state observed after the transition attempt.
func NewActivationError(message string, state int, cause error) *DomainError {
	return NewDomainError(ErrorTypeActivation, message, cause).WithContext(ContextKeyState, state)
}

func NewCapabilityUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCapabilityUnavailable, message, cause)
}

func NewNoSuchServiceError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNoSuchService, message, cause)
}

// NewInvocationTargetError wraps the error returned by a reflectively invoked service method.
func NewInvocationTargetError(method string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInvocationTarget, "service method failed", cause).WithContext(ContextKeyMethod, method)
}

// Liveness failures

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

// NewStateTimeoutError is a timeout carrying the last observed unit state.
func NewStateTimeoutError(message string, lastState int) *DomainError {
	return NewTimeoutError(message, nil).WithContext(ContextKeyState, lastState)
}

func NewEndpointUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeEndpointUnavailable, message, cause)
}

func NewStaleReferenceError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStaleReference, message, cause)
}

// Error checking helpers

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// hasType walks the cause chain, not just the outermost DomainError. The walk stops
// at an invocation target: what a service method returned is not a transport condition.
func hasType(err error, errorType ErrorType) bool {
	for err != nil {
		if domainErr, ok := err.(*DomainError); ok {
			if domainErr.Type == errorType {
				return true
			}
			if domainErr.Type == ErrorTypeInvocationTarget {
				return false
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func IsDeploymentError(err error) bool {
	return isType(err, ErrorTypeDeployment)
}

func IsActivationError(err error) bool {
	return isType(err, ErrorTypeActivation)
}

func IsCapabilityUnavailableError(err error) bool {
	return isType(err, ErrorTypeCapabilityUnavailable)
}

func IsNoSuchServiceError(err error) bool {
	return isType(err, ErrorTypeNoSuchService)
}

func IsInvocationTargetError(err error) bool {
	return isType(err, ErrorTypeInvocationTarget)
}

func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func IsEndpointUnavailableError(err error) bool {
	return isType(err, ErrorTypeEndpointUnavailable)
}

// IsStaleReferenceError reports whether any error in the cause chain is a stale reference.
func IsStaleReferenceError(err error) bool {
	return hasType(err, ErrorTypeStaleReference)
}

// TypeOf returns the type of the outermost DomainError in the chain.
func TypeOf(err error) (ErrorType, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type, true
	}
	return "", false
}

// StateOf returns the unit state carried by an activation or timeout failure.
func StateOf(err error) (int, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return 0, false
	}
	state, ok := domainErr.Context[ContextKeyState].(int)
	return state, ok
}

// UnwrapInvocationTarget strips one invocation-target layer and returns the target's own failure.
// Any other error is returned unchanged.
func UnwrapInvocationTarget(err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Type == ErrorTypeInvocationTarget && domainErr.Cause != nil {
		return domainErr.Cause
	}
	return err
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
