package errors

import (
	"errors"
	"fmt"
)

// Error types for better error classification and handling

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeFormat: malformed configuration text (unbalanced braces etc.)
	ErrorTypeFormat ErrorType = "format"

	// ErrorTypeValidation: a rendered or loaded configuration was rejected,
	// either by our own checks or by the proxy binary's validate subcommand
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeLaunch: the proxy process failed to spawn or exited immediately
	ErrorTypeLaunch ErrorType = "launch"

	// ErrorTypePermission: privilege problem, most notably binding a
	// privileged port without elevation
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeBindingUnverified: process alive but its port binding could not
	// be confirmed; non-fatal
	ErrorTypeBindingUnverified ErrorType = "binding_unverified"

	// ErrorTypeStopTimeout: process survived both graceful and forced
	// termination within the bounded wait
	ErrorTypeStopTimeout ErrorType = "stop_timeout"

	// ErrorTypeConflict: target port held by an unrelated process, or a
	// competing supervision mechanism already manages the proxy
	ErrorTypeConflict ErrorType = "conflict"

	ErrorTypeProcess   ErrorType = "process"
	ErrorTypeDiscovery ErrorType = "discovery"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeInternal  ErrorType = "internal"
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

// Configuration errors
func NewFormatError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeFormat, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

// Supervision errors
func NewLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunch, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewBindingUnverifiedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeBindingUnverified, message, cause)
}

func NewStopTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStopTimeout, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewDiscoveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDiscovery, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
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

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == t
}

// Error checking helpers
func IsFormatError(err error) bool { return isType(err, ErrorTypeFormat) }

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsLaunchError(err error) bool { return isType(err, ErrorTypeLaunch) }

func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }

func IsBindingUnverifiedError(err error) bool { return isType(err, ErrorTypeBindingUnverified) }

func IsStopTimeoutError(err error) bool { return isType(err, ErrorTypeStopTimeout) }

func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

func IsProcessError(err error) bool { return isType(err, ErrorTypeProcess) }

func IsDiscoveryError(err error) bool { return isType(err, ErrorTypeDiscovery) }

func IsTimeoutError(err error) bool { return isType(err, ErrorTypeTimeout) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

func IsIOError(err error) bool { return isType(err, ErrorTypeIO) }

func IsNetworkError(err error) bool { return isType(err, ErrorTypeNetwork) }

func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }
