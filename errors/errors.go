// Package errors provides standardized error handling for Sockress transports.
// It includes error classification, standard error variables for the transport
// failure modes, and helpers for consistent wrapping across the framework.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Is and As re-export the standard helpers so callers never need both this
// package and the standard errors package imported side by side.
var (
	Is = errors.Is
	As = errors.As
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	// (disconnected sockets, timeouts, backpressure).
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, malformed
	// envelopes, or bad configuration.
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop the
	// affected connection or component.
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
	ErrAlreadyStopped = errors.New("server already stopped")
	ErrClientClosed   = errors.New("client permanently closed")

	// Routing and dispatch errors
	ErrRouteNotFound = errors.New("no route matched the request path")
	ErrNoHandlers    = errors.New("route requires at least one handler")

	// Transport errors
	ErrConnectionLost       = errors.New("socket connection lost")
	ErrRequestTimeout       = errors.New("no response envelope arrived in time")
	ErrTransportUnavailable = errors.New("socket transport unavailable")
	ErrUpgradeRejected      = errors.New("upgrade handshake rejected")
	ErrQueueFull            = errors.New("offline request queue full")

	// Protocol and payload errors
	ErrSocketProtocol  = errors.New("malformed or unsupported envelope")
	ErrPayloadTooLarge = errors.New("request body exceeds configured limit")
	ErrInvalidEnvelope = errors.New("invalid envelope format")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and safe to retry over
// another transport (the HTTP-fallback decision on the client rides on this).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrTransportUnavailable) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Fall back to message inspection for errors that crossed the wire
	// and lost their concrete type.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporarily",
		"unavailable",
		"broken pipe",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrSocketProtocol) ||
		errors.Is(err, ErrInvalidEnvelope) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrPayloadTooLarge)
}

// IsFatal checks if an error is fatal for its connection or component
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrClientClosed) ||
		errors.Is(err, ErrUpgradeRejected) ||
		errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	// Default to transient so unknown errors remain retryable.
	return ErrorTransient
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// StatusCode maps an error to the HTTP status code used when the error
// surfaces as a terminal response.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrRouteNotFound):
		return 404
	case errors.Is(err, ErrPayloadTooLarge):
		return 413
	case errors.Is(err, ErrRequestTimeout):
		return 504
	case IsInvalid(err):
		return 400
	default:
		return 500
	}
}
