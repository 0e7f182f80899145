// Package errors provides standardized error handling for streamwire.
// It includes error classification, standard error variables, and helper
// functions for consistent error wrapping across the client.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors; the connection recovers
	// from them by reconnecting or retrying
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that terminate the connection
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
	// Connection lifecycle errors
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectionLost   = errors.New("connection lost")
	ErrReconnectFailed  = errors.New("reconnect attempts exhausted")

	// Wire protocol errors
	ErrProtocol      = errors.New("protocol violation")
	ErrServerError   = errors.New("server reported error")
	ErrStaleFrame    = errors.New("frame for unknown subscription")
	ErrAuthorization = errors.New("authorization violation")
	ErrMaxPayload    = errors.New("maximum payload exceeded")

	// Validation errors
	ErrBadSubject = errors.New("invalid subject")
	ErrBadPayload = errors.New("invalid payload")
	ErrBadReply   = errors.New("invalid reply subject")

	// Request/reply errors
	ErrTimeout = errors.New("request timed out")
	ErrNoReply = errors.New("no responders available")

	// Resource errors
	ErrBufferFull    = errors.New("reconnect buffer full")
	ErrPoolInvariant = errors.New("command pool invariant violated")
	ErrQueueFull     = errors.New("dispatch queue full")
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

// IsTransient checks if an error is transient; transient failures trigger
// reconnection rather than connection teardown
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNoReply) ||
		errors.Is(err, ErrStaleFrame) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	return false
}

// IsFatal checks if an error is fatal and should terminate the connection
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrPoolInvariant) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrReconnectFailed)
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

	return errors.Is(err, ErrBadSubject) ||
		errors.Is(err, ErrBadPayload) ||
		errors.Is(err, ErrBadReply)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors so the connection retries
	return ErrorTransient
}

// ClassifyServerError turns the text of a server -ERR frame into a
// classified error wrapping ErrServerError.
//
// Authorization and authentication violations, stale connections and
// payload-size violations mean the server will terminate or has terminated
// the connection: these are fatal and drive the reconnect path. Anything
// else (for example a permissions warning on a single subject) is surfaced
// as an event and parsing continues.
func ClassifyServerError(text string) error {
	t := strings.ToLower(text)

	fatalPatterns := []string{
		"authorization violation",
		"authentication",
		"user authentication expired",
		"stale connection",
		"maximum payload",
		"invalid client protocol",
		"maximum connections exceeded",
	}

	class := ErrorTransient
	for _, pattern := range fatalPatterns {
		if strings.Contains(t, pattern) {
			class = ErrorFatal
			break
		}
	}

	return newClassified(class, ErrServerError, "server", "frame", text)
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
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

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
