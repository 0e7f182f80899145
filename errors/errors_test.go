package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection lost", ErrConnectionLost, true},
		{"not connected", ErrNotConnected, true},
		{"request timeout", ErrTimeout, true},
		{"no responders", ErrNoReply, true},
		{"stale frame", ErrStaleFrame, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"bad subject", ErrBadSubject, false},
		{"pool invariant", ErrPoolInvariant, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"pool invariant", ErrPoolInvariant, true},
		{"authorization", ErrAuthorization, true},
		{"reconnect exhausted", ErrReconnectFailed, true},
		{"connection lost", ErrConnectionLost, false},
		{"bad subject", ErrBadSubject, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"bad subject", ErrBadSubject, true},
		{"bad payload", ErrBadPayload, true},
		{"bad reply", ErrBadReply, true},
		{"connection lost", ErrConnectionLost, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"pool invariant is fatal", ErrPoolInvariant, ErrorFatal},
		{"bad subject is invalid", ErrBadSubject, ErrorInvalid},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"unknown defaults to transient", fmt.Errorf("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestClassifyServerError(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected ErrorClass
	}{
		{"authorization violation", "Authorization Violation", ErrorFatal},
		{"authentication timeout", "Authentication Timeout", ErrorFatal},
		{"stale connection", "Stale Connection", ErrorFatal},
		{"max payload", "Maximum Payload Violation", ErrorFatal},
		{"invalid protocol", "Invalid Client Protocol", ErrorFatal},
		{"max connections", "Maximum Connections Exceeded", ErrorFatal},
		{"permissions warning", "Permissions Violation for Subscription to \"foo\"", ErrorTransient},
		{"unknown text", "Slow Consumer Detected", ErrorTransient},
		{"empty", "", ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ClassifyServerError(test.text)
			if !errors.Is(err, ErrServerError) {
				t.Errorf("expected ErrServerError in chain for %q", test.text)
			}
			if result := Classify(err); result != test.expected {
				t.Errorf("expected %v, got %v for %q", test.expected, result, test.text)
			}
			if test.text != "" && err.Error() != test.text {
				t.Errorf("expected message %q, got %q", test.text, err.Error())
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	err := Wrap(base, "Conn", "Publish", "enqueue command")
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if !strings.Contains(err.Error(), "Conn.Publish: enqueue command failed") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	if Wrap(nil, "Conn", "Publish", "enqueue command") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		wrap     func(error, string, string, string) error
		expected ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"fatal", WrapFatal, ErrorFatal},
		{"invalid", WrapInvalid, ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Parser", "Feed", "parse frame")
			if err == nil {
				t.Fatal("expected error")
			}

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected ClassifiedError")
			}
			if ce.Class != test.expected {
				t.Errorf("expected class %v, got %v", test.expected, ce.Class)
			}
			if !errors.Is(err, base) {
				t.Error("classified error should unwrap to base")
			}

			if test.wrap(nil, "Parser", "Feed", "parse frame") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}
