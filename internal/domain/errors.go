package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated means no usable credential remains; the user must log in again
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound is returned for unknown sessions or messages
	ErrNotFound = errors.New("not found")
	// ErrSuperseded is returned when a newer open or teardown replaced the operation
	ErrSuperseded = errors.New("superseded by a newer request")
)

// AuthError is an expired or invalid credential that a refresh could not recover
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication required"
	}
	return fmt.Sprintf("authentication required: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return ErrUnauthenticated }

// TransportError is a non-2xx response received before any streaming began
type TransportError struct {
	Status int
	Body   string
	// Detail is the backend's error text, when the body carried one
	Detail string
}

func (e *TransportError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// Is matches ErrNotFound for 404 responses
func (e *TransportError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// Message returns the text to show the user
func (e *TransportError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

// ContentTypeError is a 2xx response that is not an event stream
type ContentTypeError struct {
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("expected text/event-stream response but received: %q", e.ContentType)
}

// StreamParseError is a single malformed frame. It never aborts a turn.
type StreamParseError struct {
	Frame string
	Err   error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("failed to parse stream frame: %v", e.Err)
}

func (e *StreamParseError) Unwrap() error { return e.Err }

// StreamTimeoutError is raised by the client-side inactivity watchdog
type StreamTimeoutError struct {
	Window time.Duration
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("no stream event received for %s", e.Window)
}

// ServerStreamError is an explicit error frame sent by the backend
type ServerStreamError struct {
	Message string
}

func (e *ServerStreamError) Error() string {
	return "server stream error: " + e.Message
}

// ValidationError is a failed precondition of a controller call
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
