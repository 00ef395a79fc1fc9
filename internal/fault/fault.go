// Package fault classifies the failures of the read-aloud engine.
//
// Every component reports failures as *Error values carrying a Kind. Callers
// decide what to do from the kind alone: narration stops on a transient
// network failure, a live session drops a malformed segment and keeps going,
// and a user cancellation is not an error at all.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

const (
	// Unknown is any failure that was not classified.
	Unknown Kind = iota
	// TransientNetwork is a failed or empty remote request.
	TransientNetwork
	// UserCancellation is a stop, seek or back action.
	UserCancellation
	// ResourceAcquisition is a denied or missing microphone or audio device.
	ResourceAcquisition
	// MalformedPayload is audio that could not be decoded.
	MalformedPayload
	// InvalidInput is a bad argument from the caller.
	InvalidInput
	// Storage is a failed read or write of persisted state.
	Storage
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient-network"
	case UserCancellation:
		return "user-cancellation"
	case ResourceAcquisition:
		return "resource-acquisition"
	case MalformedPayload:
		return "malformed-payload"
	case InvalidInput:
		return "invalid-input"
	case Storage:
		return "storage"
	default:
		return "unknown"
	}
}

// Common sentinel errors.
var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNoAudio       = errors.New("response contained no audio")
	ErrClosed        = errors.New("resource is closed")
	ErrOutOfRange    = errors.New("index out of range")
	ErrDeviceDenied  = errors.New("audio device unavailable")
)

// Error provides detailed error information.
type Error struct {
	Kind      Kind
	Component string // engine part that failed (synth, live, scheduler, ...)
	Op        string // action being performed
	Err       error
	Context   map[string]any
}

// New creates a new classified error.
func New(kind Kind, component, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Op:        op,
		Err:       err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Component != "" {
		msg = e.Component + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether the caller could try again later. Nothing in the
// engine retries on its own; this is for the user-facing notice.
func (e *Error) Retryable() bool {
	return e.Kind == TransientNetwork
}

// Fatal reports whether the failure should end the program. Engine failures
// always degrade to a stopped or idle state, only storage can be fatal.
func (e *Error) Fatal() bool {
	return e.Kind == Storage
}

// KindOf classifies any error. A context cancellation is a user cancellation.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return UserCancellation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientNetwork
	}
	return Unknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Network wraps err as a transient network failure.
func Network(component, op string, err error) *Error {
	return New(TransientNetwork, component, op, err)
}

// Malformed wraps err as a malformed payload.
func Malformed(component, op string, err error) *Error {
	return New(MalformedPayload, component, op, err)
}

// Invalid creates an invalid input error.
func Invalid(component, op string, format string, args ...any) *Error {
	return New(InvalidInput, component, op, fmt.Errorf(format, args...))
}
