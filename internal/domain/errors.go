package domain

import (
	"errors"
	"fmt"
)

// Media access errors. Terminal for the session that hit them.
var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceUnavailable        = errors.New("device unavailable")
	ErrConstraintsUnsatisfiable = errors.New("constraints unsatisfiable")
)

// Negotiation errors. Terminal for the session that hit them.
var (
	ErrTimeout         = errors.New("negotiation timed out")
	ErrTransportFailed = errors.New("transport failed")
	ErrInvalidState    = errors.New("invalid negotiation state")
)

// Control errors. Local and non-fatal; session state is left unchanged.
var (
	ErrNoActiveSession      = errors.New("no active session")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrSessionAlreadyActive = errors.New("session already active")
)

var (
	// ErrCancelled is returned to a startCall that was overtaken by endCall.
	ErrCancelled = errors.New("call cancelled")
	// ErrControllerDisposed is returned once the owning screen has gone away.
	ErrControllerDisposed = errors.New("controller disposed")
)

// MediaAccessError carries one of the media access kinds and the driver error behind it.
type MediaAccessError struct {
	Kind error
	Err  error
}

func NewMediaAccessError(kind, err error) *MediaAccessError {
	return &MediaAccessError{Kind: kind, Err: err}
}

func (e *MediaAccessError) Error() string {
	if e.Err == nil {
		return "media access: " + e.Kind.Error()
	}
	return fmt.Sprintf("media access: %v: %v", e.Kind, e.Err)
}

func (e *MediaAccessError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NegotiationError carries one of the negotiation kinds plus the adapter operation that failed.
type NegotiationError struct {
	Op   string
	Kind error
	Err  error
}

func NewNegotiationError(op string, kind, err error) *NegotiationError {
	return &NegotiationError{Op: op, Kind: kind, Err: err}
}

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("negotiation %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("negotiation %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *NegotiationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsControlError reports whether err is local misuse that leaves the session untouched.
func IsControlError(err error) bool {
	return errors.Is(err, ErrNoActiveSession) ||
		errors.Is(err, ErrUnsupportedOperation) ||
		errors.Is(err, ErrSessionAlreadyActive)
}

// ReasonCode is a stable short label for an end reason, used in metrics and the UI.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return "hangup"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		return "constraints_unsatisfiable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransportFailed):
		return "transport_failed"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	}
	return "error"
}
