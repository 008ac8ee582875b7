package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/consult/internal/domain"
)

// statusOf maps call errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrConstraintsUnsatisfiable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTransportFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrControllerDisposed):
		return http.StatusGone
	case errors.Is(err, domain.ErrSessionAlreadyActive),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrCancelled):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
