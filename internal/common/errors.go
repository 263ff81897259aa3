package common

import (
	"errors"
	"net/http"
)

// Error taxonomy. Wrap with fmt.Errorf("%w: detail", ErrX) so callers can
// classify with errors.Is while keeping a readable message.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("forbidden")
	ErrEditWindowExpired = errors.New("message is too old to edit")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStore             = errors.New("store unavailable")

	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Error codes shared by the REST API and realtime error events
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodePolicy         = "POLICY_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeTransientStore = "TRANSIENT_STORE_ERROR"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
)

// ResolveError maps an error to an HTTP status, a stable code and a
// client-safe message.
func ResolveError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeAuthorization, err.Error()
	case errors.Is(err, ErrEditWindowExpired):
		return http.StatusUnprocessableEntity, CodePolicy, err.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeAuthentication, err.Error()
	case errors.Is(err, ErrStore):
		return http.StatusServiceUnavailable, CodeTransientStore, "temporarily unable to reach message store"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal server error"
	}
}
