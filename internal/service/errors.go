package service

import "errors"

// Service-level errors. Handlers and the websocket gateway map these to HTTP
// status codes and error acknowledgments; anything else is treated as a
// transient persistence failure the client may retry.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("not a participant of this conversation")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid request")
)

// ErrorCode returns the wire code used in websocket error acknowledgments.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	default:
		return "TRANSIENT"
	}
}
