package types

import (
	"errors"
	"net/http"
)

// ARCHITECTURAL DISCOVERY: One taxonomy shared by every layer. Components wrap
// these with %w so callers classify failures with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrNotStarted          = errors.New("classroom has not started yet")
	ErrAlreadyEnded        = errors.New("classroom already ended")
	ErrRestricted          = errors.New("classroom is restricted")
	ErrInvalidBookingState = errors.New("invalid booking state")
	ErrSlotExhausted       = errors.New("booking slots exhausted")
	ErrSessionFull         = errors.New("session is full")
	ErrInternal            = errors.New("internal error")
)

// Validation errors for inbound payloads.
var (
	ErrInvalidUserID  = errors.New("user ID must be 1-128 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidID      = errors.New("identifier must be 1-128 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEvent   = errors.New("invalid event type")
	ErrInvalidScore   = errors.New("score must be a finite number")
	ErrMissingSection = errors.New("section id is required")
)

// Reason returns the short client-facing reason for err. Internal failures never
// leak their underlying cause.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInternal) {
		return ErrInternal.Error()
	}
	return err.Error()
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionFull), errors.Is(err, ErrSlotExhausted):
		return http.StatusConflict
	case errors.Is(err, ErrRestricted):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
