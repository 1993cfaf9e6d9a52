package protocol

import "net/http"

// Error codes carried in every error response.
const (
	ErrValidation        = "VALIDATION_ERROR"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrRateLimited       = "RATE_LIMITED"
	ErrMissingCredential = "MISSING_CREDENTIAL"
	ErrMissingWorkflow   = "MISSING_WORKFLOW"
	ErrUpstream          = "UPSTREAM_ERROR"
	ErrStore             = "STORE_ERROR"
)

// StatusFor maps an error code to its HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	switch code {
	case ErrValidation, ErrMissingWorkflow:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a client-facing error. Message must never carry secrets or internals.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Status is the HTTP status for e.
func (e *Error) Status() int { return StatusFor(e.Code) }

// Shape converts e to its wire form.
func (e *Error) Shape() *ErrorShape {
	return &ErrorShape{Code: e.Code, Message: e.Message}
}

// NewError creates a client-facing error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}
