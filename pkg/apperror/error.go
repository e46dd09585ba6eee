package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error represents an application error with HTTP status and a stable error code.
// The codes form the error taxonomy shared by the HTTP API, the MCP tool layer
// and the sync protocol.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches errors by code so sentinel comparisons survive With* copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether a client may retry the failed operation.
// Only transient storage faults and rate limiting are retryable.
func (e *Error) Retryable() bool {
	return e.Code == "store_unavailable" || e.Code == "too_many_requests"
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   err,
		Details:    e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    message,
		Internal:   e.Internal,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		HTTPStatus: e.HTTPStatus,
		Code:       e.Code,
		Message:    e.Message,
		Internal:   e.Internal,
		Details:    details,
	}
}

// ToEchoError converts the app error to an echo.HTTPError for proper handling
func (e *Error) ToEchoError() *echo.HTTPError {
	errBody := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		errBody["details"] = e.Details
	}
	return echo.NewHTTPError(e.HTTPStatus, map[string]any{
		"error": errBody,
	})
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Error taxonomy. Codes are stable across interfaces; callers match on Code,
// never on Message.
var (
	// Malformed input or schema violation. Not retried.
	ErrInvalidArgument = New(http.StatusBadRequest, "invalid_argument", "Invalid request")

	// Entity, relationship or token unknown.
	ErrNotFound = New(http.StatusNotFound, "not_found", "Resource not found")

	// Role lacks the capability for the requested action.
	ErrPermissionDenied = New(http.StatusForbidden, "permission_denied", "Permission denied")

	// Write invariant violations.
	ErrParentUnknown = New(http.StatusBadRequest, "parent_unknown", "Parent version does not exist")
	ErrTypeImmutable = New(http.StatusBadRequest, "type_immutable", "Entity type cannot change across versions")

	// Rate limit exceeded; Details carry retry_after seconds.
	ErrTooManyRequests = New(http.StatusTooManyRequests, "too_many_requests", "Too many requests")

	// Authentication errors.
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	ErrTokenExpired = New(http.StatusUnauthorized, "token_expired", "Token has expired")
	ErrMissingToken = New(http.StatusUnauthorized, "missing_token", "Missing authorization token")

	// Transient storage fault; retryable with backoff.
	ErrStoreUnavailable = New(http.StatusServiceUnavailable, "store_unavailable", "Storage unavailable")

	// Unknown or unsupported sync protocol version. Hard failure.
	ErrProtocolMismatch = New(http.StatusBadRequest, "protocol_mismatch", "Unsupported protocol version")

	// Duplicate resource. Sync divergence is NOT surfaced through this error:
	// it travels in the response conflicts list.
	ErrConflict = New(http.StatusConflict, "conflict", "Resource already exists")

	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
)

// NewInvalidArgument creates an invalid argument error with a custom message
func NewInvalidArgument(message string) *Error {
	return ErrInvalidArgument.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewStoreUnavailable wraps a transient storage fault
func NewStoreUnavailable(err error) *Error {
	return ErrStoreUnavailable.WithInternal(err)
}

// CodeOf extracts the stable code from an error chain; unclassified errors
// report internal_error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}
