// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeAuthentication      = "AUTHENTICATION_FAILED"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	CodeMalformedEvent      = "MALFORMED_EVENT"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeUpstream    = "UPSTREAM_UNREACHABLE"
	CodeUpstreamAPI = "UPSTREAM_API_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest, CodeUnsupportedPlatform, CodeMalformedEvent:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout, CodeUpstream:
		return http.StatusGatewayTimeout
	case CodeUpstreamAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// AlreadyExistsError creates an already exists error.
func AlreadyExistsError(resource string) *AppError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// AuthenticationError creates an authentication failure for an upstream
// rejection, carrying the HTTP status the vendor returned.
func AuthenticationError(status int, statusText string) *AppError {
	return New(CodeAuthentication, fmt.Sprintf("Authentication failed (%d): %s", status, statusText)).
		WithDetail("http_status", fmt.Sprintf("%d", status))
}

// AccessDeniedError creates an access denied error.
func AccessDeniedError(resource string) *AppError {
	message := "access denied"
	if resource != "" {
		message = fmt.Sprintf("access denied to %s", resource)
	}
	return New(CodeAccessDenied, message)
}

// UnsupportedPlatformError creates an error for a platform variant the
// client factory does not know about.
func UnsupportedPlatformError(platform string) *AppError {
	return New(CodeUnsupportedPlatform, fmt.Sprintf("unsupported platform: %s", platform)).
		WithDetail("platform", platform)
}

// MalformedEventError creates an error for an event payload that could not
// be parsed or dispatched.
func MalformedEventError(message string, err error) *AppError {
	return Wrap(CodeMalformedEvent, message, err)
}

// UpstreamError creates an error for a non-2xx vendor API response.
func UpstreamError(status int, statusText string) *AppError {
	return New(CodeUpstreamAPI, fmt.Sprintf("upstream returned %d: %s", status, statusText)).
		WithDetail("http_status", fmt.Sprintf("%d", status))
}

// UnreachableError creates an error for a transport-level upstream failure
// (timeout, DNS, connection refused).
func UnreachableError(message string, err error) *AppError {
	return Wrap(CodeUpstream, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsAuthentication checks if error is an authentication failure.
func IsAuthentication(err error) bool {
	return hasCode(err, CodeAuthentication)
}

// IsAccessDenied checks if error is an access denied error.
func IsAccessDenied(err error) bool {
	return hasCode(err, CodeAccessDenied)
}

// IsUnreachable checks if error is an upstream transport failure.
func IsUnreachable(err error) bool {
	return hasCode(err, CodeUpstream) || hasCode(err, CodeTimeout)
}

// IsUnsupportedPlatform checks if error is an unsupported platform error.
func IsUnsupportedPlatform(err error) bool {
	return hasCode(err, CodeUnsupportedPlatform)
}

// IsMalformedEvent checks if error is a malformed event error.
func IsMalformedEvent(err error) bool {
	return hasCode(err, CodeMalformedEvent)
}

// Message returns the human-readable text of an error without the error
// code prefix that AppError.Error() carries.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*AppError); ok {
		if appErr.Err != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
		}
		return appErr.Message
	}
	return err.Error()
}

func hasCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
// This is the low-level function used by WriteError.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteErrorWithStatus writes an AppError with an explicit HTTP status,
// overriding the status the error code maps to.
func WriteErrorWithStatus(w http.ResponseWriter, status int, appErr *AppError) {
	WriteJSON(w, status, ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internal details.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*AppError); ok {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	// For non-AppError errors, sanitize the message
	// Don't leak internal error details to clients
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
