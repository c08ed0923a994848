package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeAuthentication  ErrorType = "authentication_error"
	ErrorTypePermission      ErrorType = "permission_error"
)

// APIError represents a structured API error with type, code, param, and message.
// Code carries the registry error tag (e.g. "doesnotexist") when one applies.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates an APIError for requests that cannot run against
// the current state (for example an uninitialized registry).
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// NewAuthenticationError creates an APIError for missing or invalid credentials.
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeAuthentication,
		Message: message,
	}
}

// NewPermissionError creates an APIError for authenticated callers that may
// not perform the request.
func NewPermissionError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypePermission,
		Message: message,
	}
}
