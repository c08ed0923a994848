package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/proxified/pkg/api"
	"github.com/rhuss/proxified/pkg/registry"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeConflict:
		return http.StatusConflict
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case api.ErrorTypePermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorFromRegistry converts a registry failure into an APIError.
// Errors that already are APIErrors pass through.
func APIErrorFromRegistry(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var re *registry.Error
	if !errors.As(err, &re) {
		return api.NewServerError(err.Error())
	}

	switch {
	case errors.Is(err, registry.ErrInvalid):
		return api.NewInvalidRequestError("id", re.Message)
	case errors.Is(err, registry.ErrNoRecord):
		return api.NewNotFoundError(string(re.Tag), re.Message)
	case errors.Is(err, registry.ErrUninitialized):
		return api.NewConflictError(string(re.Tag), "registry is not initialized; set a container with initialize=true first")
	default:
		// Internal details stay in the logs.
		apiErr := api.NewServerError("registry storage failure")
		apiErr.Code = string(re.Tag)
		return apiErr
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
