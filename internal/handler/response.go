package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/service"
)

// APIError is an error response with its HTTP status.
type APIError struct {
	Status  int
	Error   string
	Message string
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Common API errors.
var (
	ErrRouteNotFound = APIError{
		Status:  http.StatusNotFound,
		Error:   "Route not found",
		Message: "The requested endpoint does not exist",
	}
	ErrMethodNotAllowed = APIError{
		Status:  http.StatusMethodNotAllowed,
		Error:   "Method not allowed",
		Message: "The requested method is not supported for this endpoint",
	}
	ErrFileTooLarge = APIError{
		Status:  http.StatusBadRequest,
		Error:   "File too large",
		Message: "File size exceeds the maximum limit",
	}
	ErrInvalidBody = APIError{
		Status:  http.StatusBadRequest,
		Error:   "Invalid request body",
		Message: "The request body must be valid JSON",
	}
	ErrInternal = APIError{
		Status:  http.StatusInternalServerError,
		Error:   "Internal server error",
		Message: "Something went wrong on the server",
	}
)

// errorMapping maps service and domain errors to API errors. The first
// match wins; Message is replaced by the error text unless fixed is set.
var errorMapping = []struct {
	err   error
	api   APIError
	fixed bool
}{
	{service.ErrMissingFields, APIError{Status: http.StatusBadRequest, Error: "Missing required fields"}, false},
	{service.ErrMissingCredentials, APIError{Status: http.StatusBadRequest, Error: "Missing credentials", Message: "Email and password are required"}, true},
	{service.ErrInvalidEmail, APIError{Status: http.StatusBadRequest, Error: "Invalid email"}, false},
	{domain.ErrUserAlreadyExists, APIError{Status: http.StatusBadRequest, Error: "User already exists"}, false},
	{domain.ErrInvalidCredentials, APIError{Status: http.StatusUnauthorized, Error: "Invalid credentials", Message: "Email or password is incorrect"}, true},
	{domain.ErrNoFile, APIError{Status: http.StatusBadRequest, Error: "No file uploaded", Message: "Please select a file to upload"}, true},
	{domain.ErrFileTypeNotAllowed, APIError{Status: http.StatusBadRequest, Error: "File type not allowed"}, false},
	{domain.ErrFileTooLarge, ErrFileTooLarge, true},
	{service.ErrUploadFailed, APIError{Status: http.StatusInternalServerError, Error: "Upload failed"}, false},
}

// mapError converts err to an API error. Messages of 5xx errors are
// replaced by a generic text when production is set.
func mapError(err error, production bool) APIError {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		api := m.api
		if !m.fixed {
			api.Message = err.Error()
		}
		if production && api.Status >= http.StatusInternalServerError {
			api.Message = "Something went wrong"
		}
		return api
	}

	api := ErrInternal
	if !production {
		api.Message = err.Error()
	}
	return api
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, message string, data any) {
	body := map[string]any{"success": true, "data": data}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

// writeAPIError writes the JSON error envelope.
func writeAPIError(w http.ResponseWriter, e APIError) {
	writeJSON(w, e.Status, errorBody{
		Success: false,
		Error:   e.Error,
		Message: e.Message,
	})
}

// writeServiceError maps err and writes it, logging server-side failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error, production bool) {
	api := mapError(err, production)
	if api.Status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeAPIError(w, api)
}
