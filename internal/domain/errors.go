// Package domain contains the core business entities for Cloudidada.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserAlreadyExists indicates a user with the same email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ===========================================
	// API Key Errors
	// ===========================================

	// ErrInvalidAPIKey indicates the key is unknown and cannot be provisioned.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ===========================================
	// File Errors
	// ===========================================

	// ErrNoFile indicates the upload request carried no file part.
	ErrNoFile = errors.New("no file uploaded")

	// ErrFileTypeNotAllowed indicates the MIME type is outside the allow-list.
	ErrFileTypeNotAllowed = errors.New("file type not allowed")

	// ErrFileTooLarge indicates the upload exceeds the configured maximum.
	ErrFileTooLarge = errors.New("file too large")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., user id, filename).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
