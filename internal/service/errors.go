// Package service provides the request procedures of Cloudidada: account
// registration and login, API key resolution, uploads, listings and stats.
package service

import "errors"

// Common service errors.
var (
	// Validation errors
	ErrMissingFields      = errors.New("email, password, and userName are required")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidEmail       = errors.New("invalid email format")

	// Upload errors
	ErrUploadFailed = errors.New("upload failed")

	// Provisioning errors
	ErrProvisionFailed = errors.New("database initialization failed")

	// General errors
	ErrInternalError = errors.New("internal server error")
)
