// Package auth authenticates API clients by API key and issues login tokens.
package auth

import "errors"

// Authentication errors.
var (
	// ErrInvalidToken indicates a token that failed verification or has expired.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSecret indicates the token issuer was created without a signing secret.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)
