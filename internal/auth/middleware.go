package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/domain"
)

// APIKeyHeader carries the client API key.
const APIKeyHeader = "x-api-key"

type contextKey int

const userContextKey contextKey = iota

// UserResolver maps an API key to its user.
// It returns domain.ErrInvalidAPIKey for keys that are not accepted.
type UserResolver interface {
	ResolveAPIKey(ctx context.Context, apiKey string) (*domain.User, error)
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(*domain.User)
	return u, ok && u != nil
}

// APIKeyMiddleware authenticates requests by the x-api-key header.
func APIKeyMiddleware(resolver UserResolver, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				writeAuthError(w, http.StatusUnauthorized, "API key required", "Provide your API key in the x-api-key header")
				return
			}

			user, err := resolver.ResolveAPIKey(r.Context(), apiKey)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrInvalidAPIKey):
				logger.Debug().Str("path", r.URL.Path).Msg("rejected API key")
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key", "The API key is not recognized")
				return
			default:
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("API key authentication failed")
				writeAuthError(w, http.StatusInternalServerError, "Authentication failed", "Could not verify the API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// writeAuthError writes the JSON error envelope used by the API.
func writeAuthError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errMsg,
		"message": message,
	})
}
